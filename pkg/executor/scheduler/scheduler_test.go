/*
Copyright 2025 The TensorRT-LLM Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduler

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/backlog"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/capacity"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/config"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
	logutil "github.com/StanleySun639/TensorRT-LLM/pkg/executor/util/logging"
)

var logger = logutil.NewTestLogger()

func newScheduler(numRanks, perRankCapacity int) *Scheduler {
	return New(&config.Config{
		MaxBatchSize:             8,
		MaxBeamWidth:             1,
		MaxActiveRequestsPerRank: perRankCapacity,
		NumRanks:                 numRanks,
	}, logger)
}

func pinned(rank int) *types.SchedulingHint {
	return &types.SchedulingHint{TargetRank: rank}
}

func relaxed(rank int) *types.SchedulingHint {
	return &types.SchedulingHint{TargetRank: rank, Relaxed: true}
}

func workItem(id types.RequestID, hint *types.SchedulingHint) types.Item {
	return types.Item{ID: id, Kind: types.KindNormal, Request: struct{}{}, Hint: hint}
}

func idsByRank(assignments map[int][]types.Item) map[int][]types.RequestID {
	out := make(map[int][]types.RequestID, len(assignments))
	for rank, items := range assignments {
		ids := []types.RequestID{}
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		out[rank] = ids
	}
	return out
}

func TestTakeFromBacklog(t *testing.T) {
	tests := []struct {
		name          string
		backlogSize   int
		n             int
		wantTaken     int
		wantRemaining int
	}{
		{name: "empty backlog", backlogSize: 0, n: 5, wantTaken: 0, wantRemaining: 0},
		{name: "negative count", backlogSize: 3, n: -1, wantTaken: 0, wantRemaining: 3},
		{name: "zero count", backlogSize: 3, n: 0, wantTaken: 0, wantRemaining: 3},
		{name: "more than available", backlogSize: 3, n: 10, wantTaken: 3, wantRemaining: 0},
		{name: "partial take", backlogSize: 5, n: 3, wantTaken: 3, wantRemaining: 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := backlog.New()
			for i := 0; i < test.backlogSize; i++ {
				b.Append(workItem(types.RequestID(i), nil))
			}

			taken := TakeFromBacklog(b, test.n)

			assert.Len(t, taken, test.wantTaken)
			assert.Equal(t, test.wantRemaining, b.Len())
			for i, item := range taken {
				assert.Equal(t, types.RequestID(i), item.ID, "items must come off the front in order")
			}
		})
	}
}

func TestIsEligible(t *testing.T) {
	s := newScheduler(4, 8)

	t.Run("no hint is always eligible without mutation", func(t *testing.T) {
		tracker := capacity.NewTracker([]int{0, 0, 0, 0}, 8)
		assert.True(t, s.IsEligible(workItem(1, nil), tracker))
		assert.Equal(t, []int{0, 0, 0, 0}, tracker.Snapshot())
	})

	t.Run("relaxed hint is always eligible without mutation", func(t *testing.T) {
		tracker := capacity.NewTracker([]int{0, 0, 0, 0}, 8)
		assert.True(t, s.IsEligible(workItem(2, relaxed(0)), tracker))
		assert.Equal(t, []int{0, 0, 0, 0}, tracker.Snapshot())
	})

	t.Run("pinned hint reserves capacity on acceptance", func(t *testing.T) {
		tracker := capacity.NewTracker([]int{0, 0, 0, 0}, 8)
		assert.True(t, s.IsEligible(workItem(3, pinned(1)), tracker))
		assert.Equal(t, []int{0, 1, 0, 0}, tracker.Snapshot())
	})

	t.Run("pinned hint to a full rank is rejected without mutation", func(t *testing.T) {
		tracker := capacity.NewTracker([]int{8, 0, 0, 0}, 8)
		assert.False(t, s.IsEligible(workItem(4, pinned(0)), tracker))
		assert.Equal(t, []int{8, 0, 0, 0}, tracker.Snapshot())
	})
}

func TestTakeFromBacklogRankAware(t *testing.T) {
	t.Run("unhinted items come off the front in order", func(t *testing.T) {
		s := newScheduler(4, 8)
		b := backlog.New()
		for i := 0; i < 5; i++ {
			b.Append(workItem(types.RequestID(i), nil))
		}
		tracker := capacity.NewTracker([]int{2, 1, 3, 0}, 8)

		taken := s.TakeFromBacklogRankAware(b, 3, tracker)

		require.Len(t, taken, 3)
		assert.Equal(t, types.RequestID(0), taken[0].ID)
		assert.Equal(t, types.RequestID(2), taken[2].ID)
		assert.Equal(t, 2, b.Len())
	})

	t.Run("pinned items to a full rank are skipped in place", func(t *testing.T) {
		s := newScheduler(4, 8)
		b := backlog.New()
		b.Append(workItem(1, pinned(0)))
		b.Append(workItem(2, relaxed(1)))
		b.Append(workItem(3, nil))
		tracker := capacity.NewTracker([]int{8, 1, 3, 0}, 8)

		taken := s.TakeFromBacklogRankAware(b, 3, tracker)

		require.Len(t, taken, 2)
		assert.Equal(t, types.RequestID(2), taken[0].ID)
		assert.Equal(t, types.RequestID(3), taken[1].ID)
		require.Equal(t, 1, b.Len())
		front, ok := b.PeekFront()
		require.True(t, ok)
		assert.Equal(t, types.RequestID(1), front.ID, "skipped pinned item must stay in place")
	})

	t.Run("pull stops once n items are collected", func(t *testing.T) {
		s := newScheduler(4, 8)
		b := backlog.New()

		// Five pinned plus five relaxed items per rank, interleaved.
		id := types.RequestID(0)
		for rank := 0; rank < 4; rank++ {
			for i := 0; i < 5; i++ {
				b.Append(workItem(id, pinned(rank)))
				id++
				b.Append(workItem(id, relaxed(rank)))
				id++
			}
		}

		active := []int{5, 6, 3, 7}
		tracker := capacity.NewTracker(active, 8)
		available := 8*4 - (5 + 6 + 3 + 7)

		taken := s.TakeFromBacklogRankAware(b, available, tracker)
		assert.Len(t, taken, available)
	})
}

func TestScheduleAcrossRanks_Pinned(t *testing.T) {
	t.Run("pinned items land on their target rank", func(t *testing.T) {
		s := newScheduler(4, 8)
		active := []int{2, 1, 3, 0}
		tracker := capacity.NewTracker(active, 8)

		assignments, deferred := s.ScheduleAcrossRanks(
			[]types.Item{workItem(1, pinned(0)), workItem(2, pinned(0))}, tracker)

		assert.Empty(t, deferred)
		assert.Equal(t, []types.RequestID{1, 2}, idsByRank(assignments)[0])
		assert.Equal(t, 4, active[0])
	})

	t.Run("pinned items to other ranks reserve their capacity", func(t *testing.T) {
		s := newScheduler(4, 8)
		active := []int{2, 1, 3, 0}
		tracker := capacity.NewTracker(active, 8)

		assignments, deferred := s.ScheduleAcrossRanks(
			[]types.Item{workItem(1, pinned(1)), workItem(2, pinned(2))}, tracker)

		assert.Empty(t, deferred)
		assert.Empty(t, assignments[0])
		assert.Equal(t, 2, active[1])
		assert.Equal(t, 4, active[2])
	})

	t.Run("pinned item to a full rank is deferred with capacity untouched", func(t *testing.T) {
		s := newScheduler(4, 8)
		active := []int{8, 1, 3, 0}
		tracker := capacity.NewTracker(active, 8)

		assignments, deferred := s.ScheduleAcrossRanks([]types.Item{workItem(1, pinned(0))}, tracker)

		assert.Empty(t, assignments[0])
		require.Len(t, deferred, 1)
		assert.Equal(t, types.RequestID(1), deferred[0].ID)
		assert.Equal(t, 8, active[0])
	})
}

func TestScheduleAcrossRanks_Relaxed(t *testing.T) {
	t.Run("relaxed items with target capacity stay on their target", func(t *testing.T) {
		s := newScheduler(4, 8)
		tracker := capacity.NewTracker([]int{2, 1, 3, 0}, 8)

		assignments, deferred := s.ScheduleAcrossRanks(
			[]types.Item{workItem(1, relaxed(0)), workItem(2, relaxed(1))}, tracker)

		assert.Empty(t, deferred)
		assert.Equal(t, []types.RequestID{1}, idsByRank(assignments)[0])
		assert.Equal(t, []types.RequestID{2}, idsByRank(assignments)[1])
	})

	t.Run("relaxed item falls back to the least loaded rank", func(t *testing.T) {
		s := newScheduler(4, 8)
		tracker := capacity.NewTracker([]int{8, 1, 3, 0}, 8)

		assignments, deferred := s.ScheduleAcrossRanks([]types.Item{workItem(1, relaxed(0))}, tracker)

		assert.Empty(t, deferred)
		assert.Empty(t, assignments[0])
		assert.Equal(t, []types.RequestID{1}, idsByRank(assignments)[3])
	})
}

func TestScheduleAcrossRanks_EmptyInput(t *testing.T) {
	s := newScheduler(4, 8)
	tracker := capacity.NewTracker([]int{2, 1, 3, 0}, 8)

	assignments, deferred := s.ScheduleAcrossRanks(nil, tracker)

	assert.Empty(t, deferred)
	require.Len(t, assignments, 4)
	for rank := 0; rank < 4; rank++ {
		assert.Empty(t, assignments[rank])
	}
}

func TestExpectedActiveRequests(t *testing.T) {
	s := newScheduler(4, 8)
	tracker := capacity.NewTracker([]int{2, 1, 3, 0}, 8)

	s.ScheduleAcrossRanks([]types.Item{workItem(1, relaxed(0)), workItem(2, relaxed(1))}, tracker)

	// sum=6, 6+2=8, ceil(8/4)=2, max(2, 3)=3.
	assert.Equal(t, 3, s.ExpectedActiveRequests())
}

// TestRankAwareScheduling drives the full pull-then-schedule cycle against the scenarios the
// admission layer must reproduce exactly.
func TestRankAwareScheduling(t *testing.T) {
	type hintSpec struct {
		rank    int // -1 means no hint
		relaxed bool
	}
	unhinted := func(n int) []hintSpec {
		specs := make([]hintSpec, n)
		for i := range specs {
			specs[i] = hintSpec{rank: -1}
		}
		return specs
	}

	tests := []struct {
		name            string
		perRankCapacity int
		active          []int
		requests        []hintSpec
		want            map[int][]types.RequestID
	}{
		{
			name:            "balanced distribution of unhinted requests",
			perRankCapacity: 3,
			active:          []int{0, 0, 0, 0},
			requests:        unhinted(7),
			want:            map[int][]types.RequestID{0: {0, 4}, 1: {1, 5}, 2: {2, 6}, 3: {3}},
		},
		{
			name:            "balanced distribution over unevenly loaded ranks",
			perRankCapacity: 3,
			active:          []int{1, 2, 3, 0},
			requests:        unhinted(13),
			want:            map[int][]types.RequestID{0: {1, 4}, 1: {2}, 2: {}, 3: {0, 3, 5}},
		},
		{
			name:            "limited by max active per rank",
			perRankCapacity: 3,
			active:          []int{0, 0, 0, 0},
			requests:        unhinted(13),
			want:            map[int][]types.RequestID{0: {0, 4, 8}, 1: {1, 5, 9}, 2: {2, 6, 10}, 3: {3, 7, 11}},
		},
		{
			name:            "empty request list",
			perRankCapacity: 3,
			active:          []int{3, 3, 3, 0},
			requests:        nil,
			want:            map[int][]types.RequestID{0: {}, 1: {}, 2: {}, 3: {}},
		},
		{
			name:            "full rank drops its pinned request, relaxed one falls back",
			perRankCapacity: 3,
			active:          []int{3, 1, 3, 0},
			requests:        []hintSpec{{rank: 0}, {rank: 0, relaxed: true}},
			want:            map[int][]types.RequestID{0: {}, 1: {}, 2: {}, 3: {1}},
		},
		{
			name:            "single free slot skips the pinned request",
			perRankCapacity: 3,
			active:          []int{3, 2, 3, 3},
			requests:        []hintSpec{{rank: 0}, {rank: 0, relaxed: true}},
			want:            map[int][]types.RequestID{0: {}, 1: {1}, 2: {}, 3: {}},
		},
		{
			name:            "pinned requests target ranks with room",
			perRankCapacity: 3,
			active:          []int{2, 1, 3, 0},
			requests:        []hintSpec{{rank: 1}, {rank: 3}},
			want:            map[int][]types.RequestID{0: {}, 1: {0}, 2: {}, 3: {1}},
		},
		{
			name:            "relaxed requests overflow to the one rank with room",
			perRankCapacity: 3,
			active:          []int{3, 3, 3, 1},
			requests: []hintSpec{
				{rank: 0, relaxed: true}, {rank: 1, relaxed: true}, {rank: 2, relaxed: true},
			},
			want: map[int][]types.RequestID{0: {}, 1: {}, 2: {}, 3: {0, 1}},
		},
		{
			name:            "mixed pinned and relaxed placement order",
			perRankCapacity: 3,
			active:          []int{3, 3, 3, 0},
			requests:        []hintSpec{{rank: 0}, {rank: 1, relaxed: true}, {rank: 3}},
			want:            map[int][]types.RequestID{0: {}, 1: {}, 2: {}, 3: {2, 1}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			numRanks := len(test.active)
			s := newScheduler(numRanks, test.perRankCapacity)
			b := backlog.New()
			for i, spec := range test.requests {
				var hint *types.SchedulingHint
				if spec.rank >= 0 {
					hint = &types.SchedulingHint{TargetRank: spec.rank, Relaxed: spec.relaxed}
				}
				b.Append(workItem(types.RequestID(i), hint))
			}

			tracker := capacity.NewTracker(test.active, test.perRankCapacity)
			available := test.perRankCapacity*numRanks - tracker.TotalActive()

			taken := s.TakeFromBacklogRankAware(b, available, tracker)
			assignments, _ := s.ScheduleAcrossRanks(taken, tracker)

			if diff := cmp.Diff(test.want, idsByRank(assignments)); diff != "" {
				t.Errorf("Unexpected rank assignments (-want +got):\n%s", diff)
			}
			for rank := 0; rank < numRanks; rank++ {
				assert.LessOrEqual(t, tracker.ActiveOn(rank), test.perRankCapacity,
					"rank %d exceeded its capacity", rank)
			}
		})
	}
}

// TestFallbackRoundRobin verifies the strict round-robin spread of unhinted items over
// identically loaded ranks across repeated scheduling calls.
func TestFallbackRoundRobin(t *testing.T) {
	s := newScheduler(4, 100)
	tracker := capacity.NewTracker([]int{0, 0, 0, 0}, 100)

	for round := 0; round < 3; round++ {
		items := make([]types.Item, 4)
		for i := range items {
			items[i] = workItem(types.RequestID(round*4+i), nil)
		}
		assignments, deferred := s.ScheduleAcrossRanks(items, tracker)
		assert.Empty(t, deferred)
		for rank := 0; rank < 4; rank++ {
			require.Len(t, assignments[rank], 1, "round %d", round)
			assert.Equal(t, types.RequestID(round*4+rank), assignments[rank][0].ID)
		}
	}
}

func TestScheduleAcrossRanks_AllRanksFull(t *testing.T) {
	s := newScheduler(2, 1)
	tracker := capacity.NewTracker([]int{1, 1}, 1)

	assignments, deferred := s.ScheduleAcrossRanks(
		[]types.Item{workItem(1, nil), workItem(2, relaxed(0))}, tracker)

	assert.Empty(t, assignments[0])
	assert.Empty(t, assignments[1])
	require.Len(t, deferred, 2)
	assert.Equal(t, types.RequestID(1), deferred[0].ID)
	assert.Equal(t, types.RequestID(2), deferred[1].ID)
}
