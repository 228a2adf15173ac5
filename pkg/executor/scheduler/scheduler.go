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

// Package scheduler implements the admission scheduler: each tick it pulls a bounded number of
// eligible items from the pending backlog and, when rank-aware balancing is enabled,
// partitions them across data-parallel ranks.
//
// Placement is two-tier. Pinned requests have a hard guarantee: they are placed on their
// target rank or not at all in a given tick. Hinted-relaxed requests get a soft preference
// with fallback, and unhinted requests get pure load-balanced placement. No rank ever exceeds
// its capacity as a result of a scheduling pass.
package scheduler

import (
	"sort"

	"github.com/go-logr/logr"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/backlog"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/capacity"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/config"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
	logutil "github.com/StanleySun639/TensorRT-LLM/pkg/executor/util/logging"
)

// TakeFromBacklog removes up to min(max(n, 0), backlog length) items from the front of the
// backlog and returns them in order. This is the single-rank admission path, used when
// rank-aware balancing is disabled.
func TakeFromBacklog(b *backlog.Backlog, n int) []types.Item {
	return b.TakeFront(n)
}

// Scheduler is the rank-aware admission scheduler. It is owned by the single consumer
// goroutine that runs scheduling ticks.
type Scheduler struct {
	numRanks        int
	perRankCapacity int
	logger          logr.Logger

	// expectedActive is advisory telemetry recomputed on every ScheduleAcrossRanks call. It
	// must never gate admission decisions.
	expectedActive int
}

// New creates a rank-aware Scheduler from the configuration.
func New(cfg *config.Config, logger logr.Logger) *Scheduler {
	return &Scheduler{
		numRanks:        cfg.NumRanks,
		perRankCapacity: cfg.MaxActiveRequestsPerRank,
		logger:          logger.WithName("admission-scheduler"),
	}
}

// IsEligible reports whether the item may be pulled from the backlog this tick. Items without
// a hint and items with a relaxed hint are always eligible; their placement is deferred to the
// balancing pass and no capacity is touched here. A pinned item is eligible only while its
// target rank has spare capacity, and eligibility immediately reserves that capacity so a
// single drain pass cannot over-admit onto the rank.
func (s *Scheduler) IsEligible(item types.Item, tracker *capacity.Tracker) bool {
	if !item.Hint.Pinned() {
		return true
	}
	if !tracker.HasCapacity(item.Hint.TargetRank) {
		return false
	}
	tracker.Reserve(item.Hint.TargetRank)
	return true
}

// TakeFromBacklogRankAware scans the backlog from the front and removes eligible items in
// order of appearance until n items have been collected or the backlog is exhausted.
// Ineligible items are left in place and scanning continues past them; they may become
// eligible on a later tick as capacity frees up.
func (s *Scheduler) TakeFromBacklogRankAware(b *backlog.Backlog, n int, tracker *capacity.Tracker) []types.Item {
	return b.TakeWhere(n, func(item types.Item) bool {
		return s.IsEligible(item, tracker)
	})
}

// ScheduleAcrossRanks partitions items across ranks. It returns the per-rank assignment, with
// every rank mapped (possibly to an empty slice), plus the items that could not be placed this
// tick; the caller is responsible for returning those to the pending backlog.
//
// The pass proceeds in arrival order within three tiers:
//  1. Pinned items are assigned to their target rank, re-validating capacity even though the
//     eligibility pre-filter already reserved it, so the pass is safe to invoke independently.
//     A pinned item whose target is full is deferred untouched; it never migrates.
//  2. Hinted-relaxed items are assigned to their target rank while it has capacity; otherwise
//     they join the fallback pool at their arrival position.
//  3. The fallback pool (deferred hinted-relaxed and unhinted items, in combined arrival
//     order) is spread round-robin over the ranks ordered by ascending active count at the
//     start of the pass (ties by rank index), skipping ranks that reach capacity.
func (s *Scheduler) ScheduleAcrossRanks(
	items []types.Item,
	tracker *capacity.Tracker,
) (assignments map[int][]types.Item, deferred []types.Item) {
	s.expectedActive = computeExpectedActive(tracker, len(items), s.numRanks)

	assignments = make(map[int][]types.Item, s.numRanks)
	for rank := 0; rank < s.numRanks; rank++ {
		assignments[rank] = []types.Item{}
	}

	// Tier 1: pinned items, in arrival order. The full pinned pass runs before any relaxed
	// placement so a relaxed arrival cannot steal the last slot of a pinned target.
	for _, item := range items {
		if !item.Hint.Pinned() {
			continue
		}
		if tracker.HasCapacity(item.Hint.TargetRank) {
			tracker.Reserve(item.Hint.TargetRank)
			assignments[item.Hint.TargetRank] = append(assignments[item.Hint.TargetRank], item)
			continue
		}
		// Target full: deferred to a future tick, never migrated.
		deferred = append(deferred, item)
		s.logger.V(logutil.DEBUG).Info("Pinned request deferred, target rank at capacity",
			"requestID", item.ID, "targetRank", item.Hint.TargetRank)
	}

	// Tier 2: hinted-relaxed items, in arrival order. Unplaceable ones fall through to the
	// fallback pool at their original position relative to the unhinted items.
	var pool []types.Item
	for _, item := range items {
		if item.Hint.Pinned() {
			continue
		}
		if item.Hint != nil && tracker.HasCapacity(item.Hint.TargetRank) {
			tracker.Reserve(item.Hint.TargetRank)
			assignments[item.Hint.TargetRank] = append(assignments[item.Hint.TargetRank], item)
			continue
		}
		pool = append(pool, item)
	}

	// Tier 3: load-balanced fallback over a fixed rank cycle ordered by the active counts at
	// the start of this pass. The fixed cycle is what yields a strict round-robin spread for
	// identically loaded ranks across repeated calls.
	deferred = append(deferred, s.balanceAcrossRanks(pool, tracker, assignments)...)
	// Ids are issued in arrival order, so this restores the deferred items' relative arrival
	// order across the pinned and fallback tiers before they rejoin the backlog.
	sort.Slice(deferred, func(i, j int) bool { return deferred[i].ID < deferred[j].ID })
	return assignments, deferred
}

// balanceAcrossRanks assigns pool items round-robin over the rank cycle, skipping ranks with
// no spare capacity, and returns the items left over once every rank is full.
func (s *Scheduler) balanceAcrossRanks(
	pool []types.Item,
	tracker *capacity.Tracker,
	assignments map[int][]types.Item,
) []types.Item {
	if len(pool) == 0 {
		return nil
	}

	cycle := make([]int, s.numRanks)
	for rank := range cycle {
		cycle[rank] = rank
	}
	snapshot := tracker.Snapshot()
	sort.SliceStable(cycle, func(i, j int) bool {
		if snapshot[cycle[i]] != snapshot[cycle[j]] {
			return snapshot[cycle[i]] < snapshot[cycle[j]]
		}
		return cycle[i] < cycle[j]
	})

	next := 0
	for i, item := range pool {
		placed := false
		for probes := 0; probes < s.numRanks; probes++ {
			rank := cycle[next%s.numRanks]
			next++
			if tracker.HasCapacity(rank) {
				tracker.Reserve(rank)
				assignments[rank] = append(assignments[rank], item)
				placed = true
				break
			}
		}
		if !placed {
			// Every rank is full; nothing later in the pool can be placed either.
			return pool[i:]
		}
	}
	return nil
}

// ExpectedActiveRequests returns the advisory estimate computed by the last
// ScheduleAcrossRanks call: the number of requests each rank is expected to be running once
// the scheduled items land, used for sizing downstream batched execution.
func (s *Scheduler) ExpectedActiveRequests() int {
	return s.expectedActive
}

func computeExpectedActive(tracker *capacity.Tracker, numNew, numRanks int) int {
	balanced := (tracker.TotalActive() + numNew + numRanks - 1) / numRanks
	if maxActive := tracker.MaxActive(); maxActive > balanced {
		return maxActive
	}
	return balanced
}
