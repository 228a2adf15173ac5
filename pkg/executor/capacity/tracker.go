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

// Package capacity provides rank-local active-request bookkeeping for admission decisions.
package capacity

// Tracker tracks the number of active requests per data-parallel rank against a fixed per-rank
// maximum.
//
// The counters slice is borrowed from the caller: the caller initializes it from the
// distributed state at the start of each tick, this module mutates it in place while reserving
// capacity for ranks it admits into, and the caller reads the post-call values back and is
// responsible for broadcasting them across the cluster. The Tracker never copies the slice.
type Tracker struct {
	perRankActive []int
	perRankMax    int
}

// NewTracker wraps the caller's per-rank active counters. Index = rank number.
func NewTracker(perRankActive []int, perRankMax int) *Tracker {
	return &Tracker{perRankActive: perRankActive, perRankMax: perRankMax}
}

// NumRanks returns the number of tracked ranks.
func (t *Tracker) NumRanks() int {
	return len(t.perRankActive)
}

// ActiveOn returns the current active-request count of the given rank.
func (t *Tracker) ActiveOn(rank int) int {
	return t.perRankActive[rank]
}

// HasCapacity reports whether the given rank can accept one more request.
func (t *Tracker) HasCapacity(rank int) bool {
	return t.perRankActive[rank] < t.perRankMax
}

// Reserve increments the active count of the given rank. Callers must check HasCapacity first;
// Reserve itself does not enforce the maximum.
func (t *Tracker) Reserve(rank int) {
	t.perRankActive[rank]++
}

// Release decrements the active count of the given rank.
func (t *Tracker) Release(rank int) {
	t.perRankActive[rank]--
}

// LeastLoaded returns the rank with the smallest active count among ranks with spare capacity,
// ties broken by the smallest rank index. ok is false when every rank is at its maximum.
func (t *Tracker) LeastLoaded() (rank int, ok bool) {
	best := -1
	for r, active := range t.perRankActive {
		if active >= t.perRankMax {
			continue
		}
		if best == -1 || active < t.perRankActive[best] {
			best = r
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// TotalActive returns the sum of active counts across all ranks.
func (t *Tracker) TotalActive() int {
	total := 0
	for _, active := range t.perRankActive {
		total += active
	}
	return total
}

// MaxActive returns the largest per-rank active count.
func (t *Tracker) MaxActive() int {
	max := 0
	for _, active := range t.perRankActive {
		if active > max {
			max = active
		}
	}
	return max
}

// SpareTotal returns the total remaining capacity across all ranks.
func (t *Tracker) SpareTotal() int {
	return t.perRankMax*len(t.perRankActive) - t.TotalActive()
}

// Snapshot returns a copy of the per-rank counters, for telemetry and tests.
func (t *Tracker) Snapshot() []int {
	snapshot := make([]int, len(t.perRankActive))
	copy(snapshot, t.perRankActive)
	return snapshot
}
