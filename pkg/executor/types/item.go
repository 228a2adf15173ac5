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

// Package types defines the core data types that flow through the executor's admission layer:
// the queue item variant (normal work, cancellation, shutdown), rank scheduling hints, and the
// sentinel errors shared across the admission packages.
package types

import "math"

// RequestID uniquely identifies an accepted submission. IDs are issued by the owning rank in
// strictly increasing order with no gaps; the first `maxBatchSize` values are reserved for
// internal warm-up requests and are never assigned to external submissions.
type RequestID uint64

// ShutdownID is the reserved sentinel id carried by a shutdown item. It is never issued to a
// submission.
const ShutdownID = RequestID(math.MaxUint64)

// Kind discriminates the three item variants. Exactly one set of fields is valid per kind; the
// constructors below are the only supported way to build an Item.
type Kind int

const (
	// KindNormal is a regular work item carrying a request payload.
	KindNormal Kind = iota
	// KindCancel carries the id of a previously issued submission to cancel. It has no payload
	// and never mutates capacity accounting.
	KindCancel
	// KindShutdown is the terminal sentinel. It has no payload and carries ShutdownID.
	KindShutdown
)

// String returns a human-readable string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "Normal"
	case KindCancel:
		return "Cancel"
	case KindShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Request is the opaque, caller-supplied inference request payload. The admission layer never
// interprets it beyond the optional capabilities below.
type Request any

// BeamWidthProvider is implemented by requests whose sampling configuration carries a beam
// width. The admission filter validates it against the configured maximum.
type BeamWidthProvider interface {
	BeamWidth() int
}

// SchedulingHintProvider is implemented by requests that carry a rank placement preference.
// Returning nil means "no preference, use load-balanced placement".
type SchedulingHintProvider interface {
	SchedulingHint() *SchedulingHint
}

// SchedulingHint expresses a caller's rank placement preference for data-parallel serving.
type SchedulingHint struct {
	// TargetRank is the preferred data-parallel rank.
	TargetRank int
	// Relaxed permits fallback to another rank when TargetRank has no spare capacity. When
	// false the request is pinned: it is placed on TargetRank or not at all this tick.
	Relaxed bool
}

// Pinned reports whether the hint mandates its target rank.
func (h *SchedulingHint) Pinned() bool {
	return h != nil && !h.Relaxed
}

// Item is the unit of work flowing through the ingress queue and the pending backlog. It is a
// tagged variant: Kind determines which fields are meaningful.
type Item struct {
	// ID is the submission id (KindNormal), the id being canceled (KindCancel), or ShutdownID.
	ID RequestID
	// Kind is the variant tag.
	Kind Kind
	// Request is the payload. Nil unless Kind is KindNormal.
	Request Request
	// Hint is the rank placement preference, or nil for load-balanced placement. Only
	// meaningful for KindNormal.
	Hint *SchedulingHint
	// QueryTokens optionally carries query token ids alongside the request payload.
	QueryTokens []int32
}

// NewItem builds a normal work item. The scheduling hint is derived from the request when it
// implements SchedulingHintProvider.
func NewItem(id RequestID, req Request) Item {
	item := Item{ID: id, Kind: KindNormal, Request: req}
	if hp, ok := req.(SchedulingHintProvider); ok {
		item.Hint = hp.SchedulingHint()
	}
	return item
}

// NewItemWithQuery builds a normal work item carrying query token ids.
func NewItemWithQuery(id RequestID, req Request, queryTokens []int32) Item {
	item := NewItem(id, req)
	item.QueryTokens = queryTokens
	return item
}

// NewCancelItem builds a cancellation for the given previously issued id.
func NewCancelItem(id RequestID) Item {
	return Item{ID: id, Kind: KindCancel}
}

// NewShutdownItem builds the shutdown sentinel.
func NewShutdownItem() Item {
	return Item{ID: ShutdownID, Kind: KindShutdown}
}

// IsNormal reports whether the item is a regular work item.
func (i Item) IsNormal() bool { return i.Kind == KindNormal }

// IsCancel reports whether the item is a cancellation.
func (i Item) IsCancel() bool { return i.Kind == KindCancel }

// IsShutdown reports whether the item is the shutdown sentinel.
func (i Item) IsShutdown() bool { return i.Kind == KindShutdown }
