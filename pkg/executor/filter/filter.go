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

// Package filter implements the admission filter: it consumes drained ingress items, separates
// shutdown and cancellation signals from normal work, and folds cancellations into a
// pending-cancellation set used to purge the backlog.
package filter

import (
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/backlog"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/config"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
	logutil "github.com/StanleySun639/TensorRT-LLM/pkg/executor/util/logging"
)

// Filter validates drained items and tracks cancellation and shutdown signals. It is owned by
// the single consumer goroutine that runs scheduling ticks and needs no locking.
type Filter struct {
	maxBeamWidth    int
	isDisaggregated bool
	logger          logr.Logger

	canceledIDs       sets.Set[types.RequestID]
	shutdownRequested bool
}

// New creates a Filter for the given configuration.
func New(cfg *config.Config, logger logr.Logger) *Filter {
	return &Filter{
		maxBeamWidth:    cfg.MaxBeamWidth,
		isDisaggregated: cfg.IsDisaggregated,
		logger:          logger.WithName("admission-filter"),
		canceledIDs:     sets.New[types.RequestID](),
	}
}

// ValidateAndFilter consumes drained items. The shutdown sentinel sets the persistent
// shutdown-requested flag and is excluded from the result; a cancellation folds its id into
// the pending-cancellation set and is excluded; all other items pass through unchanged after
// shape validation. Validation failures fail fast.
func (f *Filter) ValidateAndFilter(items []types.Item) ([]types.Item, error) {
	valid := make([]types.Item, 0, len(items))
	for _, item := range items {
		switch item.Kind {
		case types.KindShutdown:
			f.shutdownRequested = true
			f.logger.V(logutil.VERBOSE).Info("Observed shutdown sentinel")
		case types.KindCancel:
			f.canceledIDs.Insert(item.ID)
			f.logger.V(logutil.DEBUG).Info("Recorded cancellation", "requestID", item.ID)
		case types.KindNormal:
			if err := f.validateShape(item); err != nil {
				return nil, err
			}
			valid = append(valid, item)
		default:
			return nil, fmt.Errorf("unrecognized item kind %v for request id %d", item.Kind, item.ID)
		}
	}
	return valid, nil
}

// PurgeCanceled removes every backlog item whose id is in the pending-cancellation set,
// preserving the relative order of the survivors, and returns the purged items. The set itself
// is not cleared; the execution engine still needs it to honor cancellations of already
// admitted requests. Use ClearCanceled once it has been consumed.
func (f *Filter) PurgeCanceled(b *backlog.Backlog) []types.Item {
	if f.canceledIDs.Len() == 0 {
		return nil
	}
	purged := b.RemoveIf(func(item types.Item) bool {
		return f.canceledIDs.Has(item.ID)
	})
	if len(purged) > 0 {
		f.logger.V(logutil.DEBUG).Info("Purged canceled items from backlog", "count", len(purged))
	}
	return purged
}

// ShutdownRequested reports whether the shutdown sentinel has been observed. The flag is
// persistent; it never resets.
func (f *Filter) ShutdownRequested() bool {
	return f.shutdownRequested
}

// CanceledIDs returns the pending-cancellation set as a sorted slice.
func (f *Filter) CanceledIDs() []types.RequestID {
	return sets.List(f.canceledIDs)
}

// CanceledCount returns the size of the pending-cancellation set.
func (f *Filter) CanceledCount() int {
	return f.canceledIDs.Len()
}

// ClearCanceled empties the pending-cancellation set.
func (f *Filter) ClearCanceled() {
	f.canceledIDs = sets.New[types.RequestID]()
}

// validateShape re-checks request shape on the consumer side. In disaggregated serving the
// generation side receives transferred context-phase requests whose beam width was validated
// by the context instance, so the check is skipped there.
func (f *Filter) validateShape(item types.Item) error {
	if f.isDisaggregated {
		return nil
	}
	if bw, ok := item.Request.(types.BeamWidthProvider); ok {
		if width := bw.BeamWidth(); width > f.maxBeamWidth {
			return fmt.Errorf("request %d: %w: %d > %d",
				item.ID, types.ErrBeamWidthExceeded, width, f.maxBeamWidth)
		}
	}
	return nil
}
