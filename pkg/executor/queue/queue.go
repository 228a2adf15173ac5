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

// Package queue implements the ingress queue of the executor's admission layer: a thread-safe,
// multi-producer/single-consumer FIFO accepting submissions, cancellations, and the shutdown
// sentinel.
//
// Id assignment and the corresponding push happen inside a single critical section, so
// interleaved Submit calls from multiple producers never collide or reorder within a call, and
// ids are issued in strictly increasing order with no gaps. Exactly one consumer goroutine may
// call Drain.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/config"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/telemetry"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
	logutil "github.com/StanleySun639/TensorRT-LLM/pkg/executor/util/logging"
)

// Queue is the ingress queue. The zero value is not usable; use New.
type Queue struct {
	// Immutable after construction.
	rank         int
	maxBeamWidth int
	clock        clock.Clock
	recorder     *telemetry.Recorder
	logger       logr.Logger

	// mu guards nextID, active, and items. Every push is atomic with respect to other pushes.
	mu     sync.Mutex
	nextID types.RequestID
	active bool
	items  []types.Item

	// signal wakes a blocked Drain when the first item arrives. Buffered with capacity one;
	// the consumer clears it after each drain.
	signal chan struct{}
}

// New creates an ingress queue for the given configuration. The recorder may be nil when
// latency telemetry is disabled.
func New(cfg *config.Config, clk clock.Clock, recorder *telemetry.Recorder, logger logr.Logger) *Queue {
	return &Queue{
		rank:         cfg.Rank,
		maxBeamWidth: cfg.MaxBeamWidth,
		clock:        clk,
		recorder:     recorder,
		logger:       logger.WithName("ingress-queue"),
		// Real submissions begin at MaxBatchSize; ids below it are reserved for warm-up.
		nextID: types.RequestID(cfg.MaxBatchSize),
		active: true,
		signal: make(chan struct{}, 1),
	}
}

// CanEnqueue reports whether this endpoint currently accepts submissions: only the single
// owning rank does, and only while the queue is active. All other ranks must route submissions
// to the owner through the external transport.
func (q *Queue) CanEnqueue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active && q.rank == config.OwningRank
}

// Submit assigns the next ids to the given requests in order, records their submission times,
// and pushes one item per request. The whole batch is validated first; an invalid request
// rejects the batch and nothing is enqueued. Submitting after Shutdown is a programming error
// and fails with ErrQueueInactive.
func (q *Queue) Submit(requests []types.Request) ([]types.RequestID, error) {
	var verr error
	for i, req := range requests {
		if err := q.validateShape(req); err != nil {
			verr = multierr.Append(verr, fmt.Errorf("request %d: %w", i, err))
		}
	}
	if verr != nil {
		return nil, verr
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkAcceptingLocked(); err != nil {
		return nil, err
	}

	ids := make([]types.RequestID, 0, len(requests))
	for _, req := range requests {
		id := q.nextID
		q.nextID++
		if q.recorder != nil {
			q.recorder.RecordSubmission(id)
		}
		q.pushLocked(types.NewItem(id, req))
		ids = append(ids, id)
	}
	q.logger.V(logutil.TRACE).Info("Enqueued requests", "count", len(ids))
	return ids, nil
}

// SubmitOne submits a single request.
func (q *Queue) SubmitOne(req types.Request) (types.RequestID, error) {
	ids, err := q.Submit([]types.Request{req})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// SubmitWithQuery submits a single request together with its query token ids.
func (q *Queue) SubmitWithQuery(req types.Request, queryTokens []int32) (types.RequestID, error) {
	if err := q.validateShape(req); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkAcceptingLocked(); err != nil {
		return 0, err
	}

	id := q.nextID
	q.nextID++
	if q.recorder != nil {
		q.recorder.RecordSubmission(id)
	}
	q.pushLocked(types.NewItemWithQuery(id, req, queryTokens))
	return id, nil
}

// Cancel pushes a cancellation item for the given previously issued id. No new id is
// allocated, and capacity accounting is never touched. Canceling an unknown or already
// admitted id is a no-op downstream.
func (q *Queue) Cancel(id types.RequestID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(types.NewCancelItem(id))
	q.logger.V(logutil.DEBUG).Info("Enqueued cancellation", "requestID", id)
}

// Shutdown flips the queue inactive and pushes the shutdown sentinel. It is terminal: once
// requested no further submissions are accepted, and draining continues only to flush items
// already ingressed. Subsequent calls are no-ops.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.active {
		return
	}
	q.active = false
	q.pushLocked(types.NewShutdownItem())
	q.logger.Info("Shutdown requested")
}

// Drain blocks for up to timeout waiting for at least one item, then drains every item
// currently available without additional waiting. A non-positive timeout performs a single
// non-blocking drain. An empty result on timeout is not an error. Drain is interruptible
// through ctx; it must only be called by the single consumer goroutine.
func (q *Queue) Drain(ctx context.Context, timeout time.Duration) []types.Item {
	if timeout > 0 && q.Len() == 0 {
		timer := q.clock.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-q.signal:
		case <-timer.C():
		case <-ctx.Done():
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.items
	q.items = nil
	// Clear a pending wakeup so the next Drain does not spuriously return early. Safe with a
	// single consumer.
	select {
	case <-q.signal:
	default:
	}
	return drained
}

// Len returns the current ingress queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NextID returns the next id that will be assigned. Exposed for telemetry and tests.
func (q *Queue) NextID() types.RequestID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextID
}

func (q *Queue) checkAcceptingLocked() error {
	if !q.active {
		return types.ErrQueueInactive
	}
	if q.rank != config.OwningRank {
		return types.ErrNotOwningRank
	}
	return nil
}

// validateShape rejects malformed requests at submission time, per the admission layer's
// error-handling contract: shape violations are caller-visible, never silently dropped later.
func (q *Queue) validateShape(req types.Request) error {
	if bw, ok := req.(types.BeamWidthProvider); ok {
		if width := bw.BeamWidth(); width > q.maxBeamWidth {
			return fmt.Errorf("%w: %d > %d", types.ErrBeamWidthExceeded, width, q.maxBeamWidth)
		}
	}
	return nil
}

func (q *Queue) pushLocked(item types.Item) {
	q.items = append(q.items, item)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
