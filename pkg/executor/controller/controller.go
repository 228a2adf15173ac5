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

// Package controller contains the admission controller: the single-consumer engine that runs
// scheduling ticks over the ingress queue, the pending backlog, and the rank-aware scheduler,
// and hands admitted requests to the execution engine.
//
// Exactly one goroutine runs ticks. The pending backlog and the capacity tracker are owned
// exclusively by that goroutine; only the ingress queue is shared with producers.
package controller

import (
	"context"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/backlog"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/capacity"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/config"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/conversion"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/filter"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/queue"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/scheduler"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/telemetry"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
	logutil "github.com/StanleySun639/TensorRT-LLM/pkg/executor/util/logging"
)

const loggerName = "AdmissionController"

// CapacityProvider supplies the per-rank active-request counters at the start of each tick.
// The returned slice is borrowed: the controller mutates it in place while reserving capacity,
// and the provider is responsible for broadcasting the post-tick values across the cluster.
type CapacityProvider interface {
	PerRankActive(ctx context.Context) []int
}

// Sink receives the per-rank admitted requests of one tick. Ranks with no admissions are
// mapped to an empty slice.
type Sink interface {
	Admit(ctx context.Context, admitted map[int][]*conversion.ExecutableRequest) error
}

// Controller runs the drain -> validate -> purge -> admit -> convert cycle.
type Controller struct {
	cfg       *config.Config
	ingress   *queue.Queue
	backlog   *backlog.Backlog
	filter    *filter.Filter
	scheduler *scheduler.Scheduler
	converter conversion.Converter
	recorder  *telemetry.Recorder
	clock     clock.Clock
	logger    logr.Logger
}

// New assembles an admission controller. The recorder may be nil to disable telemetry; the
// converter defaults to the standard LLM converter when nil.
func New(
	cfg *config.Config,
	ingress *queue.Queue,
	converter conversion.Converter,
	recorder *telemetry.Recorder,
	clk clock.Clock,
	logger logr.Logger,
) *Controller {
	if converter == nil {
		converter = conversion.LLMConverter{}
	}
	return &Controller{
		cfg:       cfg,
		ingress:   ingress,
		backlog:   backlog.New(),
		filter:    filter.New(cfg, logger),
		scheduler: scheduler.New(cfg, logger),
		converter: converter,
		recorder:  recorder,
		clock:     clk,
		logger:    logger.WithName(loggerName),
	}
}

// Tick executes one scheduling cycle against the supplied per-rank active counters. The
// counters are mutated in place as capacity is reserved for admitted requests. The returned
// map holds the executable requests admitted per rank this tick; a non-nil error reports
// per-item conversion failures alongside the successfully converted remainder.
//
// A tick that admits nothing because capacity is exhausted is not an error: the items stay
// pending and are retried on the next tick.
func (c *Controller) Tick(ctx context.Context, perRankActive []int) (map[int][]*conversion.ExecutableRequest, error) {
	logger := log.FromContext(ctx).WithName(loggerName)

	drained := c.ingress.Drain(ctx, c.cfg.DrainTimeout)
	valid, err := c.filter.ValidateAndFilter(drained)
	if err != nil {
		return nil, err
	}
	c.backlog.AppendAll(valid)

	purged := c.filter.PurgeCanceled(c.backlog)
	if c.recorder != nil {
		for _, item := range purged {
			c.recorder.DropRecord(item.ID)
		}
	}

	tracker := capacity.NewTracker(perRankActive, c.cfg.MaxActiveRequestsPerRank)

	var assignments map[int][]types.Item
	var deferredCount int
	if c.cfg.EnableRankBalancing {
		taken := c.scheduler.TakeFromBacklogRankAware(c.backlog, tracker.SpareTotal(), tracker)
		scheduled, deferred := c.scheduler.ScheduleAcrossRanks(taken, tracker)
		// Unplaced items keep their position ahead of newer arrivals.
		c.backlog.PrependAll(deferred)
		deferredCount = len(deferred)
		assignments = scheduled
	} else {
		spare := c.cfg.MaxActiveRequestsPerRank - perRankActive[c.cfg.Rank]
		taken := scheduler.TakeFromBacklog(c.backlog, spare)
		for range taken {
			tracker.Reserve(c.cfg.Rank)
		}
		assignments = map[int][]types.Item{c.cfg.Rank: taken}
	}

	admitted, convErr := c.convert(ctx, assignments)
	c.updateTelemetry(deferredCount)

	logger.V(logutil.TRACE).Info("Completed scheduling tick",
		"drained", len(drained), "backlogDepth", c.backlog.Len(), "deferred", deferredCount)
	return admitted, convErr
}

// Run executes ticks until ctx is cancelled or shutdown has been requested and every
// already-ingressed item has been flushed.
func (c *Controller) Run(ctx context.Context, provider CapacityProvider, sink Sink) error {
	c.logger.Info("Starting admission loop")
	defer c.logger.Info("Admission loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		admitted, err := c.Tick(ctx, provider.PerRankActive(ctx))
		if err != nil {
			// Conversion failures are fatal per item, not for the loop.
			c.logger.Error(err, "Tick completed with item failures")
		}
		if err := sink.Admit(ctx, admitted); err != nil {
			return err
		}

		if c.filter.ShutdownRequested() && c.backlog.Len() == 0 && c.ingress.Len() == 0 {
			return nil
		}
	}
}

// convert materializes executable requests for every admitted item. A conversion failure is
// fatal for that item only; the remaining items are still admitted.
func (c *Controller) convert(
	ctx context.Context,
	assignments map[int][]types.Item,
) (map[int][]*conversion.ExecutableRequest, error) {
	var errs error
	admitted := make(map[int][]*conversion.ExecutableRequest, len(assignments))
	for rank, items := range assignments {
		reqs := make([]*conversion.ExecutableRequest, 0, len(items))
		for _, item := range items {
			req, err := c.converter.Convert(ctx, item, rank)
			if err != nil {
				errs = multierr.Append(errs, err)
				c.logger.Error(err, "Dropping unconvertible request", "requestID", item.ID, "rank", rank)
				continue
			}
			if c.recorder != nil {
				c.recorder.ObserveAdmission(item.ID)
			}
			reqs = append(reqs, req)
		}
		admitted[rank] = reqs
	}
	return admitted, errs
}

func (c *Controller) updateTelemetry(deferred int) {
	if c.recorder == nil {
		return
	}
	c.recorder.SetIngressDepth(c.ingress.Len())
	c.recorder.SetBacklogDepth(c.backlog.Len())
	c.recorder.SetCanceledSetSize(c.filter.CanceledCount())
	if c.cfg.EnableRankBalancing {
		c.recorder.SetExpectedActiveRequests(c.scheduler.ExpectedActiveRequests())
	}
	if deferred > 0 {
		c.recorder.AddDeferred(deferred)
	}
}

// ShutdownRequested reports whether the shutdown sentinel has been observed by a tick.
func (c *Controller) ShutdownRequested() bool {
	return c.filter.ShutdownRequested()
}

// BacklogDepth returns the number of validated items pending admission.
func (c *Controller) BacklogDepth() int {
	return c.backlog.Len()
}

// IngressDepth returns the number of items waiting in the ingress queue.
func (c *Controller) IngressDepth() int {
	return c.ingress.Len()
}

// CanceledIDs returns the ids in the pending-cancellation set, sorted.
func (c *Controller) CanceledIDs() []types.RequestID {
	return c.filter.CanceledIDs()
}

// ClearCanceledIDs empties the pending-cancellation set, once the execution engine has
// consumed it.
func (c *Controller) ClearCanceledIDs() {
	c.filter.ClearCanceled()
}

// ExpectedActiveRequests returns the advisory per-rank load estimate from the last rank-aware
// scheduling pass.
func (c *Controller) ExpectedActiveRequests() int {
	return c.scheduler.ExpectedActiveRequests()
}
