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

// Package telemetry provides latency-since-submission and queue-depth accounting for the
// admission layer. All values are read-only to callers; admission decisions must never consult
// them.
package telemetry

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
)

const subsystem = "executor_admission"

// DefaultSubmissionRecordTTL bounds how long a submission-time record is retained. Records of
// items that were canceled before admission, or whose ids were lost to a crashed producer,
// expire instead of leaking.
const DefaultSubmissionRecordTTL = 30 * time.Minute

// latencyBuckets covers queueing latencies from 100us to 5 minutes.
var latencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1, 2.5, 5, 10, 30, 60, 120, 300,
}

// Recorder tracks per-id submission times and exports queue depth and admission metrics.
type Recorder struct {
	clock      clock.PassiveClock
	startTimes *ttlcache.Cache[types.RequestID, time.Time]

	ingressDepth     prometheus.Gauge
	backlogDepth     prometheus.Gauge
	canceledSetSize  prometheus.Gauge
	expectedActive   prometheus.Gauge
	admissionLatency prometheus.Histogram
	admittedTotal    prometheus.Counter
	deferredTotal    prometheus.Counter
}

// NewRecorder creates a Recorder and registers its collectors with the given registerer.
// Start must be called for TTL expiry of stale submission records, and Stop on teardown.
func NewRecorder(reg prometheus.Registerer, clk clock.PassiveClock, recordTTL time.Duration) *Recorder {
	if recordTTL <= 0 {
		recordTTL = DefaultSubmissionRecordTTL
	}
	r := &Recorder{
		clock: clk,
		startTimes: ttlcache.New(
			ttlcache.WithTTL[types.RequestID, time.Time](recordTTL),
			ttlcache.WithDisableTouchOnHit[types.RequestID, time.Time](),
		),
		ingressDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "ingress_queue_depth",
			Help:      "Number of items currently waiting in the ingress queue.",
		}),
		backlogDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "backlog_depth",
			Help:      "Number of validated items pending admission.",
		}),
		canceledSetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "canceled_ids",
			Help:      "Number of request ids in the pending-cancellation set.",
		}),
		expectedActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "expected_active_requests",
			Help:      "Advisory estimate of active requests per rank after the last scheduling pass.",
		}),
		admissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "admission_latency_seconds",
			Help:      "Time between submission and admission of a request.",
			Buckets:   latencyBuckets,
		}),
		admittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "admitted_total",
			Help:      "Total number of requests admitted to the execution engine.",
		}),
		deferredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "deferred_total",
			Help:      "Total number of admission attempts deferred for lack of rank capacity.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.ingressDepth, r.backlogDepth, r.canceledSetSize, r.expectedActive,
			r.admissionLatency, r.admittedTotal, r.deferredTotal)
	}
	return r
}

// Start runs the TTL expiry loop of the submission-record cache. Blocks until Stop.
func (r *Recorder) Start() {
	r.startTimes.Start()
}

// Stop terminates the TTL expiry loop.
func (r *Recorder) Stop() {
	r.startTimes.Stop()
}

// RecordSubmission stores the submission time of the given id.
func (r *Recorder) RecordSubmission(id types.RequestID) {
	r.startTimes.Set(id, r.clock.Now(), ttlcache.DefaultTTL)
}

// LatencySince returns the time elapsed since the given id was submitted. ok is false when no
// record exists (unknown id, or the record expired).
func (r *Recorder) LatencySince(id types.RequestID) (latency time.Duration, ok bool) {
	item := r.startTimes.Get(id)
	if item == nil {
		return 0, false
	}
	return r.clock.Now().Sub(item.Value()), true
}

// ObserveAdmission records the admission of the given id: its queueing latency is observed on
// the histogram and its submission record is dropped.
func (r *Recorder) ObserveAdmission(id types.RequestID) {
	if latency, ok := r.LatencySince(id); ok {
		r.admissionLatency.Observe(latency.Seconds())
		r.startTimes.Delete(id)
	}
	r.admittedTotal.Inc()
}

// DropRecord removes the submission record of a canceled id.
func (r *Recorder) DropRecord(id types.RequestID) {
	r.startTimes.Delete(id)
}

// SetIngressDepth updates the ingress queue depth gauge.
func (r *Recorder) SetIngressDepth(depth int) {
	r.ingressDepth.Set(float64(depth))
}

// SetBacklogDepth updates the pending backlog depth gauge.
func (r *Recorder) SetBacklogDepth(depth int) {
	r.backlogDepth.Set(float64(depth))
}

// SetCanceledSetSize updates the pending-cancellation set size gauge.
func (r *Recorder) SetCanceledSetSize(size int) {
	r.canceledSetSize.Set(float64(size))
}

// SetExpectedActiveRequests updates the advisory expected-active-requests gauge.
func (r *Recorder) SetExpectedActiveRequests(n int) {
	r.expectedActive.Set(float64(n))
}

// AddDeferred counts admission attempts deferred to a later tick.
func (r *Recorder) AddDeferred(n int) {
	r.deferredTotal.Add(float64(n))
}
