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

// admissionsim drives the admission controller with synthetic producers and prints per-tick
// rank assignments. It exercises the full drain -> validate -> purge -> admit -> convert cycle
// without a model engine behind it.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/config"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/controller"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/conversion"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/queue"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/telemetry"
	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
	logutil "github.com/StanleySun639/TensorRT-LLM/pkg/executor/util/logging"
	"github.com/StanleySun639/TensorRT-LLM/version"
)

type simRequest struct {
	prompt    string
	beamWidth int
	hint      *types.SchedulingHint
}

func (r *simRequest) BeamWidth() int { return r.beamWidth }

func (r *simRequest) SchedulingHint() *types.SchedulingHint { return r.hint }

// simCapacity tracks cluster load locally, standing in for the distributed state exchange.
type simCapacity struct {
	mu       sync.Mutex
	active   []int
	decayPer int
}

func (s *simCapacity) PerRankActive(context.Context) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Requests complete over time; free a little capacity before each tick.
	for rank := range s.active {
		s.active[rank] -= s.decayPer
		if s.active[rank] < 0 {
			s.active[rank] = 0
		}
	}
	return s.active
}

type printSink struct{}

func (printSink) Admit(_ context.Context, admitted map[int][]*conversion.ExecutableRequest) error {
	for rank := 0; rank < len(admitted); rank++ {
		if len(admitted[rank]) == 0 {
			continue
		}
		ids := make([]types.RequestID, 0, len(admitted[rank]))
		for _, req := range admitted[rank] {
			ids = append(ids, req.RequestID)
		}
		fmt.Printf("rank %d <- %v\n", rank, ids)
	}
	return nil
}

func main() {
	var (
		numRanks     = pflag.Int("ranks", 4, "Number of data-parallel ranks.")
		perRankMax   = pflag.Int("max-active-per-rank", 8, "Maximum active requests per rank.")
		maxBatchSize = pflag.Int("max-batch-size", 8, "Engine maximum batch size.")
		numRequests  = pflag.Int("requests", 64, "Number of synthetic requests to submit.")
		producers    = pflag.Int("producers", 4, "Number of concurrent producer goroutines.")
		verbosity    = pflag.Int("v", logutil.DEFAULT, "Log verbosity level.")
	)
	pflag.Parse()

	logger := zap.New(zap.UseDevMode(true),
		zap.Level(uberzap.NewAtomicLevelAt(zapcore.Level(-1 * *verbosity))))
	logger.Info("Starting admission simulator", "commitSHA", version.CommitSHA, "buildRef", version.BuildRef)

	cfg := &config.Config{
		MaxBatchSize:             *maxBatchSize,
		MaxBeamWidth:             config.DefaultMaxBeamWidth,
		MaxActiveRequestsPerRank: *perRankMax,
		NumRanks:                 *numRanks,
		Rank:                     config.OwningRank,
		EnableRankBalancing:      *numRanks > 1,
		DrainTimeout:             config.DefaultDrainTimeout,
	}
	if err := cfg.Validate(); err != nil {
		logutil.Fatal(logger, err, "Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := telemetry.NewRecorder(prometheus.NewRegistry(), clock.RealClock{}, 0)
	go recorder.Start()
	defer recorder.Stop()

	ingress := queue.New(cfg, clock.RealClock{}, recorder, logger)
	ctrl := controller.New(cfg, ingress, conversion.LLMConverter{}, recorder, clock.RealClock{}, logger)

	var wg sync.WaitGroup
	perProducer := *numRequests / *producers
	for p := 0; p < *producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				req := &simRequest{prompt: fmt.Sprintf("producer-%d-request-%d", p, i), beamWidth: 1}
				if rand.Intn(4) == 0 {
					req.hint = &types.SchedulingHint{
						TargetRank: rand.Intn(*numRanks),
						Relaxed:    rand.Intn(2) == 0,
					}
				}
				if _, err := ingress.SubmitOne(req); err != nil {
					logger.Error(err, "Submission failed", "producer", p)
					return
				}
				time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			}
		}(p)
	}

	go func() {
		wg.Wait()
		ingress.Shutdown()
	}()

	capState := &simCapacity{active: make([]int, *numRanks), decayPer: 2}
	if err := ctrl.Run(ctx, capState, printSink{}); err != nil && ctx.Err() == nil {
		logutil.Fatal(logger, err, "Admission loop failed")
	}
}
