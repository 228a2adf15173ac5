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

// Package config holds the construction-time configuration surface of the executor's admission
// layer.
package config

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	envutil "github.com/StanleySun639/TensorRT-LLM/pkg/executor/util/env"
)

// Environment variable names for LoadConfigFromEnv.
const (
	EnvMaxBatchSize             = "TLLM_EXECUTOR_MAX_BATCH_SIZE"
	EnvMaxBeamWidth             = "TLLM_EXECUTOR_MAX_BEAM_WIDTH"
	EnvMaxActiveRequestsPerRank = "TLLM_EXECUTOR_MAX_ACTIVE_REQUESTS_PER_RANK"
	EnvNumRanks                 = "TLLM_EXECUTOR_NUM_RANKS"
	EnvRank                     = "TLLM_EXECUTOR_RANK"
	EnvEnableRankBalancing      = "TLLM_EXECUTOR_ENABLE_RANK_BALANCING"
	EnvIsDisaggregated          = "TLLM_EXECUTOR_IS_DISAGGREGATED"
	EnvDrainTimeout             = "TLLM_EXECUTOR_DRAIN_TIMEOUT"
)

// Default configuration values.
const (
	DefaultMaxBatchSize             = 8
	DefaultMaxBeamWidth             = 1
	DefaultMaxActiveRequestsPerRank = 16
	DefaultNumRanks                 = 1
	// DefaultDrainTimeout bounds how long a scheduling tick blocks waiting for the first
	// ingress item.
	DefaultDrainTimeout = 50 * time.Millisecond
)

// Config holds the configuration of the admission layer. It is consumed at construction and
// never mutated afterwards.
type Config struct {
	// MaxBatchSize is the engine's maximum batch size. It fixes the first externally
	// assignable request id: ids below it are reserved for warm-up requests.
	MaxBatchSize int
	// MaxBeamWidth is the largest beam width a submitted request may carry.
	MaxBeamWidth int
	// MaxActiveRequestsPerRank caps the number of concurrently active requests on each
	// data-parallel rank.
	MaxActiveRequestsPerRank int
	// NumRanks is the number of data-parallel ranks in the cluster.
	NumRanks int
	// Rank is the rank this instance runs on. Only rank 0 accepts submissions.
	Rank int
	// EnableRankBalancing turns on rank-aware admission (attention data parallelism). When
	// false, admission is single-rank FIFO.
	EnableRankBalancing bool
	// IsDisaggregated indicates disaggregated (prefill/decode split) serving. It affects
	// request validation only, never the admission algorithm.
	IsDisaggregated bool
	// DrainTimeout bounds the blocking wait for the first ingress item on each tick.
	DrainTimeout time.Duration
}

// OwningRank is the single rank that assigns request ids and accepts submissions.
const OwningRank = 0

// LoadConfigFromEnv populates a Config from environment variables, falling back to defaults for
// unset or unparsable values, and then validates it.
func LoadConfigFromEnv(logger logr.Logger) (*Config, error) {
	cfg := &Config{
		MaxBatchSize:             envutil.GetEnvInt(EnvMaxBatchSize, DefaultMaxBatchSize, logger),
		MaxBeamWidth:             envutil.GetEnvInt(EnvMaxBeamWidth, DefaultMaxBeamWidth, logger),
		MaxActiveRequestsPerRank: envutil.GetEnvInt(EnvMaxActiveRequestsPerRank, DefaultMaxActiveRequestsPerRank, logger),
		NumRanks:                 envutil.GetEnvInt(EnvNumRanks, DefaultNumRanks, logger),
		Rank:                     envutil.GetEnvInt(EnvRank, OwningRank, logger),
		EnableRankBalancing:      envutil.GetEnvBool(EnvEnableRankBalancing, false, logger),
		IsDisaggregated:          envutil.GetEnvBool(EnvIsDisaggregated, false, logger),
		DrainTimeout:             envutil.GetEnvDuration(EnvDrainTimeout, DefaultDrainTimeout, logger),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MaxBatchSize must be positive, got %d", c.MaxBatchSize)
	}
	if c.MaxBeamWidth <= 0 {
		return fmt.Errorf("MaxBeamWidth must be positive, got %d", c.MaxBeamWidth)
	}
	if c.MaxActiveRequestsPerRank <= 0 {
		return fmt.Errorf("MaxActiveRequestsPerRank must be positive, got %d", c.MaxActiveRequestsPerRank)
	}
	if c.NumRanks <= 0 {
		return fmt.Errorf("NumRanks must be positive, got %d", c.NumRanks)
	}
	if c.Rank < 0 || c.Rank >= c.NumRanks {
		return fmt.Errorf("Rank %d out of range for %d ranks", c.Rank, c.NumRanks)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("DrainTimeout must not be negative, got %s", c.DrainTimeout)
	}
	return nil
}
