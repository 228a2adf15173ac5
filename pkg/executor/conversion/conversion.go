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

// Package conversion turns admitted queue items into the engine's executable request
// representation. The conversion collaborator is external to admission proper: it is invoked
// once per admitted item and is side-effect-free with respect to admission state.
package conversion

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
)

// ExecutableRequest is the execution-ready representation handed to the model engine.
type ExecutableRequest struct {
	// CorrelationID is minted at conversion time and identifies the request across engine
	// subsystems (scheduling, KV-cache paging, response streaming).
	CorrelationID uuid.UUID
	// RequestID is the admission-layer id the request was submitted under.
	RequestID types.RequestID
	// Request is the original caller payload.
	Request types.Request
	// QueryTokens carries the optional query token ids submitted with the request.
	QueryTokens []int32
	// TargetRank is the data-parallel rank the request was admitted onto.
	TargetRank int
}

// Converter materializes an executable request from an admitted item. A failure is fatal for
// that item and is not retried by the admission layer.
type Converter interface {
	Convert(ctx context.Context, item types.Item, targetRank int) (*ExecutableRequest, error)
}

// LLMConverter is the default Converter for standard LLM inference requests.
type LLMConverter struct{}

// Convert builds an ExecutableRequest carrying the item's payload verbatim.
func (LLMConverter) Convert(_ context.Context, item types.Item, targetRank int) (*ExecutableRequest, error) {
	if !item.IsNormal() {
		return nil, fmt.Errorf("%w: cannot convert %s item %d",
			types.ErrConversionFailed, item.Kind, item.ID)
	}
	return &ExecutableRequest{
		CorrelationID: uuid.New(),
		RequestID:     item.ID,
		Request:       item.Request,
		QueryTokens:   item.QueryTokens,
		TargetRank:    targetRank,
	}, nil
}
