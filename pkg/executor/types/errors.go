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

package types

import "errors"

var (
	// ErrQueueInactive indicates a submission after shutdown was requested. Submitting to an
	// inactive queue is a programming error on the caller's side, not a recoverable runtime
	// condition.
	ErrQueueInactive = errors.New("ingress queue is no longer active")

	// ErrNotOwningRank indicates a submission on a rank other than the single owning endpoint.
	// Non-owning ranks must route submissions to the owner through the external transport.
	ErrNotOwningRank = errors.New("submissions are only accepted on the owning rank")

	// ErrBeamWidthExceeded indicates a request whose beam width exceeds the configured maximum.
	// It is surfaced to the caller at submission time, never silently dropped later.
	ErrBeamWidthExceeded = errors.New("request beam width exceeds the configured maximum")

	// ErrConversionFailed indicates the conversion collaborator failed to materialize an
	// executable request for an admitted item. Fatal for that item; not retried.
	ErrConversionFailed = errors.New("failed to convert queue item to an executable request")

	// ErrDuplicateConverter indicates a converter was registered twice under the same name.
	ErrDuplicateConverter = errors.New("converter already registered")

	// ErrConverterNotFound indicates a lookup for a converter name that was never registered.
	ErrConverterNotFound = errors.New("no converter registered")
)
