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

package conversion

import (
	"fmt"
	"sort"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
)

// DefaultConverterName is the name the standard LLM converter is registered under.
const DefaultConverterName = "llm"

// Registry is an explicit name-to-Converter lookup, constructed once and passed by reference
// to consumers. It is deliberately not a process-wide singleton: initialization order is
// deterministic and owned by whoever constructs it.
//
// Registry is not safe for concurrent mutation; register all converters before sharing it.
type Registry struct {
	converters map[string]Converter
}

// NewRegistry creates a Registry pre-populated with the default LLM converter.
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[string]Converter)}
	// Registering into a freshly created empty map cannot collide.
	_ = r.Register(DefaultConverterName, LLMConverter{})
	return r
}

// Register adds a converter under the given name. Duplicate registration fails loudly with
// ErrDuplicateConverter rather than silently replacing the existing entry.
func (r *Registry) Register(name string, c Converter) error {
	if _, exists := r.converters[name]; exists {
		return fmt.Errorf("%w: %q", types.ErrDuplicateConverter, name)
	}
	r.converters[name] = c
	return nil
}

// MustRegister is Register that panics on failure, for construction-time wiring.
func (r *Registry) MustRegister(name string, c Converter) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// Get returns the converter registered under name.
func (r *Registry) Get(name string) (Converter, error) {
	c, ok := r.converters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrConverterNotFound, name)
	}
	return c, nil
}

// Names returns the registered names in deterministic (sorted) order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.converters))
	for name := range r.converters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
