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

// Package backlog provides the pending backlog: an ordered FIFO of validated items awaiting
// admission, built on a standard library `container/list.List`.
//
// The backlog is mutated exclusively by the single consumer goroutine that runs scheduling
// ticks, so it carries no locking of its own. Sharing a Backlog across goroutines without
// external synchronization is a bug.
package backlog

import (
	"container/list"

	"github.com/StanleySun639/TensorRT-LLM/pkg/executor/types"
)

// PredicateFunc decides whether an item should be removed by RemoveIf.
type PredicateFunc func(types.Item) bool

// Backlog is an ordered collection of items, FIFO with respect to arrival. Items are appended
// in bulk after validation and removed from the front (possibly skipping entries) by admission,
// or purged anywhere by cancellation.
type Backlog struct {
	items *list.List
}

// New creates an empty Backlog.
func New() *Backlog {
	return &Backlog{items: list.New()}
}

// Append enqueues a single item at the back.
func (b *Backlog) Append(item types.Item) {
	b.items.PushBack(item)
}

// AppendAll enqueues items at the back, preserving their order.
func (b *Backlog) AppendAll(items []types.Item) {
	for _, item := range items {
		b.items.PushBack(item)
	}
}

// PrependAll re-queues items at the front, preserving their order. Used to return items that
// could not be placed this tick without losing their position ahead of newer arrivals.
func (b *Backlog) PrependAll(items []types.Item) {
	for i := len(items) - 1; i >= 0; i-- {
		b.items.PushFront(items[i])
	}
}

// TakeFront removes up to min(max(n, 0), Len()) items from the front and returns them in order.
// A non-positive n or an empty backlog returns an empty result with no mutation.
func (b *Backlog) TakeFront(n int) []types.Item {
	if n <= 0 || b.items.Len() == 0 {
		return nil
	}
	if n > b.items.Len() {
		n = b.items.Len()
	}
	taken := make([]types.Item, 0, n)
	for len(taken) < n {
		front := b.items.Front()
		taken = append(taken, front.Value.(types.Item))
		b.items.Remove(front)
	}
	return taken
}

// TakeWhere scans from the front and removes every item accepted by the predicate, in order of
// appearance, until limit items have been collected or the backlog is exhausted. Rejected items
// are left in place and scanning continues past them.
func (b *Backlog) TakeWhere(limit int, accept PredicateFunc) []types.Item {
	if limit <= 0 {
		return nil
	}
	var taken []types.Item
	var next *list.Element
	for e := b.items.Front(); e != nil && len(taken) < limit; e = next {
		next = e.Next() // capture before a potential removal
		item := e.Value.(types.Item)
		if accept(item) {
			taken = append(taken, item)
			b.items.Remove(e)
		}
	}
	return taken
}

// RemoveIf removes every item satisfying the predicate, preserving the relative order of the
// survivors, and returns the removed items.
func (b *Backlog) RemoveIf(predicate PredicateFunc) []types.Item {
	var removed []types.Item
	var next *list.Element
	for e := b.items.Front(); e != nil; e = next {
		next = e.Next()
		item := e.Value.(types.Item)
		if predicate(item) {
			removed = append(removed, item)
			b.items.Remove(e)
		}
	}
	return removed
}

// PeekFront returns the item at the front without removing it.
func (b *Backlog) PeekFront() (types.Item, bool) {
	front := b.items.Front()
	if front == nil {
		return types.Item{}, false
	}
	return front.Value.(types.Item), true
}

// Len returns the number of pending items.
func (b *Backlog) Len() int {
	return b.items.Len()
}

// Items returns a snapshot of the pending items in order, without mutating the backlog.
func (b *Backlog) Items() []types.Item {
	snapshot := make([]types.Item, 0, b.items.Len())
	for e := b.items.Front(); e != nil; e = e.Next() {
		snapshot = append(snapshot, e.Value.(types.Item))
	}
	return snapshot
}
