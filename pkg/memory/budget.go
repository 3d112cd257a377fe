/*
Copyright 2025 The Kubernetes Authors.

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

package memory

import (
	"sync/atomic"
)

// Budget is a bounded heap. Allocations are served by the Go runtime, but they are charged against a fixed capacity
// and fail once that capacity (or the largest-block limit) would be exceeded.
//
// Budget is safe for concurrent use.
type Budget struct {
	capacity uint64
	maxBlock atomic.Uint64
	used     atomic.Uint64

	allocs   atomic.Uint64
	failures atomic.Uint64
	releases atomic.Uint64
}

// BudgetStats is a point-in-time snapshot of a Budget.
type BudgetStats struct {
	Capacity uint64
	Used     uint64
	Allocs   uint64
	Failures uint64
	Releases uint64
}

var _ Heap = &Budget{}

// NewBudget creates a heap of capacity bytes. A maxBlock of zero means a single allocation may use everything that
// is free.
func NewBudget(capacity, maxBlock uint64) *Budget {
	b := &Budget{capacity: capacity}
	b.maxBlock.Store(maxBlock)
	return b
}

// Alloc charges n bytes against the budget and returns a zeroed slice of length n, or nil if the budget (or the
// largest-block limit) cannot accommodate it.
func (b *Budget) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	size := uint64(n)
	if limit := b.maxBlock.Load(); limit > 0 && size > limit {
		b.failures.Add(1)
		return nil
	}
	for {
		used := b.used.Load()
		if used+size > b.capacity {
			b.failures.Add(1)
			return nil
		}
		if b.used.CompareAndSwap(used, used+size) {
			break
		}
	}
	b.allocs.Add(1)
	return make([]byte, n, n)
}

// Release credits cap(p) bytes back to the budget.
func (b *Budget) Release(p []byte) {
	size := uint64(cap(p))
	if size == 0 {
		return
	}
	for {
		used := b.used.Load()
		next := uint64(0)
		if used > size {
			next = used - size
		}
		if b.used.CompareAndSwap(used, next) {
			break
		}
	}
	b.releases.Add(1)
}

// FreeBytes returns the uncharged part of the budget.
func (b *Budget) FreeBytes() uint64 {
	used := b.used.Load()
	if used >= b.capacity {
		return 0
	}
	return b.capacity - used
}

// MaxBlock returns the largest allocation that would currently succeed.
func (b *Budget) MaxBlock() uint64 {
	free := b.FreeBytes()
	if limit := b.maxBlock.Load(); limit > 0 && limit < free {
		return limit
	}
	return free
}

// SetMaxBlock changes the largest-block limit, e.g. to simulate the heap fragmenting over time.
func (b *Budget) SetMaxBlock(n uint64) {
	b.maxBlock.Store(n)
}

// Capacity returns the total size of the budget.
func (b *Budget) Capacity() uint64 { return b.capacity }

// Stats returns a snapshot of the budget's counters.
func (b *Budget) Stats() BudgetStats {
	return BudgetStats{
		Capacity: b.capacity,
		Used:     b.used.Load(),
		Allocs:   b.allocs.Load(),
		Failures: b.failures.Load(),
		Releases: b.releases.Load(),
	}
}
