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

package buffer

import (
	"github.com/tinyhttp/tinyhttp/pkg/memory"
)

// Owned is a byte region with exactly one owner. The zero value and a nil *Owned are empty buffers.
//
// An Owned must be passed by pointer; use Move to hand ownership to another holder and Clone for an independent copy.
type Owned struct {
	data []byte
	heap memory.Allocator
}

var _ Buffer = &Owned{}

// NewOwned allocates n bytes from a. The result is either exactly n bytes long or empty, never partial. A nil
// allocator allocates from the Go runtime.
func NewOwned(a memory.Allocator, n int) *Owned {
	if a == nil {
		a = memory.System{}
	}
	b := &Owned{heap: a}
	if n <= 0 {
		return b
	}
	data := a.Alloc(n)
	if len(data) != n {
		a.Release(data)
		return b
	}
	b.data = data
	return b
}

// OwnedFrom allocates a copy of p from a. On allocation failure the result is empty.
func OwnedFrom(a memory.Allocator, p []byte) *Owned {
	b := NewOwned(a, len(p))
	copy(b.data, p)
	return b
}

// OwnedString allocates a copy of s from a. On allocation failure the result is empty.
func OwnedString(a memory.Allocator, s string) *Owned {
	b := NewOwned(a, len(s))
	copy(b.data, s)
	return b
}

func (b *Owned) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

func (b *Owned) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Valid reports whether the buffer holds any bytes.
func (b *Owned) Valid() bool {
	return b.Len() > 0
}

// Release returns the bytes to the heap. Releasing an empty buffer is a no-op.
func (b *Owned) Release() {
	if b == nil || b.data == nil {
		return
	}
	b.Heap().Release(b.data)
	b.data = nil
}

// Detach empties the buffer without returning the bytes to the heap. The caller becomes responsible for releasing
// the returned slice to the buffer's allocator.
func (b *Owned) Detach() []byte {
	if b == nil {
		return nil
	}
	data := b.data
	b.data = nil
	return data
}

// Resize changes the buffer length, preserving the common prefix. It returns the new length on success and the
// current length if the heap could not satisfy the request. Resizing to zero releases the buffer.
func (b *Owned) Resize(n int) int {
	if b == nil {
		return 0
	}
	if n <= 0 {
		b.Release()
		return 0
	}
	if n == len(b.data) {
		return n
	}
	next := NewOwned(b.heap, n)
	if !next.Valid() {
		return len(b.data)
	}
	copy(next.data, b.data)
	b.Release()
	b.heap, b.data = next.heap, next.data
	return n
}

// Clone allocates an independent copy from the same heap. On allocation failure the clone is empty.
func (b *Owned) Clone() *Owned {
	if b == nil {
		return &Owned{}
	}
	return OwnedFrom(b.heap, b.data)
}

// Move transfers ownership to a new holder, leaving b empty.
func (b *Owned) Move() *Owned {
	if b == nil {
		return &Owned{}
	}
	moved := &Owned{data: b.data, heap: b.heap}
	b.data = nil
	return moved
}

// Heap returns the allocator the buffer is charged against.
func (b *Owned) Heap() memory.Allocator {
	if b == nil || b.heap == nil {
		return memory.System{}
	}
	return b.heap
}

// String returns the contents as a string. The string is a copy on the Go heap.
func (b *Owned) String() string {
	return string(b.Bytes())
}
