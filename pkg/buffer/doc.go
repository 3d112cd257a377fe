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

// Package buffer implements a fallible buffer ownership model for servers running against a finite heap.
//
// No constructor in this package assumes an allocation succeeds. A failed allocation produces an empty buffer
// (Len() == 0, Bytes() == nil) rather than an error or a panic; callers check Valid() or Len() and degrade.
//
//   - [Owned] is a single-owner byte region charged against a [memory.Allocator].
//   - [Shared] is a reference-counted region; the bytes return to the heap when the last holder releases.
//   - [Chain] is an ordered list of buffers, useful when the heap is too fragmented for one large region. Chain
//     allocation is all-or-nothing.
//   - [Window] tracks consumed bytes at either end of a buffer without copying.
//   - [ChainWriter] streams bytes into a chain, optionally growing it, and latches invalid once it runs out of room.
package buffer

import (
	"errors"

	"github.com/tinyhttp/tinyhttp/pkg/memory"
)

// ErrExhausted is returned by ChainWriter when a write could not be stored in full.
var ErrExhausted = errors.New("buffer chain exhausted")

// Buffer is the behavior shared by Owned and Shared. Implementations must treat a nil receiver as an empty buffer.
type Buffer interface {
	// Bytes returns the buffer contents, or nil when the buffer is empty.
	Bytes() []byte
	// Len returns the number of bytes held.
	Len() int
	// Release gives up this holder's claim on the bytes. The buffer is empty afterwards.
	Release()
}

// Factory allocates a buffer of exactly n bytes, or an empty buffer when the heap cannot satisfy the request.
type Factory[B Buffer] func(n int) B

// OwnedFactory returns a Factory producing Owned buffers from a.
func OwnedFactory(a memory.Allocator) Factory[*Owned] {
	return func(n int) *Owned { return NewOwned(a, n) }
}

// SharedFactory returns a Factory producing Shared buffers from a.
func SharedFactory(a memory.Allocator) Factory[*Shared] {
	return func(n int) *Shared { return NewShared(a, n) }
}
