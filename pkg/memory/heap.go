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

// Allocator hands out byte slices from a finite heap.
type Allocator interface {
	// Alloc returns a slice of exactly n bytes, or nil when the heap cannot satisfy the request. A request for zero or
	// fewer bytes returns nil.
	Alloc(n int) []byte
	// Release returns a slice obtained from Alloc to the heap. The slice must not be used afterwards. Releasing nil is a
	// no-op.
	Release(p []byte)
}

// Probe reports the current state of a heap.
type Probe interface {
	// FreeBytes is the total number of bytes still available.
	FreeBytes() uint64
	// MaxBlock is the size of the largest single allocation that would currently succeed.
	MaxBlock() uint64
}

// Heap is an Allocator that can also be probed.
type Heap interface {
	Allocator
	Probe
}

// HeapOK reports whether p has more than minFree bytes available and can still satisfy an allocation larger than
// minBlock.
func HeapOK(p Probe, minFree, minBlock uint64) bool {
	return p.FreeBytes() > minFree && p.MaxBlock() > minBlock
}
