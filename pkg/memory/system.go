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
	"math"
	"runtime/debug"
	"runtime/metrics"
)

// heapObjectsMetric is the runtime metric holding bytes occupied by live and not-yet-swept heap objects.
const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// System allocates from the Go runtime. Allocation never fails; the probe reports headroom against the soft memory
// limit set with debug.SetMemoryLimit (or GOMEMLIMIT). Without a limit the heap is reported as unbounded.
type System struct{}

var _ Heap = System{}

// Alloc returns make([]byte, n) for positive n.
func (System) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	return make([]byte, n)
}

// Release is a no-op; the garbage collector reclaims the slice.
func (System) Release([]byte) {}

// FreeBytes returns the soft memory limit minus the bytes held by heap objects.
func (System) FreeBytes() uint64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return math.MaxUint64
	}
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return math.MaxUint64
	}
	inUse := sample[0].Value.Uint64()
	if inUse >= uint64(limit) {
		return 0
	}
	return uint64(limit) - inUse
}

// MaxBlock equals FreeBytes; the runtime heap is not fragmented from the caller's point of view.
func (s System) MaxBlock() uint64 {
	return s.FreeBytes()
}
