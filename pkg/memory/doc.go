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

// Package memory models the device heap as an explicit, fallible capability.
//
// The Go runtime allocator never reports failure; a memory-constrained server needs it to. Every component that
// allocates request or response storage does so through an [Allocator], which either returns a slice of exactly the
// requested length or nil. The admission controller consults a [Probe] to learn how much headroom is left before it
// lets another request start.
//
// Two implementations are provided:
//
//   - [Budget] is a bounded heap with a fixed capacity and a largest-block limit, the latter standing in for a
//     fragmented heap where plenty of bytes are free but no single region is large enough.
//   - [System] allocates from the Go runtime and reports headroom against the process soft memory limit.
package memory
