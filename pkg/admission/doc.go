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

// Package admission decides, connection by connection and pass by pass, which requests may run.
//
// Every accepted connection is first screened against the heap and the configured [Limits]; a connection that fails
// the screen is answered with a fixed 503 response and closed before any per-request state is allocated. Admitted
// connections become [Entry] values in a single FIFO queue owned by the [Controller].
//
// # Scheduling passes
//
// A pass runs whenever something might have changed: a connection is admitted, a request is marked ready, a request
// completes, or the limits change. Each iteration of a pass looks at the first queued entry and dispatches it unless
//
//   - MaxParallel requests are already active, or
//   - at least one request is active and the heap is below RequestHeapBytes + QueueHeapBytes.
//
// With nothing active, the first queued entry is always dispatched regardless of the heap, so the server always makes
// forward progress. A dispatched request that finds it cannot run yet may [Controller.Defer] itself; it is skipped for
// the rest of the pass and becomes eligible again when the pass ends.
//
// Passes are not reentrant. A trigger that arrives while a pass is running is folded into that pass, which runs one
// more iteration round before it finishes.
//
// # Ownership
//
// The queue owns every entry from admission until [Controller.Complete] removes it. Removal is the only way an entry
// leaves the queue, and it always closes the entry's [Request] first.
package admission
