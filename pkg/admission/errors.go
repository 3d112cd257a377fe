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

package admission

import (
	"errors"
)

// --- High-Level Outcome Errors ---

var (
	// ErrRejected indicates a connection was turned away before an entry was created for it. Every error returned by
	// Controller.OnConnectionAccepted wraps it.
	//
	// Callers should use errors.Is(err, ErrRejected) to check for this general class of failure.
	ErrRejected = errors.New("connection rejected")
)

// --- Rejection Reasons ---

// The following errors explain a rejection. They are wrapped together with ErrRejected.
var (
	// ErrHeapCritical indicates the heap was below the safety floor needed to do anything with the connection.
	ErrHeapCritical = errors.New("heap critically low")

	// ErrQueueHeapUnavailable indicates the heap was below Limits.QueueHeapBytes.
	ErrQueueHeapUnavailable = errors.New("insufficient heap to queue request")

	// ErrQueueAtCapacity indicates the queue already held Limits.MaxQueued entries.
	ErrQueueAtCapacity = errors.New("queue at capacity")

	// ErrRequestUnavailable indicates the request factory could not produce a request for the connection.
	ErrRequestUnavailable = errors.New("request could not be allocated")
)
