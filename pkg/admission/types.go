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
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/tinyhttp/tinyhttp/pkg/linkedlist"
)

// State is the scheduling state of a queue entry.
type State int32

const (
	// StateReceiving marks an entry whose request is not yet ready to run. It is not eligible for dispatch.
	StateReceiving State = iota
	// StateQueued marks an entry waiting for dispatch.
	StateQueued
	// StateDeferred marks a queued entry excluded from the rest of the current pass.
	StateDeferred
	// StateActive marks an entry whose request has been dispatched and has not completed.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "RECEIVING"
	case StateQueued:
		return "QUEUED"
	case StateDeferred:
		return "DEFERRED"
	case StateActive:
		return "ACTIVE"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Limits bound the queue. A zero field places no limit.
type Limits struct {
	// MaxQueued is the most entries the queue may hold, in any state.
	MaxQueued int `json:"maxQueued,omitempty"`
	// MaxParallel is the most entries that may be active at once.
	MaxParallel int `json:"maxParallel,omitempty"`
	// RequestHeapBytes is the heap a request is expected to need while it runs.
	RequestHeapBytes uint64 `json:"requestHeapBytes,omitempty"`
	// QueueHeapBytes is the heap that must remain free for new connections to be queued at all.
	QueueHeapBytes uint64 `json:"queueHeapBytes,omitempty"`
}

// dispatchHeapBytes is the free heap needed before another entry is activated. It saturates at math.MaxUint64
// instead of wrapping, so oversized limits close the gate.
func (l Limits) dispatchHeapBytes() uint64 {
	if sum := l.RequestHeapBytes + l.QueueHeapBytes; sum >= l.RequestHeapBytes {
		return sum
	}
	return math.MaxUint64
}

func (l Limits) String() string {
	return fmt.Sprintf("maxQueued=%d maxParallel=%d requestHeap=%d queueHeap=%d",
		l.MaxQueued, l.MaxParallel, l.RequestHeapBytes, l.QueueHeapBytes)
}

// Conn is the transport connection an entry serves.
type Conn interface {
	// ID identifies the connection in logs and status dumps.
	ID() string
	// RemoteAddr is the peer address.
	RemoteAddr() string
	Write(p []byte) (int, error)
	Close() error
}

// Aborter is implemented by connections that can be closed forcibly, discarding unsent data.
type Aborter interface {
	Abort() error
}

// Request is the per-connection request state created on admission.
type Request interface {
	// Serve starts handling the request. It is called once the entry has been marked active, outside the controller
	// lock, and should not block for the duration of the request: the scheduling pass waits for it to return.
	Serve(e *Entry)
	// Close releases everything the request holds, including its connection. It is called exactly once, when the
	// entry leaves the queue, with the controller lock held; it must not call back into the Controller.
	Close()
}

// Receiver is implemented by requests that must receive data before they can be queued. Receive is called once,
// outside the controller lock, right after an entry is admitted in StateReceiving. The request calls
// Controller.MarkQueued when it is ready.
type Receiver interface {
	Receive(e *Entry)
}

// InFlight describes the bytes a request has moving through the transport.
type InFlight struct {
	HeadLength    int
	ContentLength int
	Sent          int
	Acked         int
	Written       int
}

// InFlightReporter is implemented by requests that can describe their in-flight bytes for status dumps.
type InFlightReporter interface {
	InFlight() InFlight
}

// RequestFactory creates the request for an admitted connection. It returns nil if the request could not be
// allocated, in which case the connection is rejected.
type RequestFactory func(conn Conn) Request

// Entry is a queued request. Entries are created by the Controller and remain owned by it until Complete.
type Entry struct {
	id       string
	conn     Conn
	req      Request
	state    atomic.Int32
	enqueued time.Time
	handle   linkedlist.Handle
}

// ID returns the entry's unique identifier.
func (e *Entry) ID() string { return e.id }

// Conn returns the connection the entry serves.
func (e *Entry) Conn() Conn { return e.conn }

// Request returns the entry's request.
func (e *Entry) Request() Request { return e.req }

// State returns the entry's current scheduling state.
func (e *Entry) State() State { return State(e.state.Load()) }

// EnqueueTime returns when the entry was admitted.
func (e *Entry) EnqueueTime() time.Time { return e.enqueued }

func (e *Entry) setState(s State) { e.state.Store(int32(s)) }
