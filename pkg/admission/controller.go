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
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	logutil "github.com/tinyhttp/tinyhttp/pkg/common/observability/logging"
	"github.com/tinyhttp/tinyhttp/pkg/linkedlist"
	"github.com/tinyhttp/tinyhttp/pkg/memory"
	"github.com/tinyhttp/tinyhttp/pkg/metrics"
)

const (
	stopDrained     = "drained"
	stopMaxParallel = "max_parallel"
	stopHeap        = "heap"
)

// Controller is the admission controller and request queue. It is safe for concurrent use unless configured
// WithoutLocking.
type Controller struct {
	cfg        *Config
	probe      memory.Probe
	newRequest RequestFactory
	logger     logr.Logger
	clock      clock.PassiveClock
	mu         sync.Locker

	// The following are guarded by mu.
	queue      *linkedlist.List[*Entry]
	limits     Limits
	reserved   int
	processing bool
	rerun      bool
}

// NewController creates a controller that checks heap headroom with probe and creates requests with newRequest.
func NewController(probe memory.Probe, newRequest RequestFactory, opts ...ConfigOption) (*Controller, error) {
	if probe == nil {
		return nil, errors.New("probe cannot be nil")
	}
	if newRequest == nil {
		return nil, errors.New("request factory cannot be nil")
	}
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:        cfg,
		probe:      probe,
		newRequest: newRequest,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		mu:         cfg.Locker,
		limits:     cfg.Limits,
	}
	c.queue = linkedlist.New(c.evict)
	return c, nil
}

// evict is the queue's removal hook and the only place a request is closed.
func (c *Controller) evict(e *Entry) {
	c.logger.V(logutil.TRACE).Info("Removing entry", "entry", e.id, "state", e.State())
	e.req.Close()
}

// OnConnectionAccepted screens a new connection. An admitted connection becomes a queue entry and a scheduling pass
// runs. A rejected connection is answered with a 503 and closed, and the returned error wraps ErrRejected.
func (c *Controller) OnConnectionAccepted(conn Conn) (*Entry, error) {
	free, block := c.probe.FreeBytes(), c.probe.MaxBlock()
	metrics.RecordHeap(free, block)
	if !memory.HeapOK(c.probe, c.cfg.MinimumHeap, c.cfg.MinimumAlloc) {
		return nil, c.reject(conn, ErrHeapCritical, metrics.OutcomeHeapCritical)
	}

	c.mu.Lock()
	limits := c.limits
	var reason error
	var outcome string
	switch {
	case limits.QueueHeapBytes > 0 && free <= limits.QueueHeapBytes:
		reason, outcome = ErrQueueHeapUnavailable, metrics.OutcomeQueueHeapShortage
	case limits.MaxQueued > 0 && c.queue.Len()+c.reserved >= limits.MaxQueued:
		reason, outcome = ErrQueueAtCapacity, metrics.OutcomeQueueAtCapacity
	default:
		// Hold a queue slot while the request is created outside the lock.
		c.reserved++
	}
	c.mu.Unlock()
	if reason != nil {
		return nil, c.reject(conn, reason, outcome)
	}

	req := c.newRequest(conn)

	c.mu.Lock()
	c.reserved--
	if req == nil {
		c.mu.Unlock()
		metrics.RecordAllocationFailure("request")
		return nil, c.reject(conn, ErrRequestUnavailable, metrics.OutcomeRequestFailed)
	}
	e := &Entry{
		id:       uuid.NewString(),
		conn:     conn,
		req:      req,
		enqueued: c.clock.Now(),
	}
	state := StateQueued
	if c.cfg.ReceiveFirst {
		state = StateReceiving
	}
	e.setState(state)
	e.handle = c.queue.Add(e)
	c.updateGauges()
	c.mu.Unlock()

	metrics.RecordAdmission(metrics.OutcomeAdmitted)
	c.logger.V(logutil.TRACE).Info("Admitted connection", "entry", e.id, "conn", conn.ID(), "state", state)

	if state == StateReceiving {
		if r, ok := req.(Receiver); ok {
			r.Receive(e)
			return e, nil
		}
		c.MarkQueued(e)
		return e, nil
	}
	c.ProcessQueue()
	return e, nil
}

// MarkQueued promotes an entry from StateReceiving to StateQueued and runs a scheduling pass. It reports false if
// the entry is no longer queued or not receiving.
func (c *Controller) MarkQueued(e *Entry) bool {
	c.mu.Lock()
	ok := c.live(e) && e.State() == StateReceiving
	if ok {
		e.setState(StateQueued)
		c.updateGauges()
	}
	c.mu.Unlock()
	if ok {
		c.ProcessQueue()
	}
	return ok
}

// Defer returns a queued or active entry to the queue because it cannot run yet. During a scheduling pass the entry
// is skipped until the pass ends; otherwise it is queued immediately and considered by the next pass. Defer does not
// start a pass itself.
func (c *Controller) Defer(e *Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live(e) {
		return false
	}
	switch e.State() {
	case StateActive, StateQueued:
	default:
		return false
	}
	if c.processing {
		e.setState(StateDeferred)
	} else {
		e.setState(StateQueued)
	}
	c.updateGauges()
	metrics.RecordDeferral()
	c.logger.V(logutil.TRACE).Info("Deferred entry", "entry", e.id, "state", e.State())
	return true
}

// Complete removes an entry from the queue, closing its request, and runs a scheduling pass. An entry may be removed
// in any state. It reports whether the entry was still queued.
func (c *Controller) Complete(e *Entry) bool {
	c.mu.Lock()
	removed := c.queue.RemoveAt(e.handle, linkedlist.Handle{})
	c.updateGauges()
	c.mu.Unlock()
	c.ProcessQueue()
	return removed
}

// RemoveIf removes the first entry, from the head of the queue, for which pred returns true, then runs a scheduling
// pass. pred is called with the controller lock held.
func (c *Controller) RemoveIf(pred func(*Entry) bool) bool {
	c.mu.Lock()
	removed := c.queue.RemoveFunc(pred)
	c.updateGauges()
	c.mu.Unlock()
	c.ProcessQueue()
	return removed
}

// ProcessQueue runs a scheduling pass. If a pass is already running, it is asked to run again before finishing and
// ProcessQueue returns immediately.
func (c *Controller) ProcessQueue() {
	c.mu.Lock()
	if c.processing {
		c.rerun = true
		c.mu.Unlock()
		return
	}
	c.processing = true
	c.mu.Unlock()

	for {
		reason := c.dispatchLoop()

		c.mu.Lock()
		for _, e := range c.queue.All() {
			if e.State() == StateDeferred {
				e.setState(StateQueued)
			}
		}
		again := c.rerun
		c.rerun = false
		if !again {
			c.processing = false
		}
		c.updateGauges()
		c.mu.Unlock()

		metrics.RecordSchedulingPass(reason)
		if !again {
			return
		}
	}
}

// dispatchLoop dispatches queued entries in FIFO order until one of the stop conditions holds, and returns which.
func (c *Controller) dispatchLoop() string {
	for {
		free := c.probe.FreeBytes()

		c.mu.Lock()
		limits := c.limits
		heapOK := free >= limits.dispatchHeapBytes()
		active := 0
		var next *Entry
		for _, e := range c.queue.All() {
			switch e.State() {
			case StateActive:
				active++
			case StateQueued:
				if next == nil {
					next = e
				}
			}
		}

		var stop string
		switch {
		case next == nil:
			stop = stopDrained
		case limits.MaxParallel > 0 && active >= limits.MaxParallel:
			stop = stopMaxParallel
		case active > 0 && !heapOK:
			// With nothing active the head is dispatched regardless of the heap.
			stop = stopHeap
		default:
			next.setState(StateActive)
			c.updateGauges()
		}
		c.mu.Unlock()

		if stop != "" {
			c.logger.V(logutil.TRACE).Info("Scheduling pass stopped", "reason", stop, "active", active, "freeHeap", free)
			return stop
		}

		metrics.RecordDispatch(c.clock.Since(next.enqueued))
		c.logger.V(logutil.TRACE).Info("Dispatching entry", "entry", next.id, "conn", next.conn.ID(), "active", active+1)
		next.req.Serve(next)
	}
}

// SetLimits replaces the limits and runs a scheduling pass. The new limits only govern decisions made from now on;
// nothing already admitted or active is evicted.
func (c *Controller) SetLimits(l Limits) error {
	if err := ValidateLimits(l); err != nil {
		return err
	}
	c.mu.Lock()
	c.limits = l
	c.mu.Unlock()
	c.logger.V(logutil.DEFAULT).Info("Queue limits updated", "limits", l.String())
	c.ProcessQueue()
	return nil
}

// Limits returns the current limits.
func (c *Controller) Limits() Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

// NumClients returns the number of entries in the queue, in any state.
func (c *Controller) NumClients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// QueueLength returns the number of entries waiting for dispatch, deferred ones included.
func (c *Controller) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.CountIf(func(e *Entry) bool {
		s := e.State()
		return s == StateQueued || s == StateDeferred
	})
}

// ActiveCount returns the number of dispatched entries that have not completed.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.CountIf(func(e *Entry) bool { return e.State() == StateActive })
}

// Shutdown removes every entry, closing each request.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.queue.Len()
	c.queue.Free()
	c.updateGauges()
	c.logger.V(logutil.DEFAULT).Info("Admission queue shut down", "closed", n)
}

func (c *Controller) live(e *Entry) bool {
	v, ok := c.queue.Value(e.handle)
	return ok && v == e
}

// updateGauges publishes the per-state entry counts. The caller must hold mu.
func (c *Controller) updateGauges() {
	var counts [StateActive + 1]int
	for _, e := range c.queue.All() {
		if s := e.State(); s >= 0 && s <= StateActive {
			counts[s]++
		}
	}
	for s, n := range counts {
		metrics.SetQueueEntries(State(s).String(), n)
	}
}
