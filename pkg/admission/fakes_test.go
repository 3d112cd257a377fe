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
	"fmt"
	"sync"
	"sync/atomic"
)

type fakeConn struct {
	id       string
	writeErr error
	mu       sync.Mutex
	written  []byte
	closed   int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "10.0.0.1:" + c.id }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.written)
}

func (c *fakeConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// abortableConn also supports forced close.
type abortableConn struct {
	*fakeConn
	aborted atomic.Int32
}

func (c *abortableConn) Abort() error {
	c.aborted.Add(1)
	return nil
}

// recorder collects the order in which requests are served.
type recorder struct {
	mu     sync.Mutex
	served []string
}

func (r *recorder) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.served = append(r.served, id)
}

func (r *recorder) Served() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.served...)
}

type fakeRequest struct {
	conn    Conn
	rec     *recorder
	onServe func(e *Entry)
	closed  atomic.Int32
	entry   atomic.Pointer[Entry]
}

func (r *fakeRequest) Serve(e *Entry) {
	r.entry.Store(e)
	r.rec.add(r.conn.ID())
	if r.onServe != nil {
		r.onServe(e)
	}
}

func (r *fakeRequest) Close() {
	r.closed.Add(1)
	_ = r.conn.Close()
}

type reportingRequest struct {
	fakeRequest
	inFlight InFlight
}

func (r *reportingRequest) InFlight() InFlight { return r.inFlight }

type receivingRequest struct {
	fakeRequest
	received atomic.Int32
}

func (r *receivingRequest) Receive(*Entry) { r.received.Add(1) }

// requestTracker is a RequestFactory that remembers every request it created, by connection ID.
type requestTracker struct {
	rec     recorder
	mu      sync.Mutex
	reqs    map[string]*fakeRequest
	onServe func(e *Entry)
	calls   atomic.Int32
}

func newRequestTracker() *requestTracker {
	return &requestTracker{reqs: map[string]*fakeRequest{}}
}

func (t *requestTracker) New(conn Conn) Request {
	t.calls.Add(1)
	r := &fakeRequest{conn: conn, rec: &t.rec, onServe: t.onServe}
	t.mu.Lock()
	t.reqs[conn.ID()] = r
	t.mu.Unlock()
	return r
}

func (t *requestTracker) Get(id string) *fakeRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.reqs[id]
	if !ok {
		panic(fmt.Sprintf("no request for conn %q", id))
	}
	return r
}

var errBrokenPipe = errors.New("broken pipe")
