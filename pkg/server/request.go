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

package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/tinyhttp/tinyhttp/pkg/admission"
	"github.com/tinyhttp/tinyhttp/pkg/buffer"
	logutil "github.com/tinyhttp/tinyhttp/pkg/common/observability/logging"
	"github.com/tinyhttp/tinyhttp/pkg/metrics"
	errutil "github.com/tinyhttp/tinyhttp/pkg/util/error"
)

var headTerminator = []byte("\r\n\r\n")

// request serves one connection. Its input window is allocated when reading starts and released when the request
// finishes or is closed before it ran.
type request struct {
	srv      *Server
	conn     *conn
	accepted time.Time

	mu       sync.Mutex
	busy     bool
	closed   bool
	received bool
	win      *buffer.Window[*buffer.Owned]
	parsed   *http.Request
	readErr  error

	headLength    atomic.Int64
	contentLength atomic.Int64
	sent          atomic.Int64
	acked         atomic.Int64
	written       atomic.Int64
}

var (
	_ admission.Request          = &request{}
	_ admission.Receiver         = &request{}
	_ admission.InFlightReporter = &request{}
)

func newRequest(srv *Server, c *conn) *request {
	return &request{srv: srv, conn: c, accepted: srv.clock.Now()}
}

// Receive reads the request head and body, then queues the entry.
func (r *request) Receive(e *admission.Entry) {
	go func() {
		if !r.begin() {
			return
		}
		r.receive()
		r.end()
		r.srv.ctrl.MarkQueued(e)
	}()
}

// Serve handles the request on its own goroutine.
func (r *request) Serve(e *admission.Entry) {
	go r.run(e)
}

// Close closes the connection. Buffers are released here only if no goroutine is using them.
func (r *request) Close() {
	r.mu.Lock()
	r.closed = true
	idle := !r.busy
	r.mu.Unlock()
	_ = r.conn.Close()
	if idle {
		r.release()
	}
}

func (r *request) InFlight() admission.InFlight {
	return admission.InFlight{
		HeadLength:    int(r.headLength.Load()),
		ContentLength: int(r.contentLength.Load()),
		Sent:          int(r.sent.Load()),
		Acked:         int(r.acked.Load()),
		Written:       int(r.written.Load()),
	}
}

// begin claims the request's buffers for the calling goroutine. It reports false if the request was closed.
func (r *request) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.busy = true
	return true
}

// end gives the buffers back, releasing them if the request was closed meanwhile.
func (r *request) end() {
	r.mu.Lock()
	r.busy = false
	closed := r.closed
	r.mu.Unlock()
	if closed {
		r.release()
	}
}

func (r *request) release() {
	if r.win != nil {
		r.win.Release()
		r.win = nil
	}
}

func (r *request) run(e *admission.Entry) {
	if !r.begin() {
		return
	}
	logger := r.srv.logger.WithValues("entry", e.ID(), "conn", r.conn.ID())
	if !r.received {
		r.receive()
	}
	if r.respond(logger) {
		if r.srv.ctrl.ActiveCount() > 1 {
			r.end()
			// Retry once another request has completed and returned its heap.
			if r.srv.ctrl.Defer(e) {
				logger.V(logutil.TRACE).Info("Deferred response for lack of heap")
				if r.srv.ctrl.ActiveCount() == 0 {
					r.srv.ctrl.ProcessQueue()
				}
			}
			return
		}
		r.sendUnavailable(logger)
	}
	r.end()
	r.srv.ctrl.Complete(e)
}

// receive reads and parses the request, storing the result or the error to answer with.
func (r *request) receive() {
	r.received = true
	req, err := r.read()
	if err != nil {
		r.readErr = err
		return
	}
	req.RemoteAddr = r.conn.RemoteAddr()
	r.parsed = req
}

func (r *request) read() (*http.Request, error) {
	cfg := r.srv.cfg
	r.win = buffer.NewWindow(buffer.OwnedFactory(cfg.Heap), cfg.MaxHeaderBytes)
	if r.win.Cap() == 0 {
		metrics.RecordAllocationFailure("request_head")
		return nil, errutil.Error{Code: errutil.ServiceUnavailable, Msg: "no heap for request head"}
	}
	r.win.Resize(0)

	headEnd := -1
	for headEnd < 0 {
		if r.win.Len() == r.win.Cap() {
			return nil, errutil.Error{Code: errutil.PayloadTooLarge, Msg: "request head too large"}
		}
		if err := r.fill(); err != nil {
			return nil, err
		}
		if i := bytes.Index(r.win.Bytes(), headTerminator); i >= 0 {
			headEnd = i + len(headTerminator)
		}
	}
	r.headLength.Store(int64(headEnd))

	br := bufio.NewReaderSize(bytes.NewReader(r.win.Bytes()[:headEnd]), headEnd)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, errutil.Error{Code: errutil.BadRequest, Msg: err.Error()}
	}
	if slices.Contains(req.TransferEncoding, "chunked") {
		return nil, errutil.Error{Code: errutil.BadRequest, Msg: "chunked request bodies are not supported"}
	}
	cl := int(max(req.ContentLength, 0))
	r.contentLength.Store(int64(cl))

	total := headEnd + cl
	if total > r.win.Cap() {
		filled := r.win.Len()
		if r.win.Reallocate(total) != total {
			metrics.RecordAllocationFailure("request_body")
			return nil, errutil.Error{Code: errutil.PayloadTooLarge, Msg: fmt.Sprintf("no heap for a %d byte body", cl)}
		}
		r.win.Resize(filled)
	}
	for r.win.Len() < total {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
	r.win.Advance(headEnd)
	r.win.Resize(cl)
	return req, nil
}

// attempt returns a fresh copy of the parsed request with its body rewound, so a deferred request is handled again
// from the start.
func (r *request) attempt() *http.Request {
	req := r.parsed.Clone(context.Background())
	req.Body = http.NoBody
	if r.contentLength.Load() > 0 {
		req.Body = io.NopCloser(bytes.NewReader(r.win.Bytes()))
	}
	return req
}

// fill reads once into the unfilled tail of the window, making the new bytes visible.
func (r *request) fill() error {
	if err := r.conn.SetReadDeadline(r.srv.clock.Now().Add(r.srv.cfg.IdleTimeout)); err != nil {
		return err
	}
	tail := r.win.Buffer().Bytes()[r.win.Offset()+r.win.Len():]
	n, err := r.conn.Read(tail)
	r.win.RAdvance(-n)
	if n > 0 {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return errutil.Error{Code: errutil.BadRequest, Msg: "connection closed before the request was complete"}
	}
	if isTimeout(err) {
		return errutil.Error{Code: errutil.RequestTimeout, Msg: "idle timeout"}
	}
	return err
}

// respond runs the handler and sends its response. It reports true, without sending anything, if the response
// could not be buffered for lack of heap.
func (r *request) respond(logger logr.Logger) bool {
	cfg := r.srv.cfg
	resp := newResponse(cfg.Heap, cfg.ResponseChunkBytes)
	defer resp.release()

	err := r.readErr
	if err == nil {
		err = r.srv.handle(resp, r.attempt())
	}
	if errors.Is(err, buffer.ErrExhausted) || !resp.body.Valid() {
		metrics.RecordAllocationFailure("response")
		return true
	}
	if err != nil {
		if resp.status == 0 || r.readErr != nil {
			status := errutil.HTTPStatus(err)
			resp.reset(cfg.Heap, cfg.ResponseChunkBytes)
			resp.header.Set("Content-Type", "text/plain")
			resp.WriteHeader(status)
			if _, werr := io.WriteString(resp, http.StatusText(status)+"\n"); werr != nil {
				return true
			}
		}
		if r.readErr != nil {
			logger.V(logutil.DEBUG).Info("Request not readable", "err", err, "status", resp.status)
		} else {
			logger.V(logutil.DEBUG).Info("Handler failed", "err", err, "status", resp.status)
		}
	}
	if resp.status == 0 {
		resp.WriteHeader(http.StatusOK)
	}
	return !r.send(resp, logger)
}

// send buffers the response head and writes head and body to the connection. It reports false if the head could not
// be buffered, in which case nothing was written.
func (r *request) send(resp *response, logger logr.Logger) bool {
	cfg := r.srv.cfg
	head := buffer.NewChainWriter(buffer.NewChain(buffer.OwnedFactory(cfg.Heap), cfg.ResponseChunkBytes), cfg.ResponseChunkBytes)
	defer head.Chain().Release()
	bodyLen := resp.body.Written()
	if err := writeHead(head, resp.status, resp.header, bodyLen); err != nil {
		metrics.RecordAllocationFailure("response_head")
		return false
	}

	err := r.conn.SetWriteDeadline(r.srv.clock.Now().Add(cfg.IdleTimeout))
	if err == nil {
		var n int64
		n, err = head.WriteTo(r.conn)
		r.sent.Add(n)
		if err == nil && (r.parsed == nil || r.parsed.Method != http.MethodHead) {
			n, err = resp.body.WriteTo(r.conn)
			r.sent.Add(n)
		}
	}
	if err != nil {
		logger.V(logutil.DEBUG).Info("Failed to send response", "err", err, "sent", r.sent.Load())
		return true
	}
	r.acked.Store(r.sent.Load())
	r.written.Store(int64(bodyLen))
	metrics.RecordResponse(resp.status, bodyLen)
	metrics.RecordRequestLatency(r.accepted, r.srv.clock.Now())
	logger.V(logutil.TRACE).Info("Sent response", "status", resp.status, "bytes", r.sent.Load())
	return true
}

// sendUnavailable answers with the preformatted 503, which needs no heap.
func (r *request) sendUnavailable(logger logr.Logger) {
	n, err := r.conn.Write(admission.RejectResponse())
	r.sent.Add(int64(n))
	if err != nil || n == 0 {
		logger.V(logutil.DEBUG).Info("Failed to send 503, aborting connection", "err", err)
		_ = r.conn.Abort()
		return
	}
	metrics.RecordResponse(http.StatusServiceUnavailable, 0)
	logger.V(logutil.DEBUG).Info("Answered 503 for lack of heap")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
