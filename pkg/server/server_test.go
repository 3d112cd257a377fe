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
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyhttp/tinyhttp/pkg/admission"
	logutil "github.com/tinyhttp/tinyhttp/pkg/common/observability/logging"
	"github.com/tinyhttp/tinyhttp/pkg/memory"
	errutil "github.com/tinyhttp/tinyhttp/pkg/util/error"
)

// startServer serves s on a loopback listener until the test ends and returns the address.
func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String()
}

func newTestServer(t *testing.T, heap memory.Heap, opts ...admission.ConfigOption) *Server {
	t.Helper()
	s, err := New(Config{Heap: heap, IdleTimeout: time.Second, Logger: logutil.NewTestLogger()}, opts...)
	require.NoError(t, err)
	return s
}

func roundTrip(t *testing.T, addr, raw string) string {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(c, raw)
	require.NoError(t, err)
	b, err := io.ReadAll(c)
	require.NoError(t, err)
	return string(b)
}

func parseResponse(t *testing.T, raw string) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	require.NoError(t, err, "response: %q", raw)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServeRoutes(t *testing.T) {
	budget := memory.NewBudget(1<<20, 0)
	s := newTestServer(t, budget)
	s.HandleFunc(http.MethodGet, "/hello", func(w ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "text/plain")
		_, err := fmt.Fprintf(w, "hello %s", r.URL.Query().Get("name"))
		return err
	})
	s.HandleFunc(http.MethodPost, "/echo", func(w ResponseWriter, r *http.Request) error {
		_, err := io.Copy(w, r.Body)
		return err
	})
	s.HandleFunc(http.MethodGet, "/bad", func(ResponseWriter, *http.Request) error {
		return errutil.Error{Code: errutil.BadRequest, Msg: "nope"}
	})
	s.RewriteURL("/", "/hello?name=index")
	addr := startServer(t, s)

	tests := []struct {
		name       string
		raw        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "handler",
			raw:        "GET /hello?name=world HTTP/1.1\r\nHost: test\r\n\r\n",
			wantStatus: http.StatusOK,
			wantBody:   "hello world",
		},
		{
			name:       "rewrite",
			raw:        "GET / HTTP/1.1\r\nHost: test\r\n\r\n",
			wantStatus: http.StatusOK,
			wantBody:   "hello index",
		},
		{
			name:       "body",
			raw:        "POST /echo HTTP/1.1\r\nHost: test\r\nContent-Length: 11\r\n\r\nhello there",
			wantStatus: http.StatusOK,
			wantBody:   "hello there",
		},
		{
			name:       "not found",
			raw:        "GET /missing HTTP/1.1\r\nHost: test\r\n\r\n",
			wantStatus: http.StatusNotFound,
			wantBody:   "Not Found\n",
		},
		{
			name:       "handler error",
			raw:        "GET /bad HTTP/1.1\r\nHost: test\r\n\r\n",
			wantStatus: http.StatusBadRequest,
			wantBody:   "Bad Request\n",
		},
		{
			name:       "malformed",
			raw:        "NONSENSE\r\n\r\n",
			wantStatus: http.StatusBadRequest,
			wantBody:   "Bad Request\n",
		},
		{
			name:       "body does not fit",
			raw:        "POST /echo HTTP/1.1\r\nHost: test\r\nContent-Length: 4194304\r\n\r\n",
			wantStatus: http.StatusRequestEntityTooLarge,
			wantBody:   "Request Entity Too Large\n",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resp, body := parseResponse(t, roundTrip(t, addr, test.raw))
			assert.Equal(t, test.wantStatus, resp.StatusCode)
			assert.Equal(t, test.wantBody, body)
			assert.True(t, resp.Close, "responses close the connection")
		})
	}

	require.Eventually(t, func() bool { return budget.Stats().Used == 0 }, 5*time.Second, 10*time.Millisecond,
		"buffers are returned to the heap")
	assert.Equal(t, 0, s.Controller().NumClients())
}

func TestServeResponseOutOfHeap(t *testing.T) {
	budget := memory.NewBudget(16<<10, 0)
	s := newTestServer(t, budget)
	s.HandleFunc(http.MethodGet, "/big", func(w ResponseWriter, _ *http.Request) error {
		_, err := w.Write(make([]byte, 64<<10))
		return err
	})
	addr := startServer(t, s)

	got := roundTrip(t, addr, "GET /big HTTP/1.1\r\nHost: test\r\n\r\n")
	assert.Equal(t, string(admission.RejectResponse()), got)
	require.Eventually(t, func() bool { return budget.Stats().Used == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServeRejectsWhenQueueFull(t *testing.T) {
	s := newTestServer(t, memory.NewBudget(1<<20, 0),
		admission.WithLimits(admission.Limits{MaxQueued: 1, MaxParallel: 1}))
	entered := make(chan struct{})
	release := make(chan struct{})
	s.HandleFunc(http.MethodGet, "/slow", func(w ResponseWriter, _ *http.Request) error {
		close(entered)
		<-release
		_, err := io.WriteString(w, "done")
		return err
	})
	addr := startServer(t, s)

	first := make(chan string, 1)
	go func() { first <- roundTrip(t, addr, "GET /slow HTTP/1.1\r\nHost: test\r\n\r\n") }()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request was not dispatched")
	}

	assert.Equal(t, string(admission.RejectResponse()), roundTrip(t, addr, "GET /slow HTTP/1.1\r\nHost: test\r\n\r\n"))

	close(release)
	resp, body := parseResponse(t, <-first)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "done", body)
}

func TestServeIdleTimeout(t *testing.T) {
	s, err := New(Config{Heap: memory.NewBudget(1<<20, 0), IdleTimeout: 100 * time.Millisecond, Logger: logutil.NewTestLogger()})
	require.NoError(t, err)
	addr := startServer(t, s)

	resp, _ := parseResponse(t, roundTrip(t, addr, ""))
	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
}

func TestServeReceiveFirst(t *testing.T) {
	s := newTestServer(t, memory.NewBudget(1<<20, 0), admission.WithReceiveFirst(true))
	s.HandleFunc(http.MethodGet, "/", func(w ResponseWriter, _ *http.Request) error {
		_, err := io.WriteString(w, "ok")
		return err
	})
	addr := startServer(t, s)

	resp, body := parseResponse(t, roundTrip(t, addr, "GET / HTTP/1.1\r\nHost: test\r\n\r\n"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestRemoveHandlerAndRewrite(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.HandleFunc(http.MethodGet, "/a", func(ResponseWriter, *http.Request) error { return nil })
	rw := s.RewriteURL("/b", "/a")

	assert.True(t, s.RemoveHandler(h))
	assert.False(t, s.RemoveHandler(h))
	assert.True(t, s.RemoveRewrite(rw))
	assert.False(t, s.RemoveRewrite(rw))

	s.SetNotFoundHandler(Route("", "/*", func(w ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusGone)
		return nil
	}))
	resp := newResponse(nil, 64)
	defer resp.release()
	r, err := http.ReadRequest(bufio.NewReader(strings.NewReader("GET /b HTTP/1.1\r\nHost: test\r\n\r\n")))
	require.NoError(t, err)
	require.NoError(t, s.handle(resp, r))
	assert.Equal(t, http.StatusGone, resp.status)
}

func TestServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t, memory.NewBudget(1<<20, 0))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	// An idle connection is still open when the server stops.
	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return s.Controller().NumClients() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, 0, s.Controller().NumClients())

	_, err = net.Dial("tcp", ln.Addr().String())
	assert.Error(t, err)
}
