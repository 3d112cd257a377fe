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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/tinyhttp/tinyhttp/pkg/admission"
	"github.com/tinyhttp/tinyhttp/pkg/common"
	logutil "github.com/tinyhttp/tinyhttp/pkg/common/observability/logging"
	"github.com/tinyhttp/tinyhttp/pkg/linkedlist"
	"github.com/tinyhttp/tinyhttp/pkg/memory"
)

const (
	DefaultMaxHeaderBytes     = 2048
	DefaultResponseChunkBytes = common.DefaultChunkBytes
	DefaultIdleTimeout        = 3 * time.Second

	rejectLogTTL      = time.Minute
	rejectLogCapacity = 1024
	maxAcceptBackoff  = time.Second
)

// Config holds the server's transport settings. Zero fields take defaults.
type Config struct {
	// Heap backs request and response buffers and is probed by admission control.
	Heap memory.Heap
	// MaxHeaderBytes is the size of the buffer a request head must fit in.
	MaxHeaderBytes int
	// ResponseChunkBytes is the size of each buffer a response is assembled in.
	ResponseChunkBytes int
	// IdleTimeout bounds each read and write on a connection.
	IdleTimeout time.Duration
	Clock       clock.Clock
	Logger      logr.Logger
}

func (c *Config) setDefaults() {
	if c.Heap == nil {
		c.Heap = memory.System{}
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if c.ResponseChunkBytes <= 0 {
		c.ResponseChunkBytes = DefaultResponseChunkBytes
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Logger.GetSink() == nil {
		c.Logger = log.Log.WithName("server")
	}
}

// Server accepts HTTP/1.1 connections and serves them under admission control, one request per connection.
type Server struct {
	cfg    Config
	ctrl   *admission.Controller
	clock  clock.Clock
	logger logr.Logger

	regMu    sync.RWMutex
	handlers *linkedlist.List[Handler]
	rewrites *linkedlist.List[*Rewrite]
	notFound Handler

	connMu sync.Mutex
	conns  map[*conn]struct{}

	rejectLog *ttlcache.Cache[string, struct{}]
}

// New creates a Server. opts configure its admission controller, which probes cfg.Heap.
func New(cfg Config, opts ...admission.ConfigOption) (*Server, error) {
	cfg.setDefaults()
	s := &Server{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		notFound: notFoundHandler{},
		conns:    map[*conn]struct{}{},
		rejectLog: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](rejectLogTTL),
			ttlcache.WithCapacity[string, struct{}](rejectLogCapacity),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
	s.handlers = linkedlist.New(func(h Handler) {
		s.logger.V(logutil.VERBOSE).Info("Handler removed", "handler", fmt.Sprintf("%T", h))
	})
	s.rewrites = linkedlist.New(func(rw *Rewrite) {
		s.logger.V(logutil.VERBOSE).Info("Rewrite removed", "from", rw.From, "to", rw.To)
	})
	ctrl, err := admission.NewController(cfg.Heap, s.newRequest, opts...)
	if err != nil {
		return nil, err
	}
	s.ctrl = ctrl
	return s, nil
}

// Controller returns the server's admission controller.
func (s *Server) Controller() *admission.Controller { return s.ctrl }

// AddHandler registers h. Handlers are consulted in registration order.
func (s *Server) AddHandler(h Handler) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.handlers.Add(h)
}

// HandleFunc registers fn for method and path and returns the route so a filter can be attached.
func (s *Server) HandleFunc(method, path string, fn HandlerFunc) *RouteHandler {
	h := Route(method, path, fn)
	s.AddHandler(h)
	return h
}

// RemoveHandler unregisters h. It reports whether h was registered.
func (s *Server) RemoveHandler(h Handler) bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.handlers.Remove(h)
}

// SetNotFoundHandler replaces the handler used when no registered handler claims a request.
func (s *Server) SetNotFoundHandler(h Handler) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.notFound = h
}

// AddRewrite registers rw. The first matching rewrite is applied before handlers are consulted.
func (s *Server) AddRewrite(rw *Rewrite) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.rewrites.Add(rw)
}

// RewriteURL registers a rewrite from one path to another URL.
func (s *Server) RewriteURL(from, to string) *Rewrite {
	rw := &Rewrite{From: from, To: to}
	s.AddRewrite(rw)
	return rw
}

// RemoveRewrite unregisters rw. It reports whether rw was registered.
func (s *Server) RemoveRewrite(rw *Rewrite) bool {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.rewrites.Remove(rw)
}

// handle applies rewrites to r and runs the handler that claims it.
func (s *Server) handle(w ResponseWriter, r *http.Request) error {
	s.regMu.RLock()
	var rewrite *Rewrite
	for _, rw := range s.rewrites.All() {
		if rw.match(r) {
			rewrite = rw
			break
		}
	}
	s.regMu.RUnlock()
	if rewrite != nil {
		if err := rewrite.apply(r); err != nil {
			return err
		}
	}

	s.regMu.RLock()
	h := s.notFound
	for _, candidate := range s.handlers.All() {
		if candidate.CanHandle(r) {
			h = candidate
			break
		}
	}
	s.regMu.RUnlock()
	return h.Handle(w, r)
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s - %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is done, then closes ln and every connection still open.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := s.logger.WithValues("addr", ln.Addr().String())
	logger.Info("Server listening")

	go s.rejectLog.Start()
	defer s.rejectLog.Stop()

	doneCh := make(chan struct{})
	defer close(doneCh)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-doneCh:
		}
	}()

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info("Server shutting down")
				return s.shutdown()
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), maxAcceptBackoff)
			logger.Error(err, "Accept failed", "retryIn", backoff)
			select {
			case <-s.clock.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0
		s.accept(nc)
	}
}

func (s *Server) accept(nc net.Conn) {
	c := newConn(nc, s.untrack)
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()

	if _, err := s.ctrl.OnConnectionAccepted(c); err != nil {
		s.logReject(c, err)
	}
}

func (s *Server) untrack(c *conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

// logReject logs the first rejection per remote host per minute at the default level and the rest at trace.
func (s *Server) logReject(c *conn, err error) {
	host := c.RemoteHost()
	if s.rejectLog.Has(host) {
		s.logger.V(logutil.TRACE).Info("Rejected connection", "remote", c.RemoteAddr(), "reason", err)
		return
	}
	s.rejectLog.Set(host, struct{}{}, ttlcache.DefaultTTL)
	s.logger.V(logutil.DEFAULT).Info("Rejected connection", "remote", c.RemoteAddr(), "reason", err)
}

func (s *Server) newRequest(c admission.Conn) admission.Request {
	cc, ok := c.(*conn)
	if !ok {
		return nil
	}
	return newRequest(s, cc)
}

// shutdown drops every queued request and aborts connections that are still open.
func (s *Server) shutdown() error {
	s.ctrl.Shutdown()

	s.connMu.Lock()
	open := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.connMu.Unlock()

	var errs error
	for _, c := range open {
		if err := c.Abort(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, fmt.Errorf("conn %s: %w", c.ID(), err))
		}
	}
	return errs
}
