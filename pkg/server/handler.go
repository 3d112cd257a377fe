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
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ResponseWriter assembles a response in heap-budgeted buffers. Write returns buffer.ErrExhausted once the heap runs
// out; the server then answers 503 instead of sending a truncated body.
type ResponseWriter interface {
	Header() http.Header
	WriteHeader(code int)
	Write(p []byte) (int, error)
}

// Handler serves the requests it claims.
type Handler interface {
	// CanHandle reports whether the handler serves r. It must not read the body.
	CanHandle(r *http.Request) bool
	// Handle writes the response for r. A returned error is turned into an error response unless a status was
	// already written.
	Handle(w ResponseWriter, r *http.Request) error
}

// HandlerFunc is the handling half of a Handler.
type HandlerFunc func(w ResponseWriter, r *http.Request) error

// FilterFunc decides whether a handler or rewrite applies to a request, in addition to its path match.
type FilterFunc func(r *http.Request) bool

// RouteHandler is a Handler matching a method and a path. A path ending in "/*" matches the prefix before the
// star, an empty method matches every method.
type RouteHandler struct {
	method string
	path   string
	fn     HandlerFunc
	filter FilterFunc
}

var _ Handler = &RouteHandler{}

// Route returns a RouteHandler serving method and path with fn.
func Route(method, path string, fn HandlerFunc) *RouteHandler {
	return &RouteHandler{method: method, path: path, fn: fn}
}

// SetFilter adds a filter that must also accept a request for the route to handle it.
func (h *RouteHandler) SetFilter(f FilterFunc) *RouteHandler {
	h.filter = f
	return h
}

func (h *RouteHandler) CanHandle(r *http.Request) bool {
	if h.filter != nil && !h.filter(r) {
		return false
	}
	if h.method != "" && r.Method != h.method {
		return false
	}
	if prefix, ok := strings.CutSuffix(h.path, "/*"); ok {
		return r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, prefix+"/")
	}
	return r.URL.Path == h.path
}

func (h *RouteHandler) Handle(w ResponseWriter, r *http.Request) error {
	return h.fn(w, r)
}

// Rewrite replaces the URL of requests whose path equals From with To. To may carry a query string, which replaces
// the request's query.
type Rewrite struct {
	From   string
	To     string
	Filter FilterFunc
}

func (rw *Rewrite) match(r *http.Request) bool {
	if rw.Filter != nil && !rw.Filter(r) {
		return false
	}
	return r.URL.Path == rw.From
}

func (rw *Rewrite) apply(r *http.Request) error {
	to, err := url.Parse(rw.To)
	if err != nil {
		return err
	}
	r.URL.Path = to.Path
	r.URL.RawPath = ""
	if to.RawQuery != "" {
		r.URL.RawQuery = to.RawQuery
	}
	r.RequestURI = r.URL.RequestURI()
	return nil
}

// notFoundHandler is the catch-all used when no registered handler claims a request.
type notFoundHandler struct{}

func (notFoundHandler) CanHandle(*http.Request) bool { return true }

func (notFoundHandler) Handle(w ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	_, err := io.WriteString(w, "Not Found\n")
	return err
}
