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
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tinyhttp/tinyhttp/pkg/buffer"
	"github.com/tinyhttp/tinyhttp/pkg/memory"
)

// response collects a handler's output in chunks allocated from the server heap.
type response struct {
	header http.Header
	status int
	body   *buffer.ChainWriter[*buffer.Owned]
}

var _ ResponseWriter = &response{}

func newResponse(heap memory.Allocator, chunk int) *response {
	return &response{
		header: http.Header{},
		body:   buffer.NewChainWriter(buffer.NewChain(buffer.OwnedFactory(heap), chunk), chunk),
	}
}

func (r *response) Header() http.Header { return r.header }

// WriteHeader sets the status code. Only the first call has an effect.
func (r *response) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *response) Write(p []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	return r.body.Write(p)
}

// reset drops the collected body and headers so an error response can be written instead.
func (r *response) reset(heap memory.Allocator, chunk int) {
	r.release()
	*r = *newResponse(heap, chunk)
}

func (r *response) release() {
	r.body.Chain().Release()
}

// writeHead encodes the status line and headers for a body of bodyLen bytes into w.
func writeHead(w io.Writer, status int, header http.Header, bodyLen int) error {
	text := http.StatusText(status)
	if text == "" {
		text = "status code " + strconv.Itoa(status)
	}
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, text); err != nil {
		return err
	}
	header.Del("Connection")
	header.Set("Content-Length", strconv.Itoa(bodyLen))
	header.Set("Connection", "close")
	if err := header.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
