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
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyhttp/tinyhttp/pkg/admission"
)

var connSeq atomic.Uint64

// conn adapts a net.Conn to admission.Conn.
type conn struct {
	nc        net.Conn
	id        string
	remote    string
	closeOnce sync.Once
	closeErr  error
	onClose   func(*conn)
}

var (
	_ admission.Conn    = &conn{}
	_ admission.Aborter = &conn{}
)

func newConn(nc net.Conn, onClose func(*conn)) *conn {
	remote := ""
	if addr := nc.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &conn{
		nc:      nc,
		id:      strconv.FormatUint(connSeq.Add(1), 10),
		remote:  remote,
		onClose: onClose,
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) RemoteAddr() string { return c.remote }

// RemoteHost is the peer address without its port.
func (c *conn) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.remote)
	if err != nil {
		return c.remote
	}
	return host
}

func (c *conn) Read(p []byte) (int, error) { return c.nc.Read(p) }

func (c *conn) Write(p []byte) (int, error) { return c.nc.Write(p) }

func (c *conn) SetReadDeadline(t time.Time) error { return c.nc.SetReadDeadline(t) }

func (c *conn) SetWriteDeadline(t time.Time) error { return c.nc.SetWriteDeadline(t) }

// Close closes the connection once; later calls return the first result.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return c.closeErr
}

// Abort closes the connection discarding unsent data. TCP connections are reset.
func (c *conn) Abort() error {
	if tcp, ok := c.nc.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	return c.Close()
}
