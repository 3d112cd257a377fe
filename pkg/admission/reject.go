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

	logutil "github.com/tinyhttp/tinyhttp/pkg/common/observability/logging"
	"github.com/tinyhttp/tinyhttp/pkg/metrics"
)

// rejectResponse is sent, in one write, to every rejected connection. It is built once so a rejection never has to
// allocate.
var rejectResponse = []byte("HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\n\r\n")

// RejectResponse returns a copy of the response sent to rejected connections.
func RejectResponse() []byte {
	return append([]byte(nil), rejectResponse...)
}

// reject answers conn with the fixed 503 response and closes it. If the response cannot be written at all, the
// connection is aborted instead.
func (c *Controller) reject(conn Conn, reason error, outcome string) error {
	metrics.RecordAdmission(outcome)
	err := fmt.Errorf("%w: %w", ErrRejected, reason)
	logger := c.logger.WithValues("conn", conn.ID(), "remote", conn.RemoteAddr())

	n, werr := conn.Write(rejectResponse)
	if werr != nil || n == 0 {
		metrics.RecordRejectAbort()
		if aerr := abort(conn); aerr != nil {
			logger.V(logutil.DEBUG).Info("Failed to abort rejected connection", "err", aerr)
		}
		logger.V(logutil.DEBUG).Info("Aborted rejected connection", "reason", reason, "writeErr", werr)
		return err
	}
	if cerr := conn.Close(); cerr != nil {
		logger.V(logutil.DEBUG).Info("Failed to close rejected connection", "err", cerr)
	}
	logger.V(logutil.DEBUG).Info("Rejected connection", "reason", reason)
	return err
}

func abort(conn Conn) error {
	if a, ok := conn.(Aborter); ok {
		return a.Abort()
	}
	return conn.Close()
}
