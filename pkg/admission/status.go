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
	"bufio"
	"fmt"
	"io"
	"time"
)

// EntryStatus is a snapshot of one queue entry.
type EntryStatus struct {
	ID         string
	ConnID     string
	RemoteAddr string
	State      State
	Waiting    time.Duration
	// InFlight is set when the request implements InFlightReporter.
	InFlight *InFlight
}

// Status returns a snapshot of every entry, head first. InFlight is called with the controller lock held.
func (c *Controller) Status() []EntryStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EntryStatus, 0, c.queue.Len())
	for _, e := range c.queue.All() {
		st := EntryStatus{
			ID:         e.id,
			ConnID:     e.conn.ID(),
			RemoteAddr: e.conn.RemoteAddr(),
			State:      e.State(),
			Waiting:    c.clock.Since(e.enqueued),
		}
		if r, ok := e.req.(InFlightReporter); ok {
			f := r.InFlight()
			st.InFlight = &f
		}
		out = append(out, st)
	}
	return out
}

// PrintStatus writes a human-readable dump of the queue to w.
func (c *Controller) PrintStatus(w io.Writer) error {
	bw := bufio.NewWriter(w)
	entries := c.Status()
	fmt.Fprint(bw, "Web server status:")
	if len(entries) == 0 {
		fmt.Fprintln(bw, " Idle")
		return bw.Flush()
	}
	for _, e := range entries {
		fmt.Fprintf(bw, "\n- Request %s [%s %s], state %s, waiting %s", e.ID, e.ConnID, e.RemoteAddr, e.State, e.Waiting)
		if f := e.InFlight; f != nil {
			fmt.Fprintf(bw, " -- Response [%d %d - %d %d %d]", f.HeadLength, f.ContentLength, f.Sent, f.Acked, f.Written)
		}
	}
	fmt.Fprintln(bw)
	return bw.Flush()
}
