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

package buffer

import (
	"io"
)

// ChainWriter streams bytes into a Chain. When the chain runs out of room it appends a growth-sized element, or, with
// growth disabled or the heap exhausted, latches invalid. An invalid writer discards every further write.
type ChainWriter[B Buffer] struct {
	chain   *Chain[B]
	growth  int
	elem    int
	offset  int
	written int
	valid   bool
}

var (
	_ io.Writer     = &ChainWriter[*Owned]{}
	_ io.ByteWriter = &ChainWriter[*Owned]{}
	_ io.WriterTo   = &ChainWriter[*Owned]{}
)

// NewChainWriter returns a writer filling c from its first element. A growth of zero or less disables growth.
func NewChainWriter[B Buffer](c *Chain[B], growth int) *ChainWriter[B] {
	return &ChainWriter[B]{chain: c, growth: growth, valid: true}
}

// NewFixedWriter returns a writer filling the single buffer b and never growing.
func NewFixedWriter[B Buffer](b B) *ChainWriter[B] {
	c := &Chain[B]{}
	c.Append(b)
	return NewChainWriter(c, 0)
}

// Write copies as much of p as fits. A short write returns ErrExhausted and latches the writer invalid.
func (w *ChainWriter[B]) Write(p []byte) (int, error) {
	if !w.valid {
		return 0, ErrExhausted
	}
	n := 0
	for len(p) > 0 {
		if w.elem >= w.chain.Len() {
			if w.growth <= 0 || !w.chain.Grow(w.growth) {
				w.valid = false
				return n, ErrExhausted
			}
		}
		dst := w.chain.elems[w.elem].Bytes()
		c := copy(dst[w.offset:], p)
		p = p[c:]
		n += c
		w.written += c
		w.offset += c
		if w.offset >= len(dst) {
			w.elem++
			w.offset = 0
		}
	}
	return n, nil
}

// WriteByte writes a single byte.
func (w *ChainWriter[B]) WriteByte(c byte) error {
	_, err := w.Write([]byte{c})
	return err
}

// WriteString writes s.
func (w *ChainWriter[B]) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Valid reports whether every write so far was stored in full.
func (w *ChainWriter[B]) Valid() bool {
	return w.valid
}

// Written returns the number of bytes stored.
func (w *ChainWriter[B]) Written() int {
	return w.written
}

// Chain returns the chain being filled.
func (w *ChainWriter[B]) Chain() *Chain[B] {
	return w.chain
}

// WriteTo writes the stored bytes, and not the unfilled tail of the chain, to dst.
func (w *ChainWriter[B]) WriteTo(dst io.Writer) (int64, error) {
	return w.chain.writePrefix(dst, w.written)
}
