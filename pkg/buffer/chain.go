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

	"github.com/tinyhttp/tinyhttp/pkg/common"
)

// Chain is an ordered list of non-empty buffers. It lets a large payload be stored when the heap has plenty of
// free bytes but no single free region large enough to hold it.
type Chain[B Buffer] struct {
	elems      []B
	factory    Factory[B]
	maxElement int
}

// NewChain returns an empty chain whose elements are allocated by f and hold at most maxElement bytes each. A
// maxElement of zero or less places no limit on element size.
func NewChain[B Buffer](f Factory[B], maxElement int) *Chain[B] {
	return &Chain[B]{factory: f, maxElement: maxElement}
}

// AllocateChain allocates a chain holding exactly total bytes, split into elements of at most maxElement bytes. The
// last element carries the remainder. If any element cannot be allocated, everything is released and the returned
// chain is empty.
func AllocateChain[B Buffer](f Factory[B], total, maxElement int) *Chain[B] {
	c := NewChain(f, maxElement)
	c.Grow(total)
	return c
}

// Grow appends elements totalling n bytes. Growth is all-or-nothing: on allocation failure the elements added by
// this call are released and Grow reports false, leaving the chain as it was.
func (c *Chain[B]) Grow(n int) bool {
	if n <= 0 {
		return true
	}
	if c.factory == nil {
		return false
	}
	start := len(c.elems)
	for size := range common.Chunks(n, c.maxElement) {
		b := c.factory(size)
		if b.Len() != size {
			b.Release()
			c.truncate(start)
			return false
		}
		c.elems = append(c.elems, b)
	}
	return true
}

// Append adds b to the end of the chain and takes ownership of it. Empty buffers are released and not added.
func (c *Chain[B]) Append(b B) bool {
	if b.Len() == 0 {
		b.Release()
		return false
	}
	c.elems = append(c.elems, b)
	return true
}

// Elements returns the buffers in order. The slice is owned by the chain.
func (c *Chain[B]) Elements() []B {
	return c.elems
}

// Len returns the number of elements.
func (c *Chain[B]) Len() int {
	return len(c.elems)
}

// TotalSize returns the sum of element sizes.
func (c *Chain[B]) TotalSize() int {
	total := 0
	for _, b := range c.elems {
		total += b.Len()
	}
	return total
}

// Release releases every element and empties the chain. The chain can be grown again afterwards.
func (c *Chain[B]) Release() {
	c.truncate(0)
}

// WriteTo writes every element to w in order.
func (c *Chain[B]) WriteTo(w io.Writer) (int64, error) {
	return c.writePrefix(w, c.TotalSize())
}

func (c *Chain[B]) writePrefix(w io.Writer, limit int) (int64, error) {
	var written int64
	for _, b := range c.elems {
		if limit <= 0 {
			break
		}
		p := b.Bytes()
		if len(p) > limit {
			p = p[:limit]
		}
		n, err := w.Write(p)
		written += int64(n)
		limit -= n
		if err != nil {
			return written, err
		}
		if n < len(p) {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

func (c *Chain[B]) truncate(n int) {
	for i := n; i < len(c.elems); i++ {
		c.elems[i].Release()
		var zero B
		c.elems[i] = zero
	}
	c.elems = c.elems[:n]
}
