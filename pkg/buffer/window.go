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

// Window is a view over a buffer that can consume bytes from either end without copying. The visible bytes are
// [Offset(), Cap()-ROffset()) of the underlying buffer, and Offset()+ROffset() never exceeds Cap().
type Window[B Buffer] struct {
	buf     B
	factory Factory[B]
	left    int
	right   int
}

// NewWindow allocates an n-byte buffer with f and wraps it. On allocation failure the window is empty.
func NewWindow[B Buffer](f Factory[B], n int) *Window[B] {
	var buf B
	if f != nil {
		buf = f(n)
	}
	return &Window[B]{buf: buf, factory: f}
}

// WrapWindow wraps an existing buffer, taking ownership of it. f is used by Reallocate.
func WrapWindow[B Buffer](f Factory[B], b B) *Window[B] {
	return &Window[B]{buf: b, factory: f}
}

// Bytes returns the visible bytes.
func (w *Window[B]) Bytes() []byte {
	p := w.buf.Bytes()
	if p == nil {
		return nil
	}
	return p[w.left : len(p)-w.right]
}

// Len returns the number of visible bytes.
func (w *Window[B]) Len() int {
	return w.buf.Len() - w.left - w.right
}

// Cap returns the size of the underlying buffer.
func (w *Window[B]) Cap() int {
	return w.buf.Len()
}

// Offset returns the number of bytes consumed from the left.
func (w *Window[B]) Offset() int { return w.left }

// ROffset returns the number of bytes consumed from the right.
func (w *Window[B]) ROffset() int { return w.right }

// Buffer returns the underlying buffer. It remains owned by the window.
func (w *Window[B]) Buffer() B { return w.buf }

// Advance consumes n bytes from the left, clamped to the visible length. A negative n un-consumes bytes; if it
// exceeds the consumed amount the left offset resets to zero.
func (w *Window[B]) Advance(n int) {
	w.left = walk(w.left, n, w.Cap()-w.right)
}

// RAdvance consumes n bytes from the right, with the same clamping as Advance.
func (w *Window[B]) RAdvance(n int) {
	w.right = walk(w.right, n, w.Cap()-w.left)
}

func walk(offset, n, limit int) int {
	if n >= 0 {
		return min(offset+n, limit)
	}
	if -n <= offset {
		return offset + n
	}
	return 0
}

// Reset clears both offsets, making the whole buffer visible.
func (w *Window[B]) Reset() {
	w.left, w.right = 0, 0
}

// Resize changes the visible length to n by moving the right offset. The storage is unchanged, so n is clamped to
// what lies right of the left offset. It returns the new visible length.
func (w *Window[B]) Resize(n int) int {
	avail := w.Cap() - w.left
	if n >= 0 && n <= avail {
		w.right = avail - n
	} else {
		w.right = 0
	}
	return w.Len()
}

// Reallocate replaces the storage with an n-byte buffer holding the visible bytes (truncated to n) at its start and
// resets both offsets. It returns the new capacity on success and the current capacity if the allocation failed.
func (w *Window[B]) Reallocate(n int) int {
	if w.factory == nil {
		return w.Cap()
	}
	next := w.factory(n)
	if n <= 0 || next.Len() != n {
		next.Release()
		return w.Cap()
	}
	copy(next.Bytes(), w.Bytes())
	w.buf.Release()
	w.buf = next
	w.Reset()
	return n
}

// Release releases the underlying buffer and resets the offsets.
func (w *Window[B]) Release() {
	w.buf.Release()
	w.Reset()
}

// Clear is an alias of Release.
func (w *Window[B]) Clear() {
	w.Release()
}
