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

// Package linkedlist provides a singly linked list whose nodes live in a recycled slot arena.
//
// Every element is addressed by a generation-checked [Handle], so a handle to a removed element can never reach the
// element that later reuses its slot. Removal always runs an optional hook with the removed value after it is
// unlinked and before its slot is recycled; this is the single place owners release whatever the value holds.
package linkedlist

import (
	"iter"
)

const nilIndex int32 = -1

// Handle identifies an element of a List. The zero Handle never refers to an element.
type Handle struct {
	index int32
	gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

type slot[T comparable] struct {
	value T
	next  int32
	gen   uint32
	used  bool
}

// List is a FIFO-ordered singly linked list. It is not safe for concurrent use.
type List[T comparable] struct {
	slots    []slot[T]
	free     []int32
	head     int32
	tail     int32
	length   int
	onRemove func(T)
}

// New creates an empty list. onRemove, when non-nil, is called with every value removed from the list.
func New[T comparable](onRemove func(T)) *List[T] {
	return &List[T]{head: nilIndex, tail: nilIndex, onRemove: onRemove}
}

// Add appends v to the tail of the list.
func (l *List[T]) Add(v T) Handle {
	var idx int32
	if n := len(l.free); n > 0 {
		idx = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		l.slots = append(l.slots, slot[T]{})
		idx = int32(len(l.slots) - 1)
	}

	s := &l.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.value = v
	s.next = nilIndex
	s.used = true

	if l.tail == nilIndex {
		l.head = idx
	} else {
		l.slots[l.tail].next = idx
	}
	l.tail = idx
	l.length++
	return Handle{index: idx, gen: s.gen}
}

// Remove removes the first element equal to v.
func (l *List[T]) Remove(v T) bool {
	return l.RemoveFunc(func(x T) bool { return x == v })
}

// RemoveFunc removes the first element for which pred returns true.
func (l *List[T]) RemoveFunc(pred func(T) bool) bool {
	prev := nilIndex
	for i := l.head; i != nilIndex; i = l.slots[i].next {
		if pred(l.slots[i].value) {
			l.unlink(prev, i)
			return true
		}
		prev = i
	}
	return false
}

// RemoveAt removes the element h. When hint is the handle of h's predecessor the removal is O(1); a zero hint scans
// from the head. A stale hint, one that is not h's live predecessor, fails the removal.
func (l *List[T]) RemoveAt(h, hint Handle) bool {
	if !l.live(h) {
		return false
	}
	if !hint.IsZero() {
		if !l.live(hint) || l.slots[hint.index].next != h.index {
			return false
		}
		l.unlink(hint.index, h.index)
		return true
	}
	prev := nilIndex
	for i := l.head; i != nilIndex; i = l.slots[i].next {
		if i == h.index {
			l.unlink(prev, i)
			return true
		}
		prev = i
	}
	return false
}

// Free removes every element from head to tail.
func (l *List[T]) Free() {
	for l.head != nilIndex {
		l.unlink(nilIndex, l.head)
	}
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	return l.length
}

// IsEmpty reports whether the list has no elements.
func (l *List[T]) IsEmpty() bool {
	return l.length == 0
}

// Front returns the first value.
func (l *List[T]) Front() (T, bool) {
	if l.head == nilIndex {
		var zero T
		return zero, false
	}
	return l.slots[l.head].value, true
}

// Nth returns the value at position n, counting from zero at the head.
func (l *List[T]) Nth(n int) (T, bool) {
	for _, v := range l.All() {
		if n == 0 {
			return v, true
		}
		n--
	}
	var zero T
	return zero, false
}

// CountIf returns the number of values for which pred returns true.
func (l *List[T]) CountIf(pred func(T) bool) int {
	count := 0
	for _, v := range l.All() {
		if pred(v) {
			count++
		}
	}
	return count
}

// Value returns the value of a live element.
func (l *List[T]) Value(h Handle) (T, bool) {
	if !l.live(h) {
		var zero T
		return zero, false
	}
	return l.slots[h.index].value, true
}

// All iterates from head to tail. The list must not be modified during iteration.
func (l *List[T]) All() iter.Seq2[Handle, T] {
	return func(yield func(Handle, T) bool) {
		for i := l.head; i != nilIndex; i = l.slots[i].next {
			s := &l.slots[i]
			if !yield(Handle{index: i, gen: s.gen}, s.value) {
				return
			}
		}
	}
}

func (l *List[T]) live(h Handle) bool {
	if h.IsZero() || h.index < 0 || int(h.index) >= len(l.slots) {
		return false
	}
	s := &l.slots[h.index]
	return s.used && s.gen == h.gen
}

// unlink detaches slot i, whose predecessor is prev, runs the removal hook and recycles the slot.
func (l *List[T]) unlink(prev, i int32) {
	next := l.slots[i].next
	if prev == nilIndex {
		l.head = next
	} else {
		l.slots[prev].next = next
	}
	if l.tail == i {
		l.tail = prev
	}
	l.length--

	v := l.slots[i].value
	if l.onRemove != nil {
		l.onRemove(v)
	}

	// The hook may have grown the arena; index afresh.
	s := &l.slots[i]
	var zero T
	s.value = zero
	s.next = nilIndex
	s.used = false
	l.free = append(l.free, i)
}
