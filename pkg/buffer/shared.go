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
	"sync/atomic"

	"github.com/tinyhttp/tinyhttp/pkg/memory"
)

type sharedState struct {
	refs  atomic.Int32
	owned *Owned
}

// Shared is a reference-counted byte region. Each holder is a distinct *Shared obtained from a constructor or from
// Share, and each holder calls Release once. The bytes return to the heap when the last holder releases.
//
// The zero value and a nil *Shared hold nothing and behave as zero-length buffers. Holders may be released from
// different goroutines; the contents themselves are not synchronized.
type Shared struct {
	state *sharedState
}

var _ Buffer = &Shared{}

// NewShared allocates n bytes from a. On allocation failure the result is empty.
func NewShared(a memory.Allocator, n int) *Shared {
	return ShareOwned(NewOwned(a, n))
}

// SharedFrom allocates a shared copy of p from a. On allocation failure the result is empty.
func SharedFrom(a memory.Allocator, p []byte) *Shared {
	return ShareOwned(OwnedFrom(a, p))
}

// ShareOwned takes ownership of o's bytes, leaving o empty, and returns the first holder.
func ShareOwned(o *Owned) *Shared {
	if !o.Valid() {
		return &Shared{}
	}
	st := &sharedState{owned: o.Move()}
	st.refs.Store(1)
	return &Shared{state: st}
}

// Share returns a new holder of the same bytes.
func (s *Shared) Share() *Shared {
	if s == nil || s.state == nil {
		return &Shared{}
	}
	s.state.refs.Add(1)
	return &Shared{state: s.state}
}

// Release drops this holder. Releasing the same holder twice is a no-op.
func (s *Shared) Release() {
	if s == nil || s.state == nil {
		return
	}
	st := s.state
	s.state = nil
	if st.refs.Add(-1) == 0 {
		st.owned.Release()
	}
}

func (s *Shared) Bytes() []byte {
	if s == nil || s.state == nil {
		return nil
	}
	return s.state.owned.Bytes()
}

func (s *Shared) Len() int {
	return len(s.Bytes())
}

// Valid reports whether the buffer holds any bytes.
func (s *Shared) Valid() bool {
	return s.Len() > 0
}

// Refs returns the number of live holders, zero for an empty buffer.
func (s *Shared) Refs() int {
	if s == nil || s.state == nil {
		return 0
	}
	return int(s.state.refs.Load())
}

// Copy allocates an independent Owned copy from the same heap. On allocation failure the copy is empty.
func (s *Shared) Copy() *Owned {
	if s == nil || s.state == nil {
		return &Owned{}
	}
	return s.state.owned.Clone()
}

// String returns the contents as a string.
func (s *Shared) String() string {
	return string(s.Bytes())
}
