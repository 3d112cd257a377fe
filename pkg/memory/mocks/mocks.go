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

// Package mocks provides scripted heap probes for tests.
package mocks

import (
	"sync/atomic"

	"github.com/tinyhttp/tinyhttp/pkg/memory"
)

// MockProbe is a memory.Probe whose readings are set by the test.
type MockProbe struct {
	Free  atomic.Uint64
	Block atomic.Uint64
	// Reads counts FreeBytes calls, letting tests assert how often a heap check ran.
	Reads atomic.Int64
}

var _ memory.Probe = &MockProbe{}

// NewMockProbe returns a probe reporting free bytes, with the largest block equal to free.
func NewMockProbe(free uint64) *MockProbe {
	p := &MockProbe{}
	p.Set(free, free)
	return p
}

// Set changes both readings.
func (p *MockProbe) Set(free, block uint64) {
	p.Free.Store(free)
	p.Block.Store(block)
}

func (p *MockProbe) FreeBytes() uint64 {
	p.Reads.Add(1)
	return p.Free.Load()
}

func (p *MockProbe) MaxBlock() uint64 { return p.Block.Load() }
