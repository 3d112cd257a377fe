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
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// DefaultMinimumHeap is the free heap below which connections are rejected outright.
	DefaultMinimumHeap = 2048
	// DefaultMinimumAlloc is the largest-block size below which connections are rejected outright.
	DefaultMinimumAlloc = 1024
)

// Config holds the configuration for the Controller.
type Config struct {
	// Limits are the initial queue limits. They can be changed later with Controller.SetLimits.
	Limits Limits

	// MinimumHeap is the safety floor on free heap bytes. A connection arriving with FreeBytes() at or below it is
	// rejected without allocating anything.
	// Optional: Defaults to DefaultMinimumHeap.
	MinimumHeap uint64

	// MinimumAlloc is the safety floor on the largest allocatable block. A connection arriving with MaxBlock() at or
	// below it is rejected without allocating anything.
	// Optional: Defaults to DefaultMinimumAlloc.
	MinimumAlloc uint64

	// ReceiveFirst admits entries in StateReceiving instead of StateQueued. Requests implementing Receiver are told to
	// start receiving and mark themselves queued when ready.
	ReceiveFirst bool

	// Locker guards the queue. Optional: Defaults to a sync.Mutex.
	Locker sync.Locker

	// Clock timestamps entries. Optional: Defaults to the real clock.
	Clock clock.PassiveClock

	// Logger is the controller's logger. Optional: Defaults to the controller-runtime global logger.
	Logger logr.Logger
}

// ConfigOption is a functional option for configuring the Controller.
type ConfigOption func(*Config)

// NewConfig creates a new Config with the given options, applying defaults and validation.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		MinimumHeap:  DefaultMinimumHeap,
		MinimumAlloc: DefaultMinimumAlloc,
		Locker:       &sync.Mutex{},
		Clock:        clock.RealClock{},
		Logger:       log.Log.WithName("admission"),
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithLimits sets the initial limits.
func WithLimits(l Limits) ConfigOption {
	return func(c *Config) {
		c.Limits = l
	}
}

// WithMinimumHeap sets the free-heap safety floor.
func WithMinimumHeap(n uint64) ConfigOption {
	return func(c *Config) {
		c.MinimumHeap = n
	}
}

// WithMinimumAlloc sets the largest-block safety floor.
func WithMinimumAlloc(n uint64) ConfigOption {
	return func(c *Config) {
		c.MinimumAlloc = n
	}
}

// WithReceiveFirst admits entries in StateReceiving.
func WithReceiveFirst(enabled bool) ConfigOption {
	return func(c *Config) {
		c.ReceiveFirst = enabled
	}
}

// WithLocker sets the lock guarding the queue.
func WithLocker(l sync.Locker) ConfigOption {
	return func(c *Config) {
		c.Locker = l
	}
}

// WithoutLocking installs a lock that does nothing. Only use it when every call into the Controller, including
// those made from Request callbacks, happens on one goroutine.
func WithoutLocking() ConfigOption {
	return WithLocker(noopLocker{})
}

// WithClock sets the clock used to timestamp entries.
func WithClock(clk clock.PassiveClock) ConfigOption {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger logr.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

// validate checks the configuration for validity.
func (c *Config) validate() error {
	if err := ValidateLimits(c.Limits); err != nil {
		return err
	}
	if c.Locker == nil {
		return fmt.Errorf("Locker cannot be nil")
	}
	if c.Clock == nil {
		return fmt.Errorf("Clock cannot be nil")
	}
	return nil
}

// ValidateLimits checks that no limit is negative.
func ValidateLimits(l Limits) error {
	if l.MaxQueued < 0 {
		return fmt.Errorf("MaxQueued cannot be negative, but got %d", l.MaxQueued)
	}
	if l.MaxParallel < 0 {
		return fmt.Errorf("MaxParallel cannot be negative, but got %d", l.MaxParallel)
	}
	return nil
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}
