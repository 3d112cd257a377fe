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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := NewConfig()
		require.NoError(t, err)
		assert.Equal(t, uint64(DefaultMinimumHeap), cfg.MinimumHeap)
		assert.Equal(t, uint64(DefaultMinimumAlloc), cfg.MinimumAlloc)
		assert.Equal(t, Limits{}, cfg.Limits)
		assert.False(t, cfg.ReceiveFirst)
		assert.IsType(t, &sync.Mutex{}, cfg.Locker)
		assert.IsType(t, clock.RealClock{}, cfg.Clock)
	})

	t.Run("options", func(t *testing.T) {
		t.Parallel()
		limits := Limits{MaxQueued: 8, MaxParallel: 2, RequestHeapBytes: 4096, QueueHeapBytes: 1024}
		cfg, err := NewConfig(
			WithLimits(limits),
			WithMinimumHeap(10),
			WithMinimumAlloc(5),
			WithReceiveFirst(true),
			WithoutLocking(),
		)
		require.NoError(t, err)
		assert.Equal(t, limits, cfg.Limits)
		assert.Equal(t, uint64(10), cfg.MinimumHeap)
		assert.Equal(t, uint64(5), cfg.MinimumAlloc)
		assert.True(t, cfg.ReceiveFirst)
		assert.IsType(t, noopLocker{}, cfg.Locker)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		tests := []ConfigOption{
			WithLimits(Limits{MaxQueued: -1}),
			WithLimits(Limits{MaxParallel: -2}),
			WithLocker(nil),
			WithClock(nil),
		}
		for _, opt := range tests {
			_, err := NewConfig(opt)
			assert.Error(t, err)
		}
	})
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "RECEIVING", StateReceiving.String())
	assert.Equal(t, "QUEUED", StateQueued.String())
	assert.Equal(t, "DEFERRED", StateDeferred.String())
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestRejectResponseIsACopy(t *testing.T) {
	t.Parallel()
	r := RejectResponse()
	r[0] = 'X'
	assert.Equal(t, "HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\n\r\n", string(RejectResponse()))
}
