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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyhttp/tinyhttp/pkg/memory"
)

func TestAllocateChainAllOrNothing(t *testing.T) {
	for _, capacity := range []uint64{0, 7, 64, 200} {
		for total := 0; total <= 80; total += 3 {
			for _, maxElement := range []int{0, 1, 5, 16, 100} {
				heap := memory.NewBudget(capacity, 0)
				c := AllocateChain(OwnedFactory(heap), total, maxElement)
				switch c.TotalSize() {
				case total:
					for i, b := range c.Elements() {
						assert.Positive(t, b.Len())
						if maxElement > 0 {
							assert.LessOrEqual(t, b.Len(), maxElement)
						}
						if i < c.Len()-1 && maxElement > 0 {
							assert.Equal(t, maxElement, b.Len(), "only the last element may be short")
						}
					}
				case 0:
					assert.Zero(t, c.Len())
					assert.Equal(t, capacity, heap.FreeBytes(), "failed allocation must roll back")
				default:
					t.Fatalf("capacity=%d total=%d max=%d: partial chain of %d bytes", capacity, total, maxElement, c.TotalSize())
				}
				c.Release()
				assert.Equal(t, capacity, heap.FreeBytes())
			}
		}
	}
}

func TestAllocateChainFragmentedHeap(t *testing.T) {
	heap := memory.NewBudget(1000, 100)
	single := AllocateChain(OwnedFactory(heap), 500, 0)
	assert.Zero(t, single.Len(), "one 500-byte element cannot fit a 100-byte largest block")

	chained := AllocateChain(OwnedFactory(heap), 500, 100)
	assert.Equal(t, 5, chained.Len())
	assert.Equal(t, 500, chained.TotalSize())
}

func TestAllocateChainHugeTotal(t *testing.T) {
	tests := []struct {
		name       string
		maxElement int
	}{
		{name: "single-byte elements", maxElement: 1},
		{name: "segment-sized elements", maxElement: 1436},
		{name: "one element", maxElement: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			heap := memory.NewBudget(4096, 0)
			c := AllocateChain(OwnedFactory(heap), 1<<40, tc.maxElement)
			assert.Zero(t, c.Len())
			assert.Zero(t, c.TotalSize())
			assert.Equal(t, uint64(4096), heap.FreeBytes(), "failed allocation must roll back")
		})
	}
}

func TestChainGrowKeepsExistingOnFailure(t *testing.T) {
	heap := memory.NewBudget(20, 0)
	c := AllocateChain(SharedFactory(heap), 12, 4)
	require.Equal(t, 12, c.TotalSize())

	assert.False(t, c.Grow(10))
	assert.Equal(t, 12, c.TotalSize())
	assert.Equal(t, uint64(8), heap.FreeBytes())

	assert.True(t, c.Grow(8))
	assert.Equal(t, 20, c.TotalSize())
}

func TestChainAppendAndWriteTo(t *testing.T) {
	heap := memory.NewBudget(64, 0)
	c := NewChain(OwnedFactory(heap), 0)
	assert.True(t, c.Append(OwnedString(heap, "hello ")))
	assert.False(t, c.Append(NewOwned(heap, 0)))
	assert.True(t, c.Append(OwnedString(heap, "world")))

	var out bytes.Buffer
	n, err := c.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "hello world", out.String())
}
