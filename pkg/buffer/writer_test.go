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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyhttp/tinyhttp/pkg/memory"
)

func TestChainWriterFillsExistingChain(t *testing.T) {
	heap := memory.NewBudget(64, 0)
	c := AllocateChain(OwnedFactory(heap), 10, 4)
	w := NewChainWriter(c, 0)

	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = w.WriteString("ghijkl")
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, n)
	assert.False(t, w.Valid())

	n, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Zero(t, n, "an invalid writer discards writes")
	assert.Equal(t, 10, w.Written())

	var out bytes.Buffer
	_, err = c.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", out.String())
}

func TestChainWriterGrows(t *testing.T) {
	heap := memory.NewBudget(1024, 0)
	c := NewChain(SharedFactory(heap), 0)
	w := NewChainWriter(c, 16)

	_, err := fmt.Fprintf(w, "%s|%d", strings.Repeat("a", 40), 42)
	require.NoError(t, err)
	assert.True(t, w.Valid())
	assert.Equal(t, 43, w.Written())
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 48, c.TotalSize())

	var out bytes.Buffer
	n, err := w.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(43), n)
	assert.Equal(t, strings.Repeat("a", 40)+"|42", out.String())
}

func TestChainWriterGrowthFailure(t *testing.T) {
	heap := memory.NewBudget(20, 0)
	w := NewChainWriter(NewChain(OwnedFactory(heap), 0), 8)

	n, err := w.Write(bytes.Repeat([]byte("x"), 30))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 16, n)
	assert.False(t, w.Valid())
	assert.Equal(t, 2, w.Chain().Len(), "the failed element must not be kept")
}

func TestChainWriterFailureIsPermanent(t *testing.T) {
	tests := []struct {
		name  string
		after []byte
	}{
		{name: "one byte", after: []byte("y")},
		{name: "fits one element", after: []byte("12345678")},
		{name: "empty write", after: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			heap := memory.NewBudget(20, 0)
			w := NewChainWriter(NewChain(OwnedFactory(heap), 0), 8)
			_, err := w.Write(bytes.Repeat([]byte("x"), 30))
			require.ErrorIs(t, err, ErrExhausted)

			// Free everything so the next write would succeed if the writer recovered.
			w.Chain().Release()
			require.Equal(t, uint64(20), heap.FreeBytes())

			n, err := w.Write(tc.after)
			assert.ErrorIs(t, err, ErrExhausted)
			assert.Zero(t, n)
			assert.False(t, w.Valid())
			assert.Equal(t, uint64(20), heap.FreeBytes(), "a failed writer allocates nothing")
		})
	}
}

func TestFixedWriter(t *testing.T) {
	b := NewOwned(nil, 4)
	w := NewFixedWriter(b)
	require.NoError(t, w.WriteByte('a'))
	_, err := w.WriteString("bcd")
	require.NoError(t, err)
	assert.ErrorIs(t, w.WriteByte('e'), ErrExhausted)
	assert.Equal(t, "abcd", b.String())
}
