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

package linkedlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values[T comparable](l *List[T]) []T {
	var out []T
	for _, v := range l.All() {
		out = append(out, v)
	}
	return out
}

func TestList_AddPreservesOrder(t *testing.T) {
	t.Parallel()
	l := New[int](nil)
	assert.True(t, l.IsEmpty())
	_, ok := l.Front()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		l.Add(i)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, values(l))
	assert.Equal(t, 5, l.Len())

	front, ok := l.Front()
	require.True(t, ok)
	assert.Equal(t, 1, front)

	third, ok := l.Nth(2)
	require.True(t, ok)
	assert.Equal(t, 3, third)
	_, ok = l.Nth(5)
	assert.False(t, ok)

	assert.Equal(t, 2, l.CountIf(func(v int) bool { return v%2 == 0 }))
}

func TestList_RemoveInvokesHookOnce(t *testing.T) {
	t.Parallel()
	var removed []string
	l := New(func(v string) { removed = append(removed, v) })
	l.Add("a")
	l.Add("b")
	l.Add("c")

	assert.True(t, l.Remove("b"))
	assert.False(t, l.Remove("b"))
	assert.True(t, l.RemoveFunc(func(v string) bool { return v == "c" }))
	assert.False(t, l.RemoveFunc(func(string) bool { return false }))

	assert.Equal(t, []string{"b", "c"}, removed)
	assert.Equal(t, []string{"a"}, values(l))

	// The tail must follow removals so appends land after the remaining element.
	l.Add("d")
	assert.Equal(t, []string{"a", "d"}, values(l))
}

func TestList_RemoveBeforeUseLeavesListEmpty(t *testing.T) {
	t.Parallel()
	hookCalls := 0
	l := New(func(*int) { hookCalls++ })
	x := new(int)
	l.Add(x)

	assert.True(t, l.RemoveFunc(func(v *int) bool { return v == x }))
	assert.Equal(t, 1, hookCalls)
	assert.Zero(t, l.Len())
	assert.Empty(t, values(l))
}

func TestList_RemoveAt(t *testing.T) {
	t.Parallel()
	l := New[string](nil)
	ha := l.Add("a")
	hb := l.Add("b")
	hc := l.Add("c")

	assert.False(t, l.RemoveAt(hc, ha), "a is not c's predecessor")
	assert.True(t, l.RemoveAt(hc, hb))
	assert.Equal(t, []string{"a", "b"}, values(l))

	assert.False(t, l.RemoveAt(hc, Handle{}), "handle of a removed element is stale")
	assert.True(t, l.RemoveAt(ha, Handle{}))
	assert.False(t, l.RemoveAt(hb, ha), "hint of a removed element is stale")
	assert.True(t, l.RemoveAt(hb, Handle{}))
	assert.True(t, l.IsEmpty())
}

func TestList_HandlesAreGenerationChecked(t *testing.T) {
	t.Parallel()
	l := New[string](nil)
	old := l.Add("old")
	require.True(t, l.Remove("old"))

	fresh := l.Add("new")
	assert.Equal(t, old.index, fresh.index, "freed slot is recycled")
	_, ok := l.Value(old)
	assert.False(t, ok)
	assert.False(t, l.RemoveAt(old, Handle{}))

	v, ok := l.Value(fresh)
	require.True(t, ok)
	assert.Equal(t, "new", v)
	assert.True(t, Handle{}.IsZero())
}

func TestList_FreeRemovesAllInOrder(t *testing.T) {
	t.Parallel()
	var removed []int
	l := New(func(v int) { removed = append(removed, v) })
	for i := 0; i < 4; i++ {
		l.Add(i)
	}
	l.Free()
	assert.Equal(t, []int{0, 1, 2, 3}, removed)
	assert.True(t, l.IsEmpty())

	l.Add(9)
	assert.Equal(t, []int{9}, values(l))
}

func TestList_HookMayMutateList(t *testing.T) {
	t.Parallel()
	var l *List[int]
	l = New(func(v int) {
		if v < 3 {
			l.Add(v + 10)
		}
	})
	l.Add(1)
	l.Add(5)
	require.True(t, l.Remove(1))
	assert.Equal(t, []int{5, 11}, values(l))
}

func TestList_EarlyBreakIteration(t *testing.T) {
	t.Parallel()
	l := New[int](nil)
	for i := 0; i < 10; i++ {
		l.Add(i)
	}
	seen := 0
	for _, v := range l.All() {
		seen++
		if v == 3 {
			break
		}
	}
	assert.Equal(t, 4, seen)
}
