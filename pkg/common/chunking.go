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

// Package common holds helpers shared by the buffer and server packages.
package common

import "iter"

const (
	// DefaultChunkBytes is the default per-element size of a response chain.
	// It is one TCP segment on a standard 1500-byte Ethernet MTU, so each element can be handed to the transport
	// without further splitting.
	DefaultChunkBytes = 1436
)

// Chunks yields consecutive chunk sizes of at most limit bytes each that add up to total. The last chunk carries
// the remainder. A limit of zero or less means a single chunk of total bytes. A total of zero or less yields no
// chunks. Sizes are produced lazily, so the cost of an oversized total is paid only for the chunks consumed.
func Chunks(total, limit int) iter.Seq[int] {
	return func(yield func(int) bool) {
		step := limit
		if step <= 0 {
			step = total
		}
		for remaining := total; remaining > 0; {
			n := min(remaining, step)
			if !yield(n) {
				return
			}
			remaining -= n
		}
	}
}
