// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package linearizer

import (
	"fmt"
	"sync"
)

// kernelNames is the sole process-wide mutable state (spec.md §5/§9):
// a per-base-name occurrence counter, guarded by a mutex since a
// Linearizer may be invoked concurrently from multiple goroutines even
// though a single lowering call itself is synchronous.
var kernelNames = struct {
	mu     sync.Mutex
	counts map[string]int
}{counts: make(map[string]int)}

// nextKernelName returns base on its first occurrence and
// base+"n{k-1}" on the k-th, matching Linearizer.kernel_cnt in the
// distillation source.
func nextKernelName(base string) string {
	kernelNames.mu.Lock()
	defer kernelNames.mu.Unlock()
	n := kernelNames.counts[base]
	kernelNames.counts[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%sn%d", base, n)
}

// baseKernelName builds the r_/E_ base name from the full axis shape:
// "r_" when the AST contains a reduce, "E_" otherwise, followed by the
// underscore-joined axis sizes.
func baseKernelName(hasReduce bool, fullShape []int) string {
	prefix := "E"
	if hasReduce {
		prefix = "r"
	}
	out := prefix + "_"
	for i, s := range fullShape {
		if i > 0 {
			out += "_"
		}
		out += fmt.Sprintf("%d", s)
	}
	return out
}
