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

// Package kernel holds the mutable bag of state describing the kernel
// being lowered: buffer descriptors, a shape tracker per buffer, the
// axis partition, and the target's capability flags. Ownership is
// read-only to the linearizer except for the axis-partition mutation
// Phase F performs when it upcasts a group-for-reduce axis.
package kernel

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/agegold/tensorlin/shapetracker"
	"github.com/agegold/tensorlin/symbolic"
)

// AxisPlan partitions FullShape's axes into the fixed, contiguous runs
// spec.md §3 describes: global, local, group-for-reduce, reduce,
// upcast. Reduce's width is derived, not stored, since it is whatever
// remains after the other four are accounted for.
type AxisPlan struct {
	GlobalDims     int
	LocalDims      int
	GroupForReduce int
	Upcasted       int
}

// Capabilities is the target descriptor spec.md §4.5 calls
// has_local/dont_use_locals/use_tensor_cores/device. DontUseLocals
// overrides HasLocal: a target that can address hardware-local memory
// but opts out still gets Phase D's plain nested-LOOP outer axes and
// Phase F's unconditional tidx walk, instead of SPECIAL dims and a
// thread-0 IF gate.
type Capabilities struct {
	Device         string `json:"device" yaml:"device"`
	HasLocal       bool   `json:"has_local" yaml:"has_local"`
	DontUseLocals  bool   `json:"dont_use_locals" yaml:"dont_use_locals"`
	UseTensorCores bool   `json:"use_tensor_cores" yaml:"use_tensor_cores"`
}

// Context is the kernel context spec.md §4.5 specifies.
type Context struct {
	Bufs      []Buffer
	STs       []*shapetracker.ShapeTracker
	FullShape []int
	Axes      AxisPlan
	Cap       Capabilities
	EarlyBufs []int
}

// SetEarlyBufs records the buffer slots read by the reduce portion of
// the AST, sorted and deduplicated.
func (c *Context) SetEarlyBufs(bufs []int) {
	cp := append([]int(nil), bufs...)
	slices.Sort(cp)
	c.EarlyBufs = slices.Compact(cp)
}

// IsEarly reports whether buffer slot i is read by the reduce portion
// of the AST.
func (c *Context) IsEarly(i int) bool {
	return slices.Contains(c.EarlyBufs, i)
}

// FirstReduce returns the axis index at which the reduce run begins:
// the boundary spec.md §3 calls first_reduce.
func (c *Context) FirstReduce() int {
	return c.Axes.GlobalDims + c.Axes.LocalDims + c.Axes.GroupForReduce
}

// ReduceDims returns the width of the reduce run.
func (c *Context) ReduceDims() int {
	return len(c.FullShape) - c.FirstReduce() - c.Axes.Upcasted
}

// TotalAxes returns len(FullShape); the invariant
// global+local+group_for_reduce+reduce+upcast == TotalAxes must hold.
func (c *Context) TotalAxes() int { return len(c.FullShape) }

// UpcastAxisInfo is one entry of UpcastedAxis's result: the logical
// size of an upcast axis and the buffer's real (possibly zero, for a
// broadcast) element stride along it.
type UpcastAxisInfo struct {
	Size   int
	Stride *symbolic.Node
}

// UpcastedAxis returns, for buffer i, the trailing Axes.Upcasted
// entries of FullShape paired with that buffer's real stride along
// each, innermost axis last.
func (c *Context) UpcastedAxis(i int) []UpcastAxisInfo {
	n := len(c.FullShape)
	upc := c.Axes.Upcasted
	strides := c.STs[i].RealStrides()
	out := make([]UpcastAxisInfo, upc)
	for j := 0; j < upc; j++ {
		ax := n - upc + j
		out[j] = UpcastAxisInfo{Size: c.FullShape[ax], Stride: strides[ax]}
	}
	return out
}

// GetUpcastDim returns the FullShape axis indices, among the trailing
// Axes.Upcasted axes, along which buffer i has a non-broadcast
// (nonzero) stride — the candidates for vector-width grouping in
// global_load/global_store.
func (c *Context) GetUpcastDim(i int) []int {
	n := len(c.FullShape)
	upc := c.Axes.Upcasted
	strides := c.STs[i].RealStrides()
	var out []int
	for ax := n - upc; ax < n; ax++ {
		s := strides[ax]
		if !s.IsConst() || s.ConstValue() != 0 {
			out = append(out, ax)
		}
	}
	return out
}

// AccOffsets returns, for each of the product(upcast sizes) concrete
// upcast coordinates enumerated in row-major order, the linear offset
// into buffer i's accumulator array. Broadcast axes (stride 0 for i)
// don't grow the accumulator: every coordinate along that axis maps to
// the same offset.
func (c *Context) AccOffsets(i int) []int {
	n := len(c.FullShape)
	upc := c.Axes.Upcasted
	if upc == 0 {
		return []int{0}
	}
	strides := c.STs[i].RealStrides()
	sizes := append([]int(nil), c.FullShape[n-upc:]...)

	accStride := make([]int, upc)
	running := 1
	for j := upc - 1; j >= 0; j-- {
		s := strides[n-upc+j]
		if s.IsConst() && s.ConstValue() == 0 {
			accStride[j] = 0
			continue
		}
		accStride[j] = running
		running *= sizes[j]
	}

	total := 1
	for _, s := range sizes {
		total *= s
	}
	out := make([]int, total)
	idx := make([]int, upc)
	for t := 0; t < total; t++ {
		off := 0
		for j := 0; j < upc; j++ {
			off += idx[j] * accStride[j]
		}
		out[t] = off
		for j := upc - 1; j >= 0; j-- {
			idx[j]++
			if idx[j] < sizes[j] {
				break
			}
			idx[j] = 0
		}
	}
	return out
}

// ReshapeAndPermute applies newShape (if non-nil) then permute (if
// non-nil) to FullShape and to every buffer's ShapeTracker. This is the
// mutation Phase F step 5 performs when moving a group-for-reduce axis
// marked "upcast in mid-reduce" to the tail.
func (c *Context) ReshapeAndPermute(newShape []int, permute []int) error {
	for i, st := range c.STs {
		if newShape != nil {
			if err := st.Reshape(newShape); err != nil {
				return fmt.Errorf("kernel: reshape buffer %d: %w", i, err)
			}
		}
		if permute != nil {
			if err := st.Permute(permute); err != nil {
				return fmt.Errorf("kernel: permute buffer %d: %w", i, err)
			}
		}
	}
	if newShape != nil {
		c.FullShape = append([]int(nil), newShape...)
	}
	if permute != nil {
		reordered := make([]int, len(c.FullShape))
		for i, p := range permute {
			reordered[i] = c.FullShape[p]
		}
		c.FullShape = reordered
	}
	return nil
}

// Upcast increments the upcast axis count, moving the boundary between
// the reduce and upcast runs one axis to the left.
func (c *Context) Upcast() { c.Axes.Upcasted++ }
