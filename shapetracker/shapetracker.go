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

// Package shapetracker maps a logical (possibly reshaped, permuted,
// broadcast, or padded) iteration coordinate onto a linear offset into
// a contiguous backing buffer, plus a boundedness predicate for the
// padded case. It is the one piece of view bookkeeping the linearizer
// needs to turn a loop-nest coordinate vector into a load/store
// address; it does not attempt to reproduce the fully general
// view-merging algebra of a production tensor compiler.
package shapetracker

import (
	"fmt"

	"github.com/agegold/tensorlin/symbolic"
)

type padRange struct {
	before, after int
}

// ShapeTracker composes a sequence of Reshape/Permute/Expand/Pad view
// transforms over a contiguous base buffer and answers index/validity
// queries against the resulting logical shape.
//
// Reshape is only legal immediately after New or another Reshape (i.e.
// while the tracker is still describing a contiguous view); Permute,
// Expand, and Pad each leave the tracker in a state where a further
// Reshape is rejected, matching the restriction that a reshape must be
// expressible over a genuinely contiguous layout.
type ShapeTracker struct {
	shape      []int
	strides    []int
	origSize   []int // pre-pad size of each axis, for the bounds check
	pads       []padRange
	contiguous bool
}

func contiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// New returns a ShapeTracker describing a fresh contiguous buffer of
// the given shape.
func New(shape []int) *ShapeTracker {
	st := &ShapeTracker{
		shape:      append([]int(nil), shape...),
		strides:    contiguousStrides(shape),
		pads:       make([]padRange, len(shape)),
		contiguous: true,
	}
	st.origSize = append([]int(nil), shape...)
	return st
}

// Shape returns the tracker's current logical shape.
func (st *ShapeTracker) Shape() []int { return append([]int(nil), st.shape...) }

func product(shape []int) int {
	p := 1
	for _, s := range shape {
		p *= s
	}
	return p
}

// Reshape replaces the logical shape with newShape, which must have the
// same total element count as the current shape. Reshape is only valid
// while the tracker still describes a contiguous view (immediately
// after New, or after another Reshape); reshaping after a Permute,
// Expand, or Pad returns ErrShapeMismatch.
func (st *ShapeTracker) Reshape(newShape []int) error {
	if !st.contiguous {
		return fmt.Errorf("%w: reshape is only valid over a contiguous view (no pending permute/expand/pad)", ErrShapeMismatch)
	}
	if product(newShape) != product(st.shape) {
		return fmt.Errorf("%w: reshape %v -> %v changes element count", ErrShapeMismatch, st.shape, newShape)
	}
	st.shape = append([]int(nil), newShape...)
	st.strides = contiguousStrides(newShape)
	st.pads = make([]padRange, len(newShape))
	st.origSize = append([]int(nil), newShape...)
	return nil
}

// Permute reorders the axes of the tracker according to order, which
// must be a permutation of [0, Rank).
func (st *ShapeTracker) Permute(order []int) error {
	if len(order) != len(st.shape) {
		return fmt.Errorf("%w: permute order has length %d, want %d", ErrShapeMismatch, len(order), len(st.shape))
	}
	seen := make([]bool, len(order))
	for _, o := range order {
		if o < 0 || o >= len(order) || seen[o] {
			return fmt.Errorf("%w: %v is not a permutation of [0,%d)", ErrShapeMismatch, order, len(order))
		}
		seen[o] = true
	}
	newShape := make([]int, len(order))
	newStrides := make([]int, len(order))
	newOrig := make([]int, len(order))
	newPads := make([]padRange, len(order))
	for i, o := range order {
		newShape[i] = st.shape[o]
		newStrides[i] = st.strides[o]
		newOrig[i] = st.origSize[o]
		newPads[i] = st.pads[o]
	}
	st.shape, st.strides, st.origSize, st.pads = newShape, newStrides, newOrig, newPads
	st.contiguous = false
	return nil
}

// ExpandShape broadcasts size-1 axes up to the corresponding size in
// newShape, setting their stride to 0. Every axis must either stay the
// same size or grow from 1.
func (st *ShapeTracker) ExpandShape(newShape []int) error {
	if len(newShape) != len(st.shape) {
		return fmt.Errorf("%w: expand shape has length %d, want %d", ErrShapeMismatch, len(newShape), len(st.shape))
	}
	for i, s := range newShape {
		if s == st.shape[i] {
			continue
		}
		if st.shape[i] != 1 {
			return fmt.Errorf("%w: axis %d has size %d, cannot expand to %d", ErrShapeMismatch, i, st.shape[i], s)
		}
		st.strides[i] = 0
		st.shape[i] = s
		st.origSize[i] = s
	}
	st.contiguous = false
	return nil
}

// Pad grows each axis i by before[i]+after[i] elements, marking the
// added region out-of-bounds for ExprIdxs's validity predicate.
func (st *ShapeTracker) Pad(before, after []int) error {
	if len(before) != len(st.shape) || len(after) != len(st.shape) {
		return fmt.Errorf("%w: pad amounts must have length %d", ErrShapeMismatch, len(st.shape))
	}
	for i := range st.shape {
		if before[i] == 0 && after[i] == 0 {
			continue
		}
		st.pads[i].before += before[i]
		st.pads[i].after += after[i]
		st.shape[i] += before[i] + after[i]
	}
	st.contiguous = false
	return nil
}

// ExprIdxs returns the linear element offset and validity predicate for
// a coordinate vector coords, one SymNode per current logical axis.
// index is the offset in elements into the contiguous base buffer;
// valid is Num(1) when every padded axis is in bounds, otherwise a
// conjunction of the per-axis range checks contributed by Pad.
func (st *ShapeTracker) ExprIdxs(coords []*symbolic.Node) (index, valid *symbolic.Node, err error) {
	if len(coords) != len(st.shape) {
		return nil, nil, fmt.Errorf("%w: got %d coords, want %d", ErrShapeMismatch, len(coords), len(st.shape))
	}
	var terms []*symbolic.Node
	var conjuncts []*symbolic.Node
	for i, c := range coords {
		eff := c
		pad := st.pads[i]
		if pad.before != 0 || pad.after != 0 {
			eff = symbolic.Add(c, symbolic.Num(int64(-pad.before)))
			conjuncts = append(conjuncts, geZero(eff))
			conjuncts = append(conjuncts, symbolic.Lt(eff, int64(st.origSize[i])))
		}
		if st.strides[i] != 0 {
			terms = append(terms, symbolic.Mul(eff, int64(st.strides[i])))
		}
	}
	index = symbolic.Add(terms...)
	valid = symbolic.And(conjuncts...)
	return index, valid, nil
}

// geZero returns a SymNode equivalent to (n >= 0), expressed via Lt
// since that is the only comparison primitive the algebra exposes:
// n >= 0  <=>  -n <= 0  <=>  -n < 1.
func geZero(n *symbolic.Node) *symbolic.Node {
	return symbolic.Lt(symbolic.Mul(n, -1), 1)
}

// RealStrides returns, for each current logical axis, the element
// stride into the base buffer as a SymNode (Num(0) for a broadcast axis
// introduced by ExpandShape). Padding and permutation do not change an
// axis's stride, only its offset and validity, so this is a direct
// readout of the tracker's bookkeeping rather than a re-derivation from
// ExprIdxs.
func (st *ShapeTracker) RealStrides() []*symbolic.Node {
	out := make([]*symbolic.Node, len(st.strides))
	for i, s := range st.strides {
		out[i] = symbolic.Num(int64(s))
	}
	return out
}

// Expand enumerates the concrete coordinate tuples obtained by
// substituting every possible value for any upcast placeholder Vars
// (see symbolic.IsUpcastVar) appearing in coords. Coordinates that
// don't reference an upcast Var are returned unchanged in every tuple.
func (st *ShapeTracker) Expand(coords []*symbolic.Node) [][]*symbolic.Node {
	vars := symbolic.ExpandVars(coords...)
	assigns := symbolic.Assignments(vars)
	out := make([][]*symbolic.Node, 0, len(assigns))
	for _, a := range assigns {
		tuple := make([]*symbolic.Node, len(coords))
		for i, c := range coords {
			tuple[i] = c.SubstituteNums(a)
		}
		out = append(out, tuple)
	}
	return out
}
