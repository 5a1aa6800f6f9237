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

package kernel

import (
	"testing"

	"github.com/agegold/tensorlin/shapetracker"
)

func TestFirstReduceAndReduceDims(t *testing.T) {
	c := &Context{FullShape: []int{8, 4, 16, 2}, Axes: AxisPlan{GlobalDims: 1, LocalDims: 1, Upcasted: 1}}
	if got := c.FirstReduce(); got != 2 {
		t.Errorf("FirstReduce = %d, want 2", got)
	}
	if got := c.ReduceDims(); got != 1 {
		t.Errorf("ReduceDims = %d, want 1", got)
	}
}

func TestSetEarlyBufsDedupsAndSorts(t *testing.T) {
	c := &Context{}
	c.SetEarlyBufs([]int{3, 1, 1, 2})
	if len(c.EarlyBufs) != 3 {
		t.Fatalf("expected 3 distinct early bufs, got %v", c.EarlyBufs)
	}
	for i, want := range []int{1, 2, 3} {
		if c.EarlyBufs[i] != want {
			t.Errorf("EarlyBufs[%d] = %d, want %d", i, c.EarlyBufs[i], want)
		}
	}
	if !c.IsEarly(2) || c.IsEarly(9) {
		t.Error("IsEarly disagrees with the recorded set")
	}
}

func TestUpcastedAxisAndGetUpcastDim(t *testing.T) {
	st0 := shapetracker.New([]int{8, 4})
	if err := st0.ExpandShape([]int{8, 4}); err != nil {
		t.Fatal(err)
	}
	st1 := shapetracker.New([]int{8, 1})
	if err := st1.ExpandShape([]int{8, 4}); err != nil {
		t.Fatal(err)
	}
	c := &Context{
		FullShape: []int{8, 4},
		Axes:      AxisPlan{GlobalDims: 1, Upcasted: 1},
		STs:       []*shapetracker.ShapeTracker{st0, st1},
	}
	info0 := c.UpcastedAxis(0)
	if len(info0) != 1 || info0[0].Size != 4 || info0[0].Stride.ConstValue() != 1 {
		t.Errorf("buffer 0 upcast axis info = %+v", info0)
	}
	if dims := c.GetUpcastDim(0); len(dims) != 1 || dims[0] != 1 {
		t.Errorf("buffer 0 GetUpcastDim = %v, want [1]", dims)
	}
	if dims := c.GetUpcastDim(1); len(dims) != 0 {
		t.Errorf("buffer 1's upcast axis is broadcast, GetUpcastDim should be empty, got %v", dims)
	}
}

func TestAccOffsetsCollapsesBroadcastAxis(t *testing.T) {
	st := shapetracker.New([]int{8, 1})
	if err := st.ExpandShape([]int{8, 4}); err != nil {
		t.Fatal(err)
	}
	c := &Context{
		FullShape: []int{8, 4},
		Axes:      AxisPlan{GlobalDims: 1, Upcasted: 1},
		STs:       []*shapetracker.ShapeTracker{st},
	}
	offs := c.AccOffsets(0)
	if len(offs) != 4 {
		t.Fatalf("expected 4 offsets (one per upcast position), got %v", offs)
	}
	for _, o := range offs {
		if o != 0 {
			t.Errorf("a fully-broadcast upcast axis should collapse every offset to 0, got %v", offs)
		}
	}
}

func TestReshapeAndPermuteMutatesSharedState(t *testing.T) {
	c := &Context{
		FullShape: []int{4, 8},
		STs:       []*shapetracker.ShapeTracker{shapetracker.New([]int{4, 8})},
	}
	if err := c.ReshapeAndPermute(nil, []int{1, 0}); err != nil {
		t.Fatal(err)
	}
	if c.FullShape[0] != 8 || c.FullShape[1] != 4 {
		t.Errorf("FullShape after permute = %v, want [8 4]", c.FullShape)
	}
	if got := c.STs[0].Shape(); got[0] != 8 || got[1] != 4 {
		t.Errorf("ShapeTracker shape after permute = %v, want [8 4]", got)
	}
}

func TestUpcastIncrementsCount(t *testing.T) {
	c := &Context{Axes: AxisPlan{Upcasted: 1}}
	c.Upcast()
	if c.Axes.Upcasted != 2 {
		t.Errorf("Upcast() should increment, got %d", c.Axes.Upcasted)
	}
}
