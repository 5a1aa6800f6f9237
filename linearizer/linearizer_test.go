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
	"testing"

	"github.com/agegold/tensorlin/ast"
	"github.com/agegold/tensorlin/dtype"
	"github.com/agegold/tensorlin/kernel"
	"github.com/agegold/tensorlin/uop"
)

func countOp(g *uop.Graph, k uop.Kind) int {
	n := 0
	for i := 0; i < g.Len(); i++ {
		if g.At(uop.ID(i)).Op == k {
			n++
		}
	}
	return n
}

func memBuf(index int) kernel.Buffer {
	return kernel.Buffer{Kind: kernel.Memory, Index: index, DType: dtype.Float32Scalar}
}

func TestLowerElementwiseAdd(t *testing.T) {
	item := ScheduleItem{
		AST:       ast.NewStore(0, ast.NewBinary(ast.ADD, ast.NewLoadMem(1), ast.NewLoadMem(2))),
		Bufs:      []kernel.Buffer{memBuf(0), memBuf(1), memBuf(2)},
		Views:     [][]int{{8}, {8}, {8}},
		FullShape: []int{8},
		Axes:      kernel.AxisPlan{GlobalDims: 1},
	}
	g, err := Lower(item)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if n := countOp(g, uop.DEFINE_GLOBAL); n != 3 {
		t.Errorf("want 3 DEFINE_GLOBAL (out,a,b), got %d", n)
	}
	if n := countOp(g, uop.LOOP); n != 1 {
		t.Errorf("want 1 LOOP (the single global axis, no hardware-local target), got %d", n)
	}
	if n := countOp(g, uop.END); n != 1 {
		t.Errorf("want 1 END closing that loop, got %d", n)
	}
	foundAdd, foundStore := false, false
	for i := 0; i < g.Len(); i++ {
		n := g.At(uop.ID(i))
		if n.Op == uop.ALU && n.Arg.(uop.ALUArg).Op == uop.ADD {
			foundAdd = true
		}
		if n.Op == uop.STORE && len(n.Operands) == 3 {
			foundStore = true
		}
	}
	if !foundAdd {
		t.Error("expected an ALU/ADD combining the two loads")
	}
	if !foundStore {
		t.Error("expected a 3-operand STORE writing the result")
	}
}

// TestLowerDotProductSumReduce covers a single-axis SUM(MUL(a,b)) reduction
// with no group-for-reduce stage: the MULACC fusion should fire and the
// output should be stored once, after the reduce loop closes.
func TestLowerDotProductSumReduce(t *testing.T) {
	reduceBody := ast.NewReduce(ast.SUM, ast.NewBinary(ast.MUL, ast.NewLoadMem(1), ast.NewLoadMem(2)))
	item := ScheduleItem{
		AST:       ast.NewStore(0, reduceBody),
		Bufs:      []kernel.Buffer{memBuf(0), memBuf(1), memBuf(2)},
		Views:     [][]int{{4}, {4}, {4}},
		FullShape: []int{4},
		Axes:      kernel.AxisPlan{},
	}
	g, err := Lower(item)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if n := countOp(g, uop.DEFINE_ACC); n != 1 {
		t.Errorf("want 1 accumulator (no upcast), got %d", n)
	}
	foundMulacc := false
	storeCount := 0
	for i := 0; i < g.Len(); i++ {
		n := g.At(uop.ID(i))
		if n.Op == uop.ALU && n.Arg.(uop.ALUArg).Op == uop.MULACC {
			foundMulacc = true
		}
		if n.Op == uop.STORE && len(n.Operands) == 3 {
			storeCount++
		}
	}
	if !foundMulacc {
		t.Error("SUM(MUL(a,b)) should fuse to a single ALU/MULACC")
	}
	if storeCount != 1 {
		t.Errorf("the reduction result should be written to the output buffer exactly once, got %d 3-operand STOREs", storeCount)
	}
}

// TestLowerGroupForReduceSecondStage exercises the group-for-reduce path:
// a hardware-local target partitions the reduce across a group axis,
// stages each thread's partial sum through a temp buffer, then thread 0
// walks a serial tidx loop to combine the group's partials.
func TestLowerGroupForReduceSecondStage(t *testing.T) {
	// The group-for-reduce axis is sized 5, not 2 or 4, so this scenario
	// stays outside promoteMidReduceUpcast's vector-width trigger and
	// exercises the plain serial tidx combine; see
	// TestLowerGroupForReducePromotesVectorWidthAxis for the promoted path.
	item := ScheduleItem{
		AST:       ast.NewStore(0, ast.NewReduce(ast.SUM, ast.NewLoadMem(1))),
		Bufs:      []kernel.Buffer{memBuf(0), memBuf(1)},
		Views:     [][]int{{2, 5, 3}, {2, 5, 3}},
		FullShape: []int{2, 5, 3},
		Axes:      kernel.AxisPlan{GlobalDims: 1, GroupForReduce: 1},
		Cap:       kernel.Capabilities{HasLocal: true},
	}
	g, err := Lower(item)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if n := countOp(g, uop.SPECIAL); n != 2 {
		t.Errorf("want 2 SPECIAL (global + group-for-reduce), got %d", n)
	}
	if n := countOp(g, uop.BARRIER); n != 1 {
		t.Errorf("want 1 BARRIER staging the partials through the temp buffer, got %d", n)
	}
	if n := countOp(g, uop.IF); n != 1 {
		t.Errorf("want 1 IF gating the second stage to thread 0, got %d", n)
	}
	if n := countOp(g, uop.DEFINE_LOCAL); n != 1 {
		t.Errorf("want 1 DEFINE_LOCAL for the synthetic temp buffer, got %d", n)
	}
	if n := countOp(g, uop.DEFINE_ACC); n != 2 {
		t.Errorf("want 2 DEFINE_ACC (the per-thread partial, then thread 0's combine accumulator), got %d", n)
	}
}

// TestLowerGroupForReducePromotesVectorWidthAxis covers Phase F step 5:
// a group-for-reduce axis sized 4 (loadstore.go's vector-width
// convention) is promoted into the upcast run instead of getting a
// serial tidx loop, so the second-stage combine fully unrolls across 4
// accumulator slots rather than looping over them one at a time.
func TestLowerGroupForReducePromotesVectorWidthAxis(t *testing.T) {
	item := ScheduleItem{
		AST:       ast.NewStore(0, ast.NewReduce(ast.SUM, ast.NewLoadMem(1))),
		Bufs:      []kernel.Buffer{memBuf(0), memBuf(1)},
		Views:     [][]int{{2, 4, 3}, {2, 4, 3}},
		FullShape: []int{2, 4, 3},
		Axes:      kernel.AxisPlan{GlobalDims: 1, GroupForReduce: 1},
		Cap:       kernel.Capabilities{HasLocal: true},
	}
	g, err := Lower(item)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if n := countOp(g, uop.LOOP); n != 1 {
		t.Errorf("want 1 LOOP (the reduce axis only; the promoted axis needs no serial tidx loop), got %d", n)
	}
	if n := countOp(g, uop.DEFINE_ACC); n != 5 {
		t.Errorf("want 5 DEFINE_ACC (1 per-thread partial, then 4 unrolled combine accumulators), got %d", n)
	}
	if n := countOp(g, uop.IF); n != 1 {
		t.Errorf("want 1 IF gating the second stage to thread 0, got %d", n)
	}
	if n := countOp(g, uop.BARRIER); n != 1 {
		t.Errorf("want 1 BARRIER staging the partials through the temp buffer, got %d", n)
	}
}

// TestLowerVectorWidthFourLoad covers a purely upcast (no loop, no
// hardware-local axis) elementwise negate: both the load and the store
// should collapse to one aligned vector op plus GEP/CAST, not four
// scalar ops. (A plain copy would fold CAST(GEP(load,0..3)) back to the
// load, leaving no GEP or CAST to count.)
func TestLowerVectorWidthFourLoad(t *testing.T) {
	item := ScheduleItem{
		AST:       ast.NewStore(0, ast.NewUnary(ast.NEG, ast.NewLoadMem(1))),
		Bufs:      []kernel.Buffer{memBuf(0), memBuf(1)},
		Views:     [][]int{{4}, {4}},
		FullShape: []int{4},
		Axes:      kernel.AxisPlan{Upcasted: 1},
	}
	g, err := Lower(item)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if n := countOp(g, uop.LOOP); n != 0 {
		t.Errorf("a fully upcast axis should need no LOOP, got %d", n)
	}
	if n := countOp(g, uop.LOAD); n != 1 {
		t.Errorf("want exactly 1 vector LOAD, got %d", n)
	}
	if n := countOp(g, uop.GEP); n != 4 {
		t.Errorf("want 4 GEPs unpacking the vector load's lanes, got %d", n)
	}
	if n := countOp(g, uop.CAST); n != 1 {
		t.Errorf("want exactly 1 CAST repacking the 4 lanes for the vector store, got %d", n)
	}
	storeCount := 0
	for i := 0; i < g.Len(); i++ {
		if g.At(uop.ID(i)).Op == uop.STORE {
			storeCount++
		}
	}
	if storeCount != 1 {
		t.Errorf("want exactly 1 vector STORE, got %d", storeCount)
	}
}

// TestNextKernelNameDistinguishesRepeats covers "same kernel twice": a
// second lowering of the same shape/reduce signature gets a distinguishing
// suffix rather than colliding with the first.
func TestNextKernelNameDistinguishesRepeats(t *testing.T) {
	// The name counter is process-wide and the Lower tests above already
	// consume "E_8", so use a shape no other test lowers.
	base := baseKernelName(false, []int{3, 1, 4, 1, 5})
	first := nextKernelName(base)
	second := nextKernelName(base)
	if first != base {
		t.Errorf("first occurrence should be the bare base name, got %q", first)
	}
	if second == first {
		t.Errorf("second occurrence should differ from the first, both are %q", first)
	}
	if second != base+"n1" {
		t.Errorf("second occurrence should be base+\"n1\", got %q", second)
	}
}

// TestLowerZeroFoldPeephole covers ADD(x, 0) folding away entirely during
// lowering, rather than surviving as a live ALU node for DCE to catch.
func TestLowerZeroFoldPeephole(t *testing.T) {
	item := ScheduleItem{
		AST:       ast.NewStore(0, ast.NewBinary(ast.ADD, ast.NewLoadMem(1), ast.NewLoadConst(0))),
		Bufs:      []kernel.Buffer{memBuf(0), memBuf(1)},
		Views:     [][]int{{8}, {8}},
		FullShape: []int{8},
		Axes:      kernel.AxisPlan{GlobalDims: 1},
	}
	g, err := Lower(item)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	for i := 0; i < g.Len(); i++ {
		n := g.At(uop.ID(i))
		if n.Op == uop.ALU && n.Arg.(uop.ALUArg).Op == uop.ADD {
			t.Errorf("ADD(x,0) should have folded away at insertion time, found live ALU/ADD node %+v", n)
		}
	}
}
