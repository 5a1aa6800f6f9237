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

// Package linearizer lowers a tensor AST (package ast) into a flat
// sequence of uops (package uop), driving a kernel.Context through the
// fixed phase sequence A-J: prelude, naming, axis-variable
// construction, outer loops, the reduce body (with an optional
// group-for-reduce second stage), the late AST, the store, loop
// closing, and a final dead-code sweep.
package linearizer

import (
	"fmt"

	"github.com/agegold/tensorlin/ast"
	"github.com/agegold/tensorlin/dtype"
	"github.com/agegold/tensorlin/kernel"
	"github.com/agegold/tensorlin/shapetracker"
	"github.com/agegold/tensorlin/symbolic"
	"github.com/agegold/tensorlin/uop"
)

// ScheduleItem is the external input to Lower: an AST rooted at a
// StoreOp, the buffer-slot descriptors it references, each buffer's
// logical view (consumed to build its ShapeTracker), the overall
// iteration shape, and the axis partition and target capabilities that
// govern how that shape is walked.
type ScheduleItem struct {
	AST       *ast.Node
	Bufs      []kernel.Buffer
	Views     [][]int
	FullShape []int
	Axes      kernel.AxisPlan
	Cap       kernel.Capabilities
}

// Linearizer holds the mutable state of one lowering pass. A value is
// only valid for a single call to Lower; it is not reused.
type Linearizer struct {
	g    *uop.Graph
	ctx  *kernel.Context
	root *ast.Node
	name string

	axisNames []string // FullShape-indexed axis name, fixed by Phase C
	axisSym   map[string]*symbolic.Node
	axisVars  map[string]uop.ID

	bufUops []uop.ID

	outerLoopIDs  []uop.ID
	localLoopIDs  []uop.ID
	reduceLoopIDs []uop.ID
	tidxLoopIDs   []uop.ID

	tempBufIndex int // -1 when no group-for-reduce second stage
	accIDs       []uop.ID
	accOffsets   []int // upcast lane -> accIDs slot, per kernel.Context.AccOffsets
	ifID         *uop.ID

	reduceNode  *ast.Node
	earlyLoaded map[int][]uop.ID // buffer slot -> one id per upcast lane
	lateLoaded  map[int][]uop.ID
}

// New builds a Linearizer for one ScheduleItem. It does not emit any
// uops; call Lower to run the phase pipeline.
func New(item ScheduleItem) (*Linearizer, error) {
	if item.AST == nil {
		return nil, fmt.Errorf("%w: schedule item has no AST", ErrMalformedAST)
	}
	if len(item.Bufs) != len(item.Views) {
		return nil, fmt.Errorf("%w: %d buffers but %d views", ErrMalformedAST, len(item.Bufs), len(item.Views))
	}
	sts := make([]*shapetracker.ShapeTracker, len(item.Views))
	for i, v := range item.Views {
		sts[i] = shapetracker.New(v)
	}
	ctx := &kernel.Context{
		Bufs:      append([]kernel.Buffer(nil), item.Bufs...),
		STs:       sts,
		FullShape: append([]int(nil), item.FullShape...),
		Axes:      item.Axes,
		Cap:       item.Cap,
	}
	return &Linearizer{
		g:            uop.New(),
		ctx:          ctx,
		root:         item.AST,
		axisSym:      map[string]*symbolic.Node{},
		axisVars:     map[string]uop.ID{},
		tempBufIndex: -1,
	}, nil
}

// Lower runs the full phase pipeline (A-J) and returns the resulting
// uop graph after dead-code elimination.
func Lower(item ScheduleItem) (*uop.Graph, error) {
	l, err := New(item)
	if err != nil {
		return nil, err
	}
	if err := l.phaseA(); err != nil {
		return nil, err
	}
	l.phaseB()
	if err := l.phaseC(); err != nil {
		return nil, err
	}
	if err := l.phaseD(); err != nil {
		return nil, err
	}
	l.reduceNode = ast.FindReduce(l.root)
	if l.reduceNode != nil {
		if err := l.phaseE(); err != nil {
			return nil, err
		}
		if l.ctx.Axes.GroupForReduce > 0 {
			if err := l.phaseF(); err != nil {
				return nil, err
			}
		}
	}
	if err := l.phaseG(); err != nil {
		return nil, err
	}
	if err := l.phaseH(); err != nil {
		return nil, err
	}
	if err := l.phaseI(); err != nil {
		return nil, err
	}
	l.g.SetName(l.name)
	return l.g.Pruned(), nil
}

// phaseA is the prelude: one DEFINE_GLOBAL per memory buffer, one
// DEFINE_LOCAL per local buffer, and (if the axis partition carries a
// group-for-reduce run) a synthetic temp local buffer sized to hold one
// partial accumulator per (local, group-for-reduce, upcast) lane.
func (l *Linearizer) phaseA() error {
	l.bufUops = make([]uop.ID, len(l.ctx.Bufs))
	for i, b := range l.ctx.Bufs {
		switch b.Kind {
		case kernel.Memory:
			dt := b.DType
			dt.Pointer = true
			id, err := l.g.Emit(uop.DEFINE_GLOBAL, &dt, nil, uop.DefineGlobalArg{Name: fmt.Sprintf("data%d", b.Index), Dtype: b.DType}, true)
			if err != nil {
				return err
			}
			l.bufUops[i] = id
		case kernel.Local:
			id, err := l.g.Emit(uop.DEFINE_LOCAL, nil, nil, uop.DefineLocalArg{Name: b.Name, Count: b.Count}, true)
			if err != nil {
				return err
			}
			l.bufUops[i] = id
		case kernel.Constant:
			// No uop to define; global_load folds the value in directly.
		}
	}

	if l.ctx.Axes.GroupForReduce > 0 {
		// Buffer 0's trailing upcast sizes (the Stride field is unused
		// here: the temp buffer is never broadcast along any axis it
		// carries, unlike an arbitrary input buffer).
		var upcastSizes []int
		if l.ctx.Axes.Upcasted > 0 {
			for _, info := range l.ctx.UpcastedAxis(0) {
				upcastSizes = append(upcastSizes, info.Size)
			}
		}
		count := 1
		for _, ax := range l.groupForReduceRun() {
			count *= l.ctx.FullShape[ax]
		}
		for _, ax := range l.localRun() {
			count *= l.ctx.FullShape[ax]
		}
		for _, s := range upcastSizes {
			count *= s
		}
		tempBuf := kernel.Buffer{Kind: kernel.Local, Name: "temp", Count: uint32(count), DType: dtype.Float32Scalar}
		l.ctx.Bufs = append(l.ctx.Bufs, tempBuf)
		tempShape := make([]int, len(l.ctx.FullShape))
		for i := range tempShape {
			tempShape[i] = 1
		}
		for _, ax := range l.localRun() {
			tempShape[ax] = l.ctx.FullShape[ax]
		}
		for _, ax := range l.groupForReduceRun() {
			tempShape[ax] = l.ctx.FullShape[ax]
		}
		for j, s := range upcastSizes {
			ax := len(l.ctx.FullShape) - l.ctx.Axes.Upcasted + j
			tempShape[ax] = s
		}
		l.ctx.STs = append(l.ctx.STs, shapetracker.New(tempShape))
		id, err := l.g.Emit(uop.DEFINE_LOCAL, nil, nil, uop.DefineLocalArg{Name: tempBuf.Name, Count: tempBuf.Count}, true)
		if err != nil {
			return err
		}
		l.bufUops = append(l.bufUops, id)
		l.tempBufIndex = len(l.ctx.Bufs) - 1
	}
	return nil
}

// phaseB assigns this lowering's kernel name via the process-wide
// counter, so repeated lowerings of the same shape/reduce signature
// get distinguishing suffixes. Lower attaches the name to the returned
// graph via uop.Graph.SetName, so it survives as an actual output of
// lowering rather than only a counter side-effect.
func (l *Linearizer) phaseB() {
	base := baseKernelName(l.reduceNode != nil || ast.FindReduce(l.root) != nil, l.ctx.FullShape)
	l.name = nextKernelName(base)
}

func (l *Linearizer) globalRun() []int {
	out := make([]int, l.ctx.Axes.GlobalDims)
	for i := range out {
		out[i] = i
	}
	return out
}

func (l *Linearizer) localRun() []int {
	start := l.ctx.Axes.GlobalDims
	out := make([]int, l.ctx.Axes.LocalDims)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func (l *Linearizer) groupForReduceRun() []int {
	start := l.ctx.Axes.GlobalDims + l.ctx.Axes.LocalDims
	out := make([]int, l.ctx.Axes.GroupForReduce)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func (l *Linearizer) reduceRun() []int {
	start := l.ctx.FirstReduce()
	out := make([]int, l.ctx.ReduceDims())
	for i := range out {
		out[i] = start + i
	}
	return out
}

func (l *Linearizer) upcastRun() []int {
	n := len(l.ctx.FullShape)
	out := make([]int, l.ctx.Axes.Upcasted)
	for i := range out {
		out[i] = n - l.ctx.Axes.Upcasted + i
	}
	return out
}

// phaseC builds the index Var for every axis: gidx{i} for global,
// lidx{i} for local and group-for-reduce (they share hardware-thread
// space, see DESIGN.md), ridx{i} for the strict reduce run, and
// _upcast{i} anonymous placeholder Vars for the upcast run. It does not
// yet bind any of these to a uop; that happens per-axis-category in
// Phases D, E, and F.
//
// The ≤3-dimension hardware-axis folding ("get_grouped_dims" in the
// distillation source) is not implemented: every axis here gets its
// own Var regardless of target dimension limits. See DESIGN.md.
func (l *Linearizer) phaseC() error {
	l.axisNames = make([]string, len(l.ctx.FullShape))
	add := func(ax int, name string) error {
		size := l.ctx.FullShape[ax]
		v, err := symbolic.Var(name, 0, int64(size-1))
		if err != nil {
			return err
		}
		l.axisSym[name] = v
		l.axisNames[ax] = name
		return nil
	}
	for i, ax := range l.globalRun() {
		if err := add(ax, fmt.Sprintf("gidx%d", i)); err != nil {
			return err
		}
	}
	localAndGroup := append(append([]int(nil), l.localRun()...), l.groupForReduceRun()...)
	for i, ax := range localAndGroup {
		if err := add(ax, fmt.Sprintf("lidx%d", i)); err != nil {
			return err
		}
	}
	for i, ax := range l.reduceRun() {
		if err := add(ax, fmt.Sprintf("ridx%d", i)); err != nil {
			return err
		}
	}
	for i, ax := range l.upcastRun() {
		if err := add(ax, fmt.Sprintf("%s%d", symbolic.UpcastPrefix, i)); err != nil {
			return err
		}
	}
	return nil
}

// phaseD opens the outer (global + local + group-for-reduce) axes:
// SPECIAL uops when the target has hardware-local support, LOOP uops
// otherwise. Reduce axes are opened later, in Phase E, since they
// bracket only the reduce body.
func (l *Linearizer) phaseD() error {
	outer := append(append([]int(nil), l.globalRun()...), l.localRun()...)
	outer = append(outer, l.groupForReduceRun()...)
	localSet := map[int]bool{}
	for _, ax := range l.localRun() {
		localSet[ax] = true
	}
	for _, ax := range l.groupForReduceRun() {
		localSet[ax] = true
	}

	if l.ctx.Cap.HasLocal && !l.ctx.Cap.DontUseLocals {
		var dim uint8
		for _, ax := range outer {
			name := l.axisNames[ax]
			id, err := l.g.Emit(uop.SPECIAL, nil, nil, uop.SpecialArg{Dim: dim, Name: name, Size: uint32(l.ctx.FullShape[ax])}, true)
			if err != nil {
				return err
			}
			l.axisVars[name] = id
			dim++
		}
		return nil
	}

	for _, ax := range outer {
		name := l.axisNames[ax]
		id, err := l.emitLoop(l.ctx.FullShape[ax])
		if err != nil {
			return err
		}
		l.axisVars[name] = id
		l.outerLoopIDs = append(l.outerLoopIDs, id)
		if localSet[ax] {
			l.localLoopIDs = append(l.localLoopIDs, id)
		}
	}
	return nil
}

// emitLoop emits the CONST(0)/CONST(size) pair and the LOOP uop they
// bracket, returning the LOOP id.
func (l *Linearizer) emitLoop(size int) (uop.ID, error) {
	loID, err := l.g.Emit(uop.CONST, &dtype.Int32Scalar, nil, uop.IntConst(0), true)
	if err != nil {
		return 0, err
	}
	hiID, err := l.g.Emit(uop.CONST, &dtype.Int32Scalar, nil, uop.IntConst(int64(size)), true)
	if err != nil {
		return 0, err
	}
	return l.g.Emit(uop.LOOP, nil, []uop.ID{loID, hiID}, uop.NoArg{}, false)
}

// upcastTotal returns product(upcast axis sizes), the number of
// parallel accumulator lanes Phase E and Phase F maintain.
func (l *Linearizer) upcastTotal() int {
	total := 1
	for _, ax := range l.upcastRun() {
		total *= l.ctx.FullShape[ax]
	}
	return total
}

// accSlot maps upcast lane k (0..upcastTotal()-1) to the accIDs index
// that lane accumulates into. Lanes broadcast by the output buffer's
// own stride pattern (kernel.Context.AccOffsets) share one slot instead
// of each getting a distinct accumulator.
func (l *Linearizer) accSlot(k int) int {
	if l.accOffsets == nil || k >= len(l.accOffsets) {
		return 0
	}
	return l.accOffsets[k]
}

// currentCoords builds the FullShape-length coordinate vector from the
// axis Vars constructed so far (Phase C), in the fixed axis order. It
// is valid to call only after Phase C has run.
func (l *Linearizer) currentCoords() []*symbolic.Node {
	coords := make([]*symbolic.Node, len(l.ctx.FullShape))
	for ax, name := range l.axisNames {
		coords[ax] = l.axisSym[name]
	}
	return coords
}

// phaseG loads every buffer not already read by the reduce body (the
// "late" buffers) at the output coordinate. Combining them with the
// reduce result (or with each other, if there is no reduce at all)
// following the AST shape above the reduce node happens in Phase H.
func (l *Linearizer) phaseG() error {
	coords := l.currentCoords()
	if l.reduceNode != nil {
		// As in Phase H: the reduce and group-for-reduce loops are closed
		// here, so the output coordinate pins those axes to 0.
		for _, ax := range l.reduceRun() {
			coords[ax] = symbolic.Num(0)
		}
		for _, ax := range l.groupForReduceRun() {
			coords[ax] = symbolic.Num(0)
		}
	}
	late := map[int][]uop.ID{}
	var walkErr error
	loadLate := func(n *ast.Node) {
		if walkErr != nil {
			return
		}
		if n.Cat != ast.CatBuffer || n.Buffer() != ast.LoadMem {
			return
		}
		idx := n.Arg.(ast.BufferArg).Index
		if l.reduceNode != nil && l.ctx.IsEarly(idx) {
			return
		}
		if _, ok := late[idx]; ok {
			return
		}
		vals, err := l.globalLoad(idx, coords, nil)
		if err != nil {
			walkErr = err
			return
		}
		late[idx] = vals
	}
	ast.Walk(l.root, loadLate)
	if walkErr != nil {
		return walkErr
	}
	l.lateLoaded = late
	return nil
}
