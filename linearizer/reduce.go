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
	"math"

	"github.com/agegold/tensorlin/ast"
	"github.com/agegold/tensorlin/dtype"
	"github.com/agegold/tensorlin/symbolic"
	"github.com/agegold/tensorlin/uop"
)

func reduceALUOp(op ast.ReduceOp) uop.ALUOp {
	if op == ast.SUM {
		return uop.ADD
	}
	return uop.MAX
}

func reduceIdentity(op ast.ReduceOp) float64 {
	if op == ast.SUM {
		return 0
	}
	return math.Inf(-1)
}

// accSlotCount returns the number of distinct accumulator slots an
// AccOffsets mapping addresses: one more than its largest entry, or 1
// for the no-upcast []int{0} case.
func accSlotCount(offsets []int) int {
	count := 1
	for _, o := range offsets {
		if o+1 > count {
			count = o + 1
		}
	}
	return count
}

func binaryALUOp(op ast.BinaryOp) (uop.ALUOp, error) {
	switch op {
	case ast.ADD:
		return uop.ADD, nil
	case ast.SUB:
		return uop.SUB, nil
	case ast.MUL:
		return uop.MUL, nil
	case ast.DIV:
		return uop.DIV, nil
	case ast.MAX:
		return uop.MAX, nil
	case ast.MOD:
		return uop.MOD, nil
	case ast.CMPLT:
		return uop.CMPLT, nil
	default:
		return 0, fmt.Errorf("%w: binary op %s has no ALUOp", ErrMalformedAST, op)
	}
}

// phaseE emits the reduce body: the accumulator(s), the reduce-axis
// loops, the (omitted) local-alias staging, the early-buffer loads, the
// combine step (MULACC-fused when the body is exactly SUM(MUL(a,b)) or
// SUM(CAST(MUL(a,b)))), and the closing END for each reduce loop.
//
// Local-alias staging of input buffers (step 4 of the reduce-body
// contract) is not implemented: none of this linearizer's target
// scenarios stage an input through local memory ahead of the reduce
// loop, only the group-for-reduce output staging Phase F performs. See
// DESIGN.md.
func (l *Linearizer) phaseE() error {
	reduceNode := l.reduceNode
	early := ast.EarlyBuffers(reduceNode)
	l.ctx.SetEarlyBufs(early)

	total := l.upcastTotal()
	storeIdx := l.root.Arg.(ast.StoreArg).Index
	l.accOffsets = l.ctx.AccOffsets(storeIdx)
	accCount := accSlotCount(l.accOffsets)

	identity := reduceIdentity(reduceNode.Reduce())
	l.accIDs = make([]uop.ID, accCount)
	for k := 0; k < accCount; k++ {
		id, err := l.g.Emit(uop.DEFINE_ACC, &dtype.Float32Scalar, nil, uop.FloatConst(identity), false)
		if err != nil {
			return err
		}
		l.accIDs[k] = id
	}

	for _, ax := range l.reduceRun() {
		name := l.axisNames[ax]
		id, err := l.emitLoop(l.ctx.FullShape[ax])
		if err != nil {
			return err
		}
		l.axisVars[name] = id
		l.reduceLoopIDs = append(l.reduceLoopIDs, id)
	}

	if l.ctx.Cap.UseTensorCores {
		if _, err := l.g.Emit(uop.BARRIER, nil, nil, uop.NoArg{}, false); err != nil {
			return err
		}
	}

	coords := l.currentCoords()
	l.earlyLoaded = map[int][]uop.ID{}
	for _, bi := range l.ctx.EarlyBufs {
		vals, err := l.globalLoad(bi, coords, nil)
		if err != nil {
			return err
		}
		l.earlyLoaded[bi] = vals
	}

	mulA, mulB, fused := (*ast.Node)(nil), (*ast.Node)(nil), false
	if reduceNode.Reduce() == ast.SUM {
		mulA, mulB, fused = ast.MulOperands(reduceNode.Src[0])
	}

	for k := 0; k < total; k++ {
		slot := l.accSlot(k)
		var result uop.ID
		var err error
		if fused {
			var va, vb uop.ID
			if va, err = l.evalExpr(mulA, k); err == nil {
				vb, err = l.evalExpr(mulB, k)
			}
			if err == nil {
				result, err = l.g.Emit(uop.ALU, &dtype.Float32Scalar, []uop.ID{l.accIDs[slot], va, vb}, uop.ALUArg{Op: uop.MULACC}, true)
			}
		} else {
			var val uop.ID
			if val, err = l.evalExpr(reduceNode.Src[0], k); err == nil {
				result, err = l.g.Emit(uop.ALU, &dtype.Float32Scalar, []uop.ID{l.accIDs[slot], val}, uop.ALUArg{Op: reduceALUOp(reduceNode.Reduce())}, true)
			}
		}
		if err != nil {
			return err
		}
		if _, err := l.g.Emit(uop.STORE, nil, []uop.ID{l.accIDs[slot], result}, uop.NoArg{}, false); err != nil {
			return err
		}
	}

	for i := len(l.reduceLoopIDs) - 1; i >= 0; i-- {
		if _, err := l.g.Emit(uop.END, nil, []uop.ID{l.reduceLoopIDs[i]}, uop.NoArg{}, false); err != nil {
			return err
		}
	}
	return nil
}

// phaseF is the group-for-reduce second stage: stash each thread's
// partial accumulator into the temp local buffer, synchronize, end the
// local loops, gate the rest to thread 0 of each group, and walk a
// fresh serial tidx loop over the group-for-reduce axes to produce the
// final accumulator(s).
func (l *Linearizer) phaseF() error {
	total := l.upcastTotal()
	zeroed := l.currentCoords()
	for _, ax := range l.globalRun() {
		zeroed[ax] = symbolic.Num(0)
	}
	for _, ax := range l.reduceRun() {
		zeroed[ax] = symbolic.Num(0)
	}
	// zeroed still carries free _upcast{i} Vars for the upcast run, so
	// every lane needs its own concrete coordinate tuple from Expand
	// before indexing the temp buffer; resolving the address once
	// against the still-symbolic coords would store every lane to the
	// same cell.
	tuples := l.ctx.STs[l.tempBufIndex].Expand(zeroed)
	for k := 0; k < total; k++ {
		tuple := zeroed
		if k < len(tuples) {
			tuple = tuples[k]
		}
		idx, _, err := l.ctx.STs[l.tempBufIndex].ExprIdxs(tuple)
		if err != nil {
			return err
		}
		renderedIdx, err := l.render(idx)
		if err != nil {
			return err
		}
		slot := l.accSlot(k)
		if _, err := l.g.Emit(uop.STORE, nil, []uop.ID{l.bufUops[l.tempBufIndex], renderedIdx, l.accIDs[slot]}, uop.NoArg{}, false); err != nil {
			return err
		}
	}

	if _, err := l.g.Emit(uop.BARRIER, nil, nil, uop.NoArg{}, false); err != nil {
		return err
	}
	// ending too much here: closes all local loops, not just the ones inside the if-gate
	for i := len(l.localLoopIDs) - 1; i >= 0; i-- {
		if _, err := l.g.Emit(uop.END, nil, []uop.ID{l.localLoopIDs[i]}, uop.NoArg{}, false); err != nil {
			return err
		}
	}

	if l.ctx.Cap.HasLocal && !l.ctx.Cap.DontUseLocals {
		var conjuncts []*symbolic.Node
		for _, ax := range l.groupForReduceRun() {
			name := l.axisNames[ax]
			conjuncts = append(conjuncts, symbolic.Lt(l.axisSym[name], 1))
		}
		cond := symbolic.And(conjuncts...)
		condID, err := l.render(cond)
		if err != nil {
			return err
		}
		ifID, err := l.g.Emit(uop.IF, nil, []uop.ID{condID}, uop.NoArg{}, false)
		if err != nil {
			return err
		}
		l.ifID = &ifID
	}

	// Step 5 runs ahead of step 4's tidx loops, not after (spec.md's
	// listed order is advisory here, since nothing in a schedule item
	// names the promoted axis independently of this decision): a
	// promoted axis is fully unrolled into the accumulator, so it must
	// not also get a serial tidx LOOP, or its partials would be combined
	// twice over.
	if err := l.promoteMidReduceUpcast(); err != nil {
		return err
	}

	for i, ax := range l.groupForReduceRun() {
		name := fmt.Sprintf("tidx%d", i)
		size := l.ctx.FullShape[ax]
		v, err := symbolic.Var(name, 0, int64(size-1))
		if err != nil {
			return err
		}
		l.axisSym[name] = v
		l.axisNames[ax] = name
		id, err := l.emitLoop(size)
		if err != nil {
			return err
		}
		l.axisVars[name] = id
		l.tidxLoopIDs = append(l.tidxLoopIDs, id)
	}

	storeIdx := l.root.Arg.(ast.StoreArg).Index
	l.accOffsets = l.ctx.AccOffsets(storeIdx)
	newTotal := l.upcastTotal()
	newAcc := make([]uop.ID, accSlotCount(l.accOffsets))
	identity := reduceIdentity(l.reduceNode.Reduce())
	for k := range newAcc {
		id, err := l.g.Emit(uop.DEFINE_ACC, &dtype.Float32Scalar, nil, uop.FloatConst(identity), false)
		if err != nil {
			return err
		}
		newAcc[k] = id
	}

	loadCoords := l.currentCoords()
	for _, ax := range l.globalRun() {
		loadCoords[ax] = symbolic.Num(0)
	}
	for _, ax := range l.reduceRun() {
		loadCoords[ax] = symbolic.Num(0)
	}
	vals, err := l.globalLoad(l.tempBufIndex, loadCoords, nil)
	if err != nil {
		return err
	}
	aluOp := reduceALUOp(l.reduceNode.Reduce())
	for k := 0; k < newTotal && k < len(vals); k++ {
		slot := l.accSlot(k)
		combined, err := l.g.Emit(uop.ALU, &dtype.Float32Scalar, []uop.ID{newAcc[slot], vals[k]}, uop.ALUArg{Op: aluOp}, true)
		if err != nil {
			return err
		}
		if _, err := l.g.Emit(uop.STORE, nil, []uop.ID{newAcc[slot], combined}, uop.NoArg{}, false); err != nil {
			return err
		}
	}

	for i := len(l.tidxLoopIDs) - 1; i >= 0; i-- {
		if _, err := l.g.Emit(uop.END, nil, []uop.ID{l.tidxLoopIDs[i]}, uop.NoArg{}, false); err != nil {
			return err
		}
	}

	l.accIDs = newAcc
	return nil
}

// promoteMidReduceUpcast is Phase F step 5: an axis "marked upcast in
// mid-reduce" is reshaped/permuted to the tail and folded into the
// upcast run instead of being walked by a serial tidx loop. Nothing in
// a schedule item names such an axis explicitly, so the trailing
// group-for-reduce axis is promoted when its size matches the 2/4
// vector width globalLoad/globalStore already use for upcast-run
// vectorization; any other size is left alone and gets the ordinary
// tidx loop. Must run before tidx loop construction: a promoted axis
// is unrolled into the accumulator array, so pairing it with a serial
// loop too would combine its partials twice.
func (l *Linearizer) promoteMidReduceUpcast() error {
	gfr := l.groupForReduceRun()
	if len(gfr) == 0 {
		return nil
	}
	last := gfr[len(gfr)-1]
	size := l.ctx.FullShape[last]
	if size != 2 && size != 4 {
		return nil
	}

	order := append(append([]int(nil), l.globalRun()...), l.localRun()...)
	for _, ax := range gfr {
		if ax != last {
			order = append(order, ax)
		}
	}
	order = append(order, l.reduceRun()...)
	promotedPos := len(order)
	order = append(order, last)
	upcStart := len(l.ctx.FullShape) - l.ctx.Axes.Upcasted
	for ax := upcStart; ax < len(l.ctx.FullShape); ax++ {
		order = append(order, ax)
	}

	if err := l.ctx.ReshapeAndPermute(nil, order); err != nil {
		return err
	}

	oldNames := l.axisNames
	newNames := make([]string, len(order))
	for i, ax := range order {
		newNames[i] = oldNames[ax]
	}
	l.axisNames = newNames

	l.ctx.Axes.GroupForReduce--
	l.ctx.Upcast()

	name := fmt.Sprintf("%s%d", symbolic.UpcastPrefix, l.ctx.Axes.Upcasted-1)
	v, err := symbolic.Var(name, 0, int64(size-1))
	if err != nil {
		return err
	}
	l.axisSym[name] = v
	l.axisNames[promotedPos] = name
	return nil
}

// phaseH stores the final value (the accumulator, for a reduce kernel,
// or the late-AST combine, for a pure elementwise one) into the buffer
// slot named by the root STORE node.
func (l *Linearizer) phaseH() error {
	coords := l.currentCoords()
	if l.reduceNode != nil {
		// The reduce (and, once folded by Phase F, the group-for-reduce)
		// axes don't survive into the output's address space: their loops
		// are already closed by this point, so referencing their index
		// Vars here would reach stale loop-scoped ids.
		for _, ax := range l.reduceRun() {
			coords[ax] = symbolic.Num(0)
		}
		for _, ax := range l.groupForReduceRun() {
			coords[ax] = symbolic.Num(0)
		}
	}
	total := l.upcastTotal()
	values := make([]uop.ID, total)
	for k := 0; k < total; k++ {
		val, err := l.evalExpr(l.root.Src[0], k)
		if err != nil {
			return err
		}
		values[k] = val
	}
	storeIdx := l.root.Arg.(ast.StoreArg).Index
	return l.globalStore(storeIdx, coords, values)
}

// phaseI closes whatever Phase F's IF gate and Phase D's outer LOOPs
// left open, in reverse order, and leaves dead-code elimination to the
// caller.
func (l *Linearizer) phaseI() error {
	if l.ifID != nil {
		if _, err := l.g.Emit(uop.END, nil, []uop.ID{*l.ifID}, uop.NoArg{}, false); err != nil {
			return err
		}
	}
	for i := len(l.outerLoopIDs) - 1; i >= 0; i-- {
		if _, err := l.g.Emit(uop.END, nil, []uop.ID{l.outerLoopIDs[i]}, uop.NoArg{}, false); err != nil {
			return err
		}
	}
	return nil
}

// laneOf picks upcast lane k out of ids, the per-lane load results
// globalLoad returned for one buffer. ids always has one entry per
// upcast lane (every buffer's load shares the same coords, so
// ShapeTracker.Expand always enumerates the full upcast cross product),
// but a lone entry is reused for every lane as a defensive fallback.
func laneOf(ids []uop.ID, k int) uop.ID {
	if k < len(ids) {
		return ids[k]
	}
	return ids[0]
}

// evalExpr lowers the AST subtree rooted at n to a single uop, for
// upcast lane k. The reduce node itself (if n is exactly the Linearizer's
// reduceNode) resolves directly to that lane's accumulator rather than
// being walked further.
func (l *Linearizer) evalExpr(n *ast.Node, k int) (uop.ID, error) {
	if l.reduceNode != nil && n == l.reduceNode {
		slot := l.accSlot(k)
		if slot >= len(l.accIDs) {
			return 0, fmt.Errorf("%w: upcast lane %d out of range for accumulator", ErrMalformedAST, k)
		}
		return l.accIDs[slot], nil
	}

	switch n.Cat {
	case ast.CatBuffer:
		switch n.Buffer() {
		case ast.LoadMem:
			idx := n.Arg.(ast.BufferArg).Index
			if ids, ok := l.earlyLoaded[idx]; ok {
				return laneOf(ids, k), nil
			}
			if ids, ok := l.lateLoaded[idx]; ok {
				return laneOf(ids, k), nil
			}
			return 0, fmt.Errorf("%w: buffer %d referenced before it was loaded", ErrMalformedAST, idx)
		case ast.LoadConst:
			return l.g.Emit(uop.CONST, &dtype.Float32Scalar, nil, uop.FloatConst(n.Arg.(ast.ConstArg).Value), true)
		default:
			return 0, fmt.Errorf("%w: unexpected store node inside an expression", ErrMalformedAST)
		}

	case ast.CatUnary:
		child, err := l.evalExpr(n.Src[0], k)
		if err != nil {
			return 0, err
		}
		switch n.Unary() {
		case ast.NOOP:
			return child, nil
		case ast.NEG:
			return l.g.Emit(uop.ALU, &dtype.Float32Scalar, []uop.ID{child}, uop.ALUArg{Op: uop.NEG}, true)
		case ast.CAST:
			return l.g.Emit(uop.CAST, &dtype.Float32Scalar, []uop.ID{child}, uop.NoArg{}, true)
		default:
			return 0, fmt.Errorf("%w: unary op %s has no uop representation", ErrMalformedAST, n.Unary())
		}

	case ast.CatBinary:
		a, err := l.evalExpr(n.Src[0], k)
		if err != nil {
			return 0, err
		}
		b, err := l.evalExpr(n.Src[1], k)
		if err != nil {
			return 0, err
		}
		op, err := binaryALUOp(n.Binary())
		if err != nil {
			return 0, err
		}
		dt := &dtype.Float32Scalar
		if op == uop.CMPLT {
			dt = &dtype.BoolScalar
		}
		return l.g.Emit(uop.ALU, dt, []uop.ID{a, b}, uop.ALUArg{Op: op}, true)

	case ast.CatTernary:
		a, err := l.evalExpr(n.Src[0], k)
		if err != nil {
			return 0, err
		}
		b, err := l.evalExpr(n.Src[1], k)
		if err != nil {
			return 0, err
		}
		c, err := l.evalExpr(n.Src[2], k)
		if err != nil {
			return 0, err
		}
		return l.g.Emit(uop.ALU, &dtype.Float32Scalar, []uop.ID{a, b, c}, uop.ALUArg{Op: uop.WHERE}, true)

	case ast.CatReduce:
		return 0, fmt.Errorf("%w: nested reduce is not supported", ErrMalformedAST)

	default:
		return 0, fmt.Errorf("%w: unknown AST category %v", ErrMalformedAST, n.Cat)
	}
}
