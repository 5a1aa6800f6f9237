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

	"github.com/agegold/tensorlin/dtype"
	"github.com/agegold/tensorlin/symbolic"
	"github.com/agegold/tensorlin/uop"
)

// renderCtx implements symbolic.Renderer[uop.ID], translating a SymNode
// into ALU/CONST uops. It carries no state of its own beyond a
// back-reference to the Linearizer: repeated identical subexpressions
// dedup for free through the uop Graph's own CSE cache (every uop this
// renderer emits is cachable), so there is no separate render-level
// memo table.
type renderCtx struct {
	l *Linearizer
}

var _ symbolic.Renderer[uop.ID] = renderCtx{}

func (r renderCtx) RenderNum(value int64) (uop.ID, error) {
	return r.l.g.Emit(uop.CONST, &dtype.Int32Scalar, nil, uop.IntConst(value), true)
}

func (r renderCtx) RenderVar(name string, lo, hi int64) (uop.ID, error) {
	id, ok := r.l.axisVars[name]
	if !ok {
		return 0, fmt.Errorf("%w: no uop bound for index variable %q", ErrMalformedAST, name)
	}
	return id, nil
}

func (r renderCtx) RenderMul(child uop.ID, k int64) (uop.ID, error) {
	kID, err := r.l.g.Emit(uop.CONST, &dtype.Int32Scalar, nil, uop.IntConst(k), true)
	if err != nil {
		return 0, err
	}
	return r.l.g.Emit(uop.ALU, &dtype.Int32Scalar, []uop.ID{child, kID}, uop.ALUArg{Op: uop.MUL}, true)
}

func (r renderCtx) RenderDiv(child uop.ID, k int64) (uop.ID, error) {
	kID, err := r.l.g.Emit(uop.CONST, &dtype.Int32Scalar, nil, uop.IntConst(k), true)
	if err != nil {
		return 0, err
	}
	return r.l.g.Emit(uop.ALU, &dtype.Int32Scalar, []uop.ID{child, kID}, uop.ALUArg{Op: uop.DIV}, true)
}

func (r renderCtx) RenderMod(child uop.ID, k int64) (uop.ID, error) {
	kID, err := r.l.g.Emit(uop.CONST, &dtype.Int32Scalar, nil, uop.IntConst(k), true)
	if err != nil {
		return 0, err
	}
	return r.l.g.Emit(uop.ALU, &dtype.Int32Scalar, []uop.ID{child, kID}, uop.ALUArg{Op: uop.MOD}, true)
}

func (r renderCtx) RenderLt(child uop.ID, k int64) (uop.ID, error) {
	kID, err := r.l.g.Emit(uop.CONST, &dtype.Int32Scalar, nil, uop.IntConst(k), true)
	if err != nil {
		return 0, err
	}
	return r.l.g.Emit(uop.ALU, &dtype.BoolScalar, []uop.ID{child, kID}, uop.ALUArg{Op: uop.CMPLT}, true)
}

func (r renderCtx) RenderSum(children []uop.ID) (uop.ID, error) {
	if len(children) == 0 {
		return r.l.g.Emit(uop.CONST, &dtype.Int32Scalar, nil, uop.IntConst(0), true)
	}
	acc := children[0]
	for _, c := range children[1:] {
		var err error
		acc, err = r.l.g.Emit(uop.ALU, &dtype.Int32Scalar, []uop.ID{acc, c}, uop.ALUArg{Op: uop.ADD}, true)
		if err != nil {
			return 0, err
		}
	}
	return acc, nil
}

// RenderAnd folds a boolean conjunction with MUL: every value in this
// algebra's boolean-valued nodes is 0 or 1, so multiplying them
// together is exactly AND, and it avoids adding a logical-and ALUOp
// beyond the set spec.md §6 lists.
func (r renderCtx) RenderAnd(children []uop.ID) (uop.ID, error) {
	if len(children) == 0 {
		return r.l.g.Emit(uop.CONST, &dtype.BoolScalar, nil, uop.IntConst(1), true)
	}
	acc := children[0]
	for _, c := range children[1:] {
		var err error
		acc, err = r.l.g.Emit(uop.ALU, &dtype.BoolScalar, []uop.ID{acc, c}, uop.ALUArg{Op: uop.MUL}, true)
		if err != nil {
			return 0, err
		}
	}
	return acc, nil
}

// render is the Linearizer's one entry point into symbolic.Render.
func (l *Linearizer) render(n *symbolic.Node) (uop.ID, error) {
	return symbolic.Render(n, renderCtx{l: l})
}
