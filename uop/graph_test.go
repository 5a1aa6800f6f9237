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

package uop

import (
	"testing"

	"github.com/agegold/tensorlin/dtype"
)

func f32() *dtype.Type { t := dtype.Scalar(dtype.Float32); return &t }

func TestCSEDedupsCachable(t *testing.T) {
	g := New()
	a, _ := g.Emit(DEFINE_GLOBAL, nil, nil, DefineGlobalArg{Name: "data0"}, true)
	b, _ := g.Emit(DEFINE_GLOBAL, nil, nil, DefineGlobalArg{Name: "data0"}, true)
	if a != b {
		t.Errorf("emitting the same cachable tuple twice produced distinct ids: %d != %d", a, b)
	}
}

func TestNonCachableAlwaysDistinct(t *testing.T) {
	g := New()
	a, _ := g.Emit(BARRIER, nil, nil, NoArg{}, false)
	b, _ := g.Emit(BARRIER, nil, nil, NoArg{}, false)
	if a == b {
		t.Errorf("BARRIER should never dedup, got same id %d twice", a)
	}
}

func TestSelfStorePeephole(t *testing.T) {
	g := New()
	buf, _ := g.Emit(DEFINE_GLOBAL, nil, nil, DefineGlobalArg{Name: "data0"}, true)
	got, err := g.Emit(STORE, nil, []ID{buf, buf}, NoArg{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != buf {
		t.Errorf("STORE(a,a) should return a unchanged; got %d want %d", got, buf)
	}
}

func TestGEPOfConstFoldsToConst(t *testing.T) {
	g := New()
	c, _ := g.Emit(CONST, f32(), nil, IntConst(7), true)
	got, err := g.Emit(GEP, f32(), []ID{c}, GEPArg{Lane: 2}, true)
	if err != nil {
		t.Fatal(err)
	}
	n := g.At(got)
	if n.Op != CONST || n.Arg.(ConstArg).Int != 7 {
		t.Errorf("GEP(CONST(7),k) should fold to CONST(7), got %+v", n)
	}
}

func TestAddNegBecomesSub(t *testing.T) {
	g := New()
	a, _ := g.Emit(DEFINE_ACC, f32(), nil, FloatConst(0), false)
	b, _ := g.Emit(DEFINE_ACC, f32(), nil, FloatConst(1), false)
	neg, _ := g.Emit(ALU, f32(), []ID{b}, ALUArg{NEG}, true)
	sum, err := g.Emit(ALU, f32(), []ID{a, neg}, ALUArg{ADD}, true)
	if err != nil {
		t.Fatal(err)
	}
	n := g.At(sum)
	if n.Op != ALU || n.Arg.(ALUArg).Op != SUB {
		t.Fatalf("ADD(a,NEG(b)) should rewrite to ALU/SUB, got %+v", n)
	}
	if n.Operands[0] != a || n.Operands[1] != b {
		t.Errorf("SUB operands should be (a,b); got %v", n.Operands)
	}
}

func TestZeroFoldAddIsElidedByDCE(t *testing.T) {
	g := New()
	x, _ := g.Emit(DEFINE_ACC, f32(), nil, FloatConst(3), false)
	zero, _ := g.Emit(CONST, f32(), nil, FloatConst(0), true)
	sum, err := g.Emit(ALU, f32(), []ID{x, zero}, ALUArg{ADD}, true)
	if err != nil {
		t.Fatal(err)
	}
	if sum != x {
		t.Errorf("ADD(x,0) should fold to x directly, got node %d", sum)
	}
	buf, _ := g.Emit(DEFINE_GLOBAL, nil, nil, DefineGlobalArg{Name: "data0"}, true)
	idx, _ := g.Emit(CONST, nil, nil, IntConst(0), true)
	g.Emit(STORE, nil, []ID{buf, idx, sum}, NoArg{}, false)

	retained := g.DeadCodeEliminate()
	for _, n := range retained {
		if n.Op == ALU && n.Arg.(ALUArg).Op == ADD {
			t.Errorf("no ALU/ADD should survive DCE after the zero fold, found %+v", n)
		}
	}
}

func TestDCEKeepsSideEffectsAndTransitiveOperands(t *testing.T) {
	g := New()
	buf, _ := g.Emit(DEFINE_GLOBAL, nil, nil, DefineGlobalArg{Name: "data0"}, true)
	dead, _ := g.Emit(CONST, f32(), nil, FloatConst(1), true) // unused
	used, _ := g.Emit(CONST, f32(), nil, FloatConst(2), true)
	idx, _ := g.Emit(CONST, nil, nil, IntConst(0), true)
	g.Emit(STORE, nil, []ID{buf, idx, used}, NoArg{}, false)

	retained := g.DeadCodeEliminate()
	ids := map[ID]bool{}
	for _, n := range retained {
		ids[n.ID] = true
	}
	if ids[dead] {
		t.Errorf("unreferenced CONST should be dropped by DCE")
	}
	if !ids[used] || !ids[buf] {
		t.Errorf("STORE and its operands must be retained")
	}
}

func TestOrderPreservedAcrossDCE(t *testing.T) {
	g := New()
	buf, _ := g.Emit(DEFINE_GLOBAL, nil, nil, DefineGlobalArg{Name: "data0"}, true)
	a, _ := g.Emit(CONST, f32(), nil, FloatConst(1), true)
	_, _ = g.Emit(CONST, f32(), nil, FloatConst(99), true) // unused, interleaved
	idx, _ := g.Emit(CONST, nil, nil, IntConst(0), true)
	g.Emit(STORE, nil, []ID{buf, idx, a}, NoArg{}, false)

	retained := g.DeadCodeEliminate()
	var lastID ID
	for i, n := range retained {
		if i > 0 && n.ID <= lastID {
			t.Fatalf("retained uops out of order: %d then %d", lastID, n.ID)
		}
		lastID = n.ID
	}
}
