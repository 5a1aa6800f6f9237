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

package symbolic

import (
	"errors"
	"testing"
)

func TestFoldingIdentities(t *testing.T) {
	x := MustVar("x", 0, 9)

	if got := Add(x, Num(0)); !got.Equal(x) {
		t.Errorf("add(x,0) = %v, want x", got)
	}
	if got := Mul(x, 1); !got.Equal(x) {
		t.Errorf("mul(x,1) = %v, want x", got)
	}
	if got := Mul(x, 0); !got.Equal(Num(0)) {
		t.Errorf("mul(x,0) = %v, want 0", got)
	}
	if got, err := Mod(Num(13), 5); err != nil || !got.Equal(Num(13 % 5)) {
		t.Errorf("mod(13,5) = %v,%v want 3", got, err)
	}
	if got := Lt(Num(2), 5); !got.Equal(Num(1)) {
		t.Errorf("lt(2,5) = %v, want 1", got)
	}
	if got := Lt(Num(9), 5); !got.Equal(Num(0)) {
		t.Errorf("lt(9,5) = %v, want 0", got)
	}
}

func TestInvalidAlgebra(t *testing.T) {
	if _, err := Div(Num(1), 0); !errors.Is(err, ErrInvalidAlgebra) {
		t.Errorf("div by 0 should fail with ErrInvalidAlgebra, got %v", err)
	}
	if _, err := Div(Num(1), -3); !errors.Is(err, ErrInvalidAlgebra) {
		t.Errorf("div by -3 should fail with ErrInvalidAlgebra, got %v", err)
	}
	if _, err := Mod(Num(1), 0); !errors.Is(err, ErrInvalidAlgebra) {
		t.Errorf("mod by 0 should fail with ErrInvalidAlgebra, got %v", err)
	}
	if _, err := Var("bad", 5, 1); !errors.Is(err, ErrInvalidAlgebra) {
		t.Errorf("var with lo>hi should fail with ErrInvalidAlgebra, got %v", err)
	}
}

func TestSumFlattensAndCollapses(t *testing.T) {
	x := MustVar("x", 0, 9)
	y := MustVar("y", 0, 9)
	sum := Add(Add(x, y), Num(0))
	if sum.variant != variantSum || len(sum.children) != 2 {
		t.Fatalf("expected a flat 2-child Sum, got %v", sum)
	}

	single := Add(x, Num(0))
	if !single.Equal(x) {
		t.Errorf("Add(x,0) should collapse to x, got %v", single)
	}

	allConst := Add(Num(2), Num(3))
	if !allConst.Equal(Num(5)) {
		t.Errorf("Add(2,3) should collapse to Num(5), got %v", allConst)
	}
}

func TestDivMulCancel(t *testing.T) {
	x := MustVar("x", 0, 9)
	m := Mul(x, 4)
	d, err := Div(m, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(x) {
		t.Errorf("div(mul(x,4),4) = %v, want x", d)
	}
}

func TestBoundsPropagateThroughSum(t *testing.T) {
	x := MustVar("x", 0, 9)
	y := MustVar("y", 0, 4)
	s := Add(x, y)
	if s.Min() != 0 || s.Max() != 13 {
		t.Errorf("bounds of x(0..9)+y(0..4) = [%d,%d], want [0,13]", s.Min(), s.Max())
	}
}

// TestNormalizationIsSemanticIdentity exercises testable property 1:
// normalization never changes the value of an expression under a fixed
// total assignment of its free Vars.
func TestNormalizationIsSemanticIdentity(t *testing.T) {
	x := MustVar("x", 0, 9)
	y := MustVar("y", 0, 9)
	env := map[string]int64{"x": 7, "y": 3}

	raw := Add(Add(Mul(x, 2), Num(0)), Mul(y, 1))
	want := 2*env["x"] + env["y"]
	if got := raw.Eval(env); got != want {
		t.Errorf("eval = %d, want %d", got, want)
	}

	d, err := Div(Add(Mul(x, 4), Num(3)), 4)
	if err != nil {
		t.Fatal(err)
	}
	want2 := (4*env["x"] + 3) / 4
	if got := d.Eval(env); got != want2 {
		t.Errorf("eval(div) = %d, want %d", got, want2)
	}
}

func TestSubstitutionIsPure(t *testing.T) {
	x := MustVar("x", 0, 9)
	before := x.String()
	y := Num(5)
	sub := x.Substitute(map[string]*Node{"x": y})
	if !sub.Equal(y) {
		t.Errorf("substitute(x -> 5) = %v, want 5", sub)
	}
	if x.String() != before {
		t.Errorf("Substitute mutated the original node")
	}
}

func TestHash64Deterministic(t *testing.T) {
	x := MustVar("x", 0, 9)
	a := Add(x, Num(1))
	b := Add(MustVar("x", 0, 9), Num(1))
	if a.Hash64() != b.Hash64() {
		t.Errorf("structurally equal nodes hashed differently")
	}
}
