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

package diag

import (
	"strings"
	"testing"

	"github.com/agegold/tensorlin/dtype"
	"github.com/agegold/tensorlin/uop"
)

func TestDumpRendersOneLinePerUop(t *testing.T) {
	g := uop.New()
	f32 := dtype.Scalar(dtype.Float32)
	a, _ := g.Emit(uop.CONST, &f32, nil, uop.FloatConst(1), true)
	b, _ := g.Emit(uop.CONST, &f32, nil, uop.FloatConst(2), true)
	g.Emit(uop.ALU, &f32, []uop.ID{a, b}, uop.ALUArg{Op: uop.ADD}, true)

	var sb strings.Builder
	if err := Dump(g, &sb); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 lines, got %d: %q", len(lines), sb.String())
	}
	if !strings.Contains(lines[2], "ALU/ADD") {
		t.Errorf("want the ALU line to name its op, got %q", lines[2])
	}
	if !strings.Contains(lines[2], "%0, %1") {
		t.Errorf("want the ALU line to reference its operands by id, got %q", lines[2])
	}
}
