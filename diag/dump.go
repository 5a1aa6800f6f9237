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

// Package diag renders a uop.Graph as one line of text per uop, for the
// tlc CLI's -explain flag. It is a debug dump, not the excluded
// graph-drawing facility: output is plain text, line-ordered by id, with
// no layout or rendering beyond that.
package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/agegold/tensorlin/uop"
)

// Dump writes one line per live uop in g to w, in id order:
//
//	%4 = ALU/ADD %1, %2 : float32
//
// Constant args are rendered inline; each other known payload type gets
// its own short form, and an empty (NoArg) payload prints nothing.
func Dump(g *uop.Graph, w io.Writer) error {
	if name := g.Name(); name != "" {
		if _, err := io.WriteString(w, fmt.Sprintf("; %s\n", name)); err != nil {
			return fmt.Errorf("diag: writing kernel name: %w", err)
		}
	}
	for i := 0; i < g.Len(); i++ {
		n := g.At(uop.ID(i))
		line := formatNode(n)
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("diag: writing uop %d: %w", i, err)
		}
	}
	return nil
}

func formatNode(n uop.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%%%d = %s", n.ID, n.Op)
	if arg := formatArg(n.Arg); arg != "" {
		fmt.Fprintf(&b, "/%s", arg)
	}
	if len(n.Operands) > 0 {
		b.WriteString(" ")
		for i, o := range n.Operands {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%%%d", o)
		}
	}
	if n.DType != nil {
		fmt.Fprintf(&b, " : %s", n.DType)
	}
	return b.String()
}

func formatArg(arg uop.Arg) string {
	switch a := arg.(type) {
	case uop.ALUArg:
		return a.Op.String()
	case uop.ConstArg:
		if a.IsFloat {
			return fmt.Sprintf("%g", a.Float)
		}
		return fmt.Sprintf("%d", a.Int)
	case uop.SpecialArg:
		return fmt.Sprintf("%s[%d]", a.Name, a.Size)
	case uop.DefineGlobalArg:
		return a.Name
	case uop.DefineLocalArg:
		return fmt.Sprintf("%s[%d]", a.Name, a.Count)
	case uop.GEPArg:
		return fmt.Sprintf("lane%d", a.Lane)
	case uop.WMMAArg:
		return a.Target
	default:
		return ""
	}
}
