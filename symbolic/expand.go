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

import "strings"

// UpcastPrefix marks the name of a Var minted for a fully-unrolled
// upcast axis (see the kernel and linearizer packages' axis-index
// construction). Such vars are the only ones ExpandVars/Assignments
// ever enumerate; ordinary loop-index Vars (gidx/lidx/ridx/tidx) are
// left untouched since their concrete value only exists at kernel run
// time, not at lowering time.
const UpcastPrefix = "_upcast"

// IsUpcastVar reports whether n is a Var minted for an upcast axis.
func IsUpcastVar(n *Node) bool {
	return n.variant == variantVar && strings.HasPrefix(n.name, UpcastPrefix)
}

// ExpandVars collects the distinct upcast Vars reachable from any of
// nodes, in first-encountered order.
func ExpandVars(nodes ...*Node) []*Node {
	var vars []*Node
	for _, n := range nodes {
		all := n.Vars(nil)
		for _, v := range all {
			if !IsUpcastVar(v) {
				continue
			}
			found := false
			for _, existing := range vars {
				if existing.name == v.name {
					found = true
					break
				}
			}
			if !found {
				vars = append(vars, v)
			}
		}
	}
	return vars
}

// Assignments enumerates the cartesian product of every var's
// [min,max] range, returning one map per concrete combination. The
// order is lexicographic in the order vars are given, first var
// slowest-varying.
func Assignments(vars []*Node) []map[string]int64 {
	if len(vars) == 0 {
		return []map[string]int64{{}}
	}
	rest := Assignments(vars[1:])
	v := vars[0]
	out := make([]map[string]int64, 0, int(v.max-v.min+1)*len(rest))
	for val := v.min; val <= v.max; val++ {
		for _, r := range rest {
			m := make(map[string]int64, len(r)+1)
			for k, rv := range r {
				m[k] = rv
			}
			m[v.name] = val
			out = append(out, m)
		}
	}
	return out
}

// SubstituteNums is Substitute, wrapping each int64 value as Num.
func (n *Node) SubstituteNums(assign map[string]int64) *Node {
	repl := make(map[string]*Node, len(assign))
	for k, v := range assign {
		repl[k] = Num(v)
	}
	return n.Substitute(repl)
}
