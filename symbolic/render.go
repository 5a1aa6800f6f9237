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

import "fmt"

// Renderer is implemented by a lowering context (typically the
// linearizer) that turns a symbolic expression into uops. Render
// dispatches on the Node's variant with a plain switch (there is no
// global dispatch table keyed by type, unlike the dynamically-typed
// original this package's algebra is modeled on); Renderer methods
// receive already-rendered children so they only ever need to emit one
// new uop per call.
type Renderer[T any] interface {
	RenderNum(value int64) (T, error)
	RenderVar(name string, lo, hi int64) (T, error)
	RenderMul(child T, k int64) (T, error)
	RenderDiv(child T, k int64) (T, error)
	RenderMod(child T, k int64) (T, error)
	RenderLt(child T, k int64) (T, error)
	RenderSum(children []T) (T, error)
	RenderAnd(children []T) (T, error)
}

// Render walks n and invokes the matching Renderer method at each node,
// rendering children before parents. Render itself never mutates n or
// any of its children; any side effects (e.g. appending uops to a
// graph) live entirely inside the Renderer implementation.
func Render[T any](n *Node, ctx Renderer[T]) (T, error) {
	var zero T
	switch n.variant {
	case variantNum:
		return ctx.RenderNum(n.value)
	case variantVar:
		return ctx.RenderVar(n.name, n.min, n.max)
	case variantMul:
		c, err := Render(n.child, ctx)
		if err != nil {
			return zero, err
		}
		return ctx.RenderMul(c, n.k)
	case variantDiv:
		c, err := Render(n.child, ctx)
		if err != nil {
			return zero, err
		}
		return ctx.RenderDiv(c, n.k)
	case variantMod:
		c, err := Render(n.child, ctx)
		if err != nil {
			return zero, err
		}
		return ctx.RenderMod(c, n.k)
	case variantLt:
		c, err := Render(n.child, ctx)
		if err != nil {
			return zero, err
		}
		return ctx.RenderLt(c, n.k)
	case variantSum:
		kids := make([]T, len(n.children))
		for i, c := range n.children {
			v, err := Render(c, ctx)
			if err != nil {
				return zero, err
			}
			kids[i] = v
		}
		return ctx.RenderSum(kids)
	case variantAnd:
		kids := make([]T, len(n.children))
		for i, c := range n.children {
			v, err := Render(c, ctx)
			if err != nil {
				return zero, err
			}
			kids[i] = v
		}
		return ctx.RenderAnd(kids)
	default:
		return zero, fmt.Errorf("symbolic: unreachable variant in Render")
	}
}

// Eval evaluates n under a total assignment of its free Vars. It panics
// if a free Var has no entry in env (callers that only evaluate closed
// test expressions are expected to supply every Var). Eval is used by
// this package's own tests to check that normalization is a semantic
// identity, not by the linearizer (which renders rather than evaluates).
func (n *Node) Eval(env map[string]int64) int64 {
	switch n.variant {
	case variantNum:
		return n.value
	case variantVar:
		v, ok := env[n.name]
		if !ok {
			panic(fmt.Sprintf("symbolic: no value for var %q", n.name))
		}
		return v
	case variantMul:
		return n.child.Eval(env) * n.k
	case variantDiv:
		return floorDiv(n.child.Eval(env), n.k)
	case variantMod:
		return floorMod(n.child.Eval(env), n.k)
	case variantLt:
		if n.child.Eval(env) < n.k {
			return 1
		}
		return 0
	case variantSum:
		var s int64
		for _, c := range n.children {
			s += c.Eval(env)
		}
		return s
	case variantAnd:
		for _, c := range n.children {
			if c.Eval(env) == 0 {
				return 0
			}
		}
		return 1
	default:
		panic("symbolic: unreachable variant in Eval")
	}
}
