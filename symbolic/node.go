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

// Package symbolic implements a small symbolic integer algebra:
// variables with finite ranges, constants, and compound nodes (sum,
// product, division, modulus, comparison, conjunction). Every
// constructor normalizes eagerly and every Node is pure: building a new
// node, or substituting into one, never mutates an existing Node.
package symbolic

import (
	"fmt"
	"sort"
	"strings"
)

// Variant tags the shape of a Node.
type Variant uint8

const (
	variantNum Variant = iota
	variantVar
	variantMul
	variantDiv
	variantMod
	variantLt
	variantSum
	variantAnd
)

func (v Variant) String() string {
	switch v {
	case variantNum:
		return "Num"
	case variantVar:
		return "Var"
	case variantMul:
		return "Mul"
	case variantDiv:
		return "Div"
	case variantMod:
		return "Mod"
	case variantLt:
		return "Lt"
	case variantSum:
		return "Sum"
	case variantAnd:
		return "And"
	default:
		return "?"
	}
}

// Node is an immutable symbolic integer (or, for Lt/And, boolean-valued)
// expression. The zero Node is not valid; construct nodes with Num, Var,
// and the combinators below.
type Node struct {
	variant Variant

	// Num
	value int64

	// Var
	name string

	// Mul, Div, Mod, Lt share a single child + constant shape
	child *Node
	k     int64

	// Sum, And
	children []*Node

	// cached, tight-where-possible bounds
	min, max int64
}

// Min returns the node's minimum possible value (0/1 for boolean nodes).
func (n *Node) Min() int64 { return n.min }

// Max returns the node's maximum possible value (0/1 for boolean nodes).
func (n *Node) Max() int64 { return n.max }

// IsConst reports whether n folds to a single known integer.
func (n *Node) IsConst() bool { return n.variant == variantNum }

// ConstValue returns the constant value of n; only meaningful when
// IsConst() is true.
func (n *Node) ConstValue() int64 { return n.value }

// Name returns the variable name; only meaningful when n is a Var.
func (n *Node) Name() string { return n.name }

// Num constructs a constant integer node.
func Num(value int64) *Node {
	return &Node{variant: variantNum, value: value, min: value, max: value}
}

// Var constructs a symbolic integer in the inclusive range [lo, hi].
// Returns a wrapped ErrInvalidAlgebra if lo > hi.
func Var(name string, lo, hi int64) (*Node, error) {
	if lo > hi {
		return nil, fmt.Errorf("%w: var %q has lo=%d > hi=%d", ErrInvalidAlgebra, name, lo, hi)
	}
	if lo == hi {
		return Num(lo), nil
	}
	return &Node{variant: variantVar, name: name, min: lo, max: hi}, nil
}

// MustVar is Var, panicking on error; intended for package-init-time or
// test-time construction where the bounds are known-good.
func MustVar(name string, lo, hi int64) *Node {
	n, err := Var(name, lo, hi)
	if err != nil {
		panic(err)
	}
	return n
}

// Add returns the normalized sum of the given nodes. A flat Sum is
// maintained (no nested Sums); constant children fold together; zero
// children are dropped; a Sum with one remaining child collapses to
// that child; a Sum with no children collapses to Num(0).
func Add(nodes ...*Node) *Node {
	var flat []*Node
	for _, n := range nodes {
		if n.variant == variantSum {
			flat = append(flat, n.children...)
		} else {
			flat = append(flat, n)
		}
	}
	return newSum(flat)
}

func newSum(flat []*Node) *Node {
	var constSum int64
	var rest []*Node
	for _, n := range flat {
		if n.variant == variantNum {
			constSum += n.value
			continue
		}
		if n.value0IsZero() {
			continue
		}
		rest = append(rest, n)
	}
	rest = mergeLikeTerms(rest)
	if len(rest) == 0 {
		return Num(constSum)
	}
	if constSum != 0 {
		rest = append(rest, Num(constSum))
	}
	if len(rest) == 1 {
		return rest[0]
	}
	sortNodes(rest)
	var mn, mx int64
	for _, c := range rest {
		mn += c.min
		mx += c.max
	}
	return &Node{variant: variantSum, children: rest, min: mn, max: mx}
}

// value0IsZero reports whether n is the constant 0 (used to drop Sum
// children that are zero; named oddly to avoid colliding with IsConst).
func (n *Node) value0IsZero() bool { return n.variant == variantNum && n.value == 0 }

// mergeLikeTerms combines Mul nodes that share the same child into a
// single Mul with summed constant factors, e.g. 3*x + 2*x -> 5*x.
func mergeLikeTerms(nodes []*Node) []*Node {
	type bucket struct {
		child *Node
		k     int64
	}
	var buckets []bucket
	for _, n := range nodes {
		var child *Node
		var k int64
		if n.variant == variantMul {
			child, k = n.child, n.k
		} else {
			child, k = n, 1
		}
		merged := false
		for i := range buckets {
			if nodesEqual(buckets[i].child, child) {
				buckets[i].k += k
				merged = true
				break
			}
		}
		if !merged {
			buckets = append(buckets, bucket{child, k})
		}
	}
	out := make([]*Node, 0, len(buckets))
	for _, b := range buckets {
		if b.k == 0 {
			continue
		}
		out = append(out, mulConst(b.child, b.k))
	}
	return out
}

// Mul returns the normalized product of child and the constant k.
func Mul(child *Node, k int64) *Node { return mulConst(child, k) }

func mulConst(child *Node, k int64) *Node {
	if k == 0 {
		return Num(0)
	}
	if k == 1 {
		return child
	}
	if child.variant == variantNum {
		return Num(child.value * k)
	}
	if child.variant == variantMul {
		return mulConst(child.child, child.k*k)
	}
	if child.variant == variantSum {
		// distribute: mul(Sum(a,b), k) = Sum(mul(a,k), mul(b,k))
		terms := make([]*Node, len(child.children))
		for i, c := range child.children {
			terms[i] = mulConst(c, k)
		}
		return newSum(terms)
	}
	mn, mx := child.min*k, child.max*k
	if k < 0 {
		mn, mx = mx, mn
	}
	return &Node{variant: variantMul, child: child, k: k, min: mn, max: mx}
}

// Div returns floor(child / k). Returns a wrapped ErrInvalidAlgebra if k
// is not positive.
func Div(child *Node, k int64) (*Node, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: divisor %d is not positive", ErrInvalidAlgebra, k)
	}
	return divPositive(child, k), nil
}

func divPositive(child *Node, k int64) *Node {
	if k == 1 {
		return child
	}
	if child.variant == variantNum {
		return Num(floorDiv(child.value, k))
	}
	if child.variant == variantMul && child.k%k == 0 {
		return mulConst(child.child, child.k/k)
	}
	if child.variant == variantMul && k%child.k == 0 && child.k > 0 {
		return divPositive(child.child, k/child.k)
	}
	mn, mx := floorDiv(child.min, k), floorDiv(child.max, k)
	return &Node{variant: variantDiv, child: child, k: k, min: mn, max: mx}
}

// Mod returns child mod k (non-negative residue arithmetic, k > 0).
// Returns a wrapped ErrInvalidAlgebra if k is not positive.
func Mod(child *Node, k int64) (*Node, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: modulus %d is not positive", ErrInvalidAlgebra, k)
	}
	return modPositive(child, k), nil
}

func modPositive(child *Node, k int64) *Node {
	if k == 1 {
		return Num(0)
	}
	if child.variant == variantNum {
		return Num(floorMod(child.value, k))
	}
	// mod is folded when the child's range already fits inside [0, k)
	if child.min >= 0 && child.max < k {
		return child
	}
	if child.variant == variantMul && child.k%k == 0 {
		return Num(0)
	}
	mn, mx := int64(0), k-1
	if child.min >= 0 && child.max-child.min < k {
		// tight bound: the residues form a contiguous window
		mn, mx = floorMod(child.min, k), floorMod(child.min, k)+(child.max-child.min)
		if mx >= k {
			mn, mx = 0, k-1
		}
	}
	return &Node{variant: variantMod, child: child, k: k, min: mn, max: mx}
}

// Lt returns the boolean-valued node (child < k), folding to Num(0) or
// Num(1) whenever the bounds of child already prove the inequality one
// way or the other.
func Lt(child *Node, k int64) *Node {
	if child.max < k {
		return Num(1)
	}
	if child.min >= k {
		return Num(0)
	}
	if child.variant == variantNum {
		if child.value < k {
			return Num(1)
		}
		return Num(0)
	}
	return &Node{variant: variantLt, child: child, k: k, min: 0, max: 1}
}

// And returns the boolean conjunction of the given (boolean-valued)
// nodes, flattening nested Ands and folding away known-true (Num(1))
// children. A conjunction containing a known-false child folds to
// Num(0); an empty conjunction is Num(1) (vacuously true).
func And(nodes ...*Node) *Node {
	var flat []*Node
	for _, n := range nodes {
		if n.variant == variantAnd {
			flat = append(flat, n.children...)
		} else {
			flat = append(flat, n)
		}
	}
	var rest []*Node
	for _, n := range flat {
		if n.variant == variantNum {
			if n.value == 0 {
				return Num(0)
			}
			continue // true, drop
		}
		rest = append(rest, n)
	}
	if len(rest) == 0 {
		return Num(1)
	}
	if len(rest) == 1 {
		return rest[0]
	}
	sortNodes(rest)
	mn, mx := int64(1), int64(1)
	for _, c := range rest {
		if c.min != 1 {
			mn = 0
		}
		if c.max == 0 {
			mx = 0
		}
	}
	return &Node{variant: variantAnd, children: rest, min: mn, max: mx}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// Substitute replaces every free Var whose name is a key of repl with
// the corresponding Node, rebuilding the expression bottom-up through
// the same normalizing constructors. It never mutates n.
func (n *Node) Substitute(repl map[string]*Node) *Node {
	switch n.variant {
	case variantNum:
		return n
	case variantVar:
		if r, ok := repl[n.name]; ok {
			return r
		}
		return n
	case variantMul:
		return mulConst(n.child.Substitute(repl), n.k)
	case variantDiv:
		return divPositive(n.child.Substitute(repl), n.k)
	case variantMod:
		return modPositive(n.child.Substitute(repl), n.k)
	case variantLt:
		return Lt(n.child.Substitute(repl), n.k)
	case variantSum:
		terms := make([]*Node, len(n.children))
		for i, c := range n.children {
			terms[i] = c.Substitute(repl)
		}
		return Add(terms...)
	case variantAnd:
		terms := make([]*Node, len(n.children))
		for i, c := range n.children {
			terms[i] = c.Substitute(repl)
		}
		return And(terms...)
	default:
		panic("symbolic: unreachable variant in Substitute")
	}
}

// Vars appends every distinct free Var reachable from n to dst and
// returns the result, in first-encountered order.
func (n *Node) Vars(dst []*Node) []*Node {
	switch n.variant {
	case variantVar:
		for _, d := range dst {
			if d.name == n.name {
				return dst
			}
		}
		return append(dst, n)
	case variantMul, variantDiv, variantMod, variantLt:
		return n.child.Vars(dst)
	case variantSum, variantAnd:
		for _, c := range n.children {
			dst = c.Vars(dst)
		}
		return dst
	default:
		return dst
	}
}

// Equal reports structural equality between n and o.
func (n *Node) Equal(o *Node) bool { return nodesEqual(n, o) }

func nodesEqual(a, b *Node) bool {
	if a == b {
		return true
	}
	if a.variant != b.variant {
		return false
	}
	switch a.variant {
	case variantNum:
		return a.value == b.value
	case variantVar:
		return a.name == b.name && a.min == b.min && a.max == b.max
	case variantMul, variantDiv, variantMod, variantLt:
		return a.k == b.k && nodesEqual(a.child, b.child)
	case variantSum, variantAnd:
		if len(a.children) != len(b.children) {
			return false
		}
		for i := range a.children {
			if !nodesEqual(a.children[i], b.children[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// key renders a canonical string form used both for stable sorting of
// commutative children and as the pre-image for the siphash-based cache
// keys used by the uop/linearizer packages (see Key).
func (n *Node) key(sb *strings.Builder) {
	switch n.variant {
	case variantNum:
		fmt.Fprintf(sb, "#%d", n.value)
	case variantVar:
		fmt.Fprintf(sb, "$%s[%d,%d]", n.name, n.min, n.max)
	case variantMul:
		sb.WriteString("(*")
		n.child.key(sb)
		fmt.Fprintf(sb, ",%d)", n.k)
	case variantDiv:
		sb.WriteString("(/")
		n.child.key(sb)
		fmt.Fprintf(sb, ",%d)", n.k)
	case variantMod:
		sb.WriteString("(%")
		n.child.key(sb)
		fmt.Fprintf(sb, ",%d)", n.k)
	case variantLt:
		sb.WriteString("(<")
		n.child.key(sb)
		fmt.Fprintf(sb, ",%d)", n.k)
	case variantSum:
		sb.WriteString("(+")
		for _, c := range n.children {
			c.key(sb)
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	case variantAnd:
		sb.WriteString("(&")
		for _, c := range n.children {
			c.key(sb)
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	}
}

// Key returns a canonical string encoding of n suitable for use as (the
// pre-image of) a deterministic cache key.
func (n *Node) Key() string {
	var sb strings.Builder
	n.key(&sb)
	return sb.String()
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key() < nodes[j].Key() })
}

// String renders n in ordinary infix notation; it is meant for
// diagnostics, not for any wire format.
func (n *Node) String() string {
	switch n.variant {
	case variantNum:
		return fmt.Sprintf("%d", n.value)
	case variantVar:
		return n.name
	case variantMul:
		return fmt.Sprintf("(%s*%d)", n.child, n.k)
	case variantDiv:
		return fmt.Sprintf("(%s//%d)", n.child, n.k)
	case variantMod:
		return fmt.Sprintf("(%s%%%d)", n.child, n.k)
	case variantLt:
		return fmt.Sprintf("(%s<%d)", n.child, n.k)
	case variantSum:
		parts := make([]string, len(n.children))
		for i, c := range n.children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, "+") + ")"
	case variantAnd:
		parts := make([]string, len(n.children))
		for i, c := range n.children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " and ") + ")"
	default:
		return "?"
	}
}
