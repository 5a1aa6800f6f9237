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
	"fmt"

	"github.com/dchest/siphash"

	"github.com/agegold/tensorlin/dtype"
)

// Node is an immutable record of one uop. Identity and equality are
// both by ID.
type Node struct {
	ID       ID
	Op       Kind
	DType    *dtype.Type
	Operands []ID
	Arg      Arg
}

// Graph is an append-only sequence of uops built up by a single
// lowering pass. It is owned by the linearizer during construction and
// handed to downstream codegen, by move, once lowering finishes.
type Graph struct {
	nodes   []Node
	buckets map[uint64][]cacheEntry
	name    string
}

// SetName records the kernel function name Phase B assigned this
// lowering (spec §4.4 Phase B). It is otherwise unused by this package.
func (g *Graph) SetName(name string) { g.name = name }

// Name returns the kernel function name SetName recorded, or "" if
// none was set.
func (g *Graph) Name() string { return g.name }

type cacheEntry struct {
	key string
	id  ID
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{buckets: make(map[uint64][]cacheEntry)}
}

// Len returns the number of uops appended so far (including any that a
// later DeadCodeEliminate pass would drop).
func (g *Graph) Len() int { return len(g.nodes) }

// At returns the Node with the given ID. It panics if id is out of
// range, which (outside of a bug in this package) indicates the caller
// is holding a stale ID from a different Graph.
func (g *Graph) At(id ID) Node { return g.nodes[id] }

const cseSeed = 0x756f705f63736521 // "uop_cse!" in hex-ish form, arbitrary but fixed

func cacheKey(op Kind, dt *dtype.Type, operands []ID, arg Arg) string {
	return fmt.Sprintf("%d|%v|%v|%#v", op, dt, operands, arg)
}

func (g *Graph) cacheLookup(key string) (ID, bool) {
	h := siphash.Hash(0, cseSeed, []byte(key))
	for _, e := range g.buckets[h] {
		if e.key == key {
			return e.id, true
		}
	}
	return 0, false
}

func (g *Graph) cacheStore(key string, id ID) {
	h := siphash.Hash(0, cseSeed, []byte(key))
	g.buckets[h] = append(g.buckets[h], cacheEntry{key, id})
}

func (g *Graph) append(op Kind, dt *dtype.Type, operands []ID, arg Arg) ID {
	id := ID(len(g.nodes))
	g.nodes = append(g.nodes, Node{ID: id, Op: op, DType: dt, Operands: operands, Arg: arg})
	return id
}

func isConst(n Node) (ConstArg, bool) {
	if n.Op != CONST {
		return ConstArg{}, false
	}
	return n.Arg.(ConstArg), true
}

func constIsZero(c ConstArg) bool {
	if c.IsFloat {
		return c.Float == 0
	}
	return c.Int == 0
}

func constIsOne(c ConstArg) bool {
	if c.IsFloat {
		return c.Float == 1
	}
	return c.Int == 1
}

func negConst(c ConstArg) ConstArg {
	if c.IsFloat {
		return FloatConst(-c.Float)
	}
	return IntConst(-c.Int)
}

// Emit inserts a uop, applying the peephole rewrites and (for cachable
// ops) the CSE cache, in the order specified by the linearizer's
// contract. Non-cachable opcodes (LOOP, IF, END, DEFINE_ACC, BARRIER)
// never dedup regardless of the cachable argument.
func (g *Graph) Emit(op Kind, dt *dtype.Type, operands []ID, arg Arg, cachable bool) (ID, error) {
	if err := g.validate(op, operands, arg); err != nil {
		return 0, err
	}

	// 1. self-store: STORE(a,a) -> a
	if op == STORE && len(operands) == 2 && operands[0] == operands[1] {
		return operands[0], nil
	}

	// 2. CAST(GEP(x,0),...,GEP(x,n-1)) -> x, when the GEPs recompose x in order
	if op == CAST && len(operands) > 0 {
		allGEP := true
		var base ID
		for i, o := range operands {
			n := g.nodes[o]
			if n.Op != GEP {
				allGEP = false
				break
			}
			if i == 0 {
				base = n.Operands[0]
			} else if n.Operands[0] != base {
				allGEP = false
				break
			}
			lane := n.Arg.(GEPArg).Lane
			if int(lane) != i {
				allGEP = false
				break
			}
		}
		if allGEP && len(operands) > 0 {
			if bt := g.nodes[base].DType; bt != nil && int(bt.Lanes) == len(operands) {
				return base, nil
			}
		}
	}

	// 3. GEP(CONST(c),k) -> CONST(c) of the child scalar dtype
	if op == GEP && len(operands) == 1 {
		if c, ok := isConst(g.nodes[operands[0]]); ok {
			return g.Emit(CONST, dt, nil, c, true)
		}
	}

	if op == ALU {
		aluArg := arg.(ALUArg)
		// ADD(a, NEG(b)) -> SUB(a,b); the NEG node is left in the graph
		// for DCE to sweep if it ends up unused.
		if aluArg.Op == ADD && len(operands) == 2 {
			bNode := g.nodes[operands[1]]
			if bNode.Op == ALU && bNode.Arg.(ALUArg).Op == NEG {
				return g.Emit(ALU, dt, []ID{operands[0], bNode.Operands[0]}, ALUArg{SUB}, cachable)
			}
		}
		// NEG(CONST(c)) -> CONST(-c)
		if aluArg.Op == NEG && len(operands) == 1 {
			if c, ok := isConst(g.nodes[operands[0]]); ok {
				return g.Emit(CONST, dt, nil, negConst(c), true)
			}
		}
		// zero/identity folds, tried on either operand when commutative
		if len(operands) == 2 {
			positions := []int{0, 1}
			if !aluArg.Op.commutative() {
				positions = []int{1}
				if aluArg.Op == SUB || aluArg.Op == DIV {
					positions = []int{1}
				}
			}
			for _, x := range positions {
				c, ok := isConst(g.nodes[operands[x]])
				if !ok {
					continue
				}
				other := operands[1-x]
				switch {
				case aluArg.Op == ADD && constIsZero(c):
					return other, nil
				case aluArg.Op == MUL && constIsOne(c):
					return other, nil
				case aluArg.Op == MUL && constIsZero(c):
					return operands[x], nil
				case aluArg.Op == SUB && x == 1 && constIsZero(c):
					return other, nil
				case aluArg.Op == DIV && x == 1 && constIsOne(c):
					return other, nil
				}
			}
		}
	}

	key := cacheKey(op, dt, operands, arg)
	cachable = cachable && !op.neverCachable()
	if cachable {
		if id, ok := g.cacheLookup(key); ok {
			return id, nil
		}
	}
	id := g.append(op, dt, operands, arg)
	if cachable {
		g.cacheStore(key, id)
	}
	return id, nil
}

// validate checks the minimal arity/shape contract for opcodes whose
// misuse would indicate a malformed AST rather than a missing
// optimization.
func (g *Graph) validate(op Kind, operands []ID, arg Arg) error {
	for _, o := range operands {
		if int(o) >= len(g.nodes) {
			return fmt.Errorf("%w: operand %d references a uop that hasn't been emitted yet", ErrMalformedAST, o)
		}
	}
	switch op {
	case STORE:
		if len(operands) != 2 && len(operands) != 3 {
			return fmt.Errorf("%w: STORE requires 2 or 3 operands, got %d", ErrMalformedAST, len(operands))
		}
	case CAST:
		if len(operands) == 0 {
			return fmt.Errorf("%w: CAST requires at least one source operand", ErrMalformedAST)
		}
	case GEP:
		if len(operands) != 1 {
			return fmt.Errorf("%w: GEP requires exactly one source operand", ErrMalformedAST)
		}
	case ALU:
		if _, ok := arg.(ALUArg); !ok {
			return fmt.Errorf("%w: ALU requires an ALUArg", ErrMalformedAST)
		}
	}
	return nil
}

// DeadCodeEliminate repeatedly computes the set of uops referenced by
// the operand lists of other uops, unioned with the side-effect set,
// and retains only those, preserving relative order. It is a fixpoint
// over at most Len() iterations (the same "re-derive a live set, stop
// when it stops shrinking" shape used by this repository's fixed-point
// rewrite passes elsewhere, generalized here to liveness instead of
// term rewriting).
func (g *Graph) DeadCodeEliminate() []Node {
	live := g.nodes
	for {
		hasChild := make(map[ID]bool, len(live))
		for _, n := range live {
			for _, o := range n.Operands {
				hasChild[o] = true
			}
		}
		next := make([]Node, 0, len(live))
		for _, n := range live {
			if hasChild[n.ID] || n.Op.hasSideEffect() {
				next = append(next, n)
			}
		}
		if len(next) == len(live) {
			return next
		}
		live = next
	}
}

// Pruned returns a new Graph holding only the uops DeadCodeEliminate
// retains, renumbered to a dense 0..n-1 id space so that Len/At over
// the result iterate exactly the live set (callers like Lower and
// diag.Dump need the returned graph's own indexing to reflect the
// pruned uop count, not the append-only id space DeadCodeEliminate's
// []Node return value still carries).
func (g *Graph) Pruned() *Graph {
	live := g.DeadCodeEliminate()
	remap := make(map[ID]ID, len(live))
	for i, n := range live {
		remap[n.ID] = ID(i)
	}
	out := &Graph{
		nodes:   make([]Node, len(live)),
		buckets: make(map[uint64][]cacheEntry),
		name:    g.name,
	}
	for i, n := range live {
		operands := make([]ID, len(n.Operands))
		for j, o := range n.Operands {
			r, ok := remap[o]
			if !ok {
				panic(fmt.Sprintf("uop: retained uop %d references dropped uop %d", n.ID, o))
			}
			operands[j] = r
		}
		out.nodes[i] = Node{ID: ID(i), Op: n.Op, DType: n.DType, Operands: operands, Arg: n.Arg}
	}
	return out
}
