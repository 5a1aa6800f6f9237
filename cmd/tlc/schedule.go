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

package main

import (
	"encoding/json"
	"fmt"

	"github.com/agegold/tensorlin/ast"
	"github.com/agegold/tensorlin/dtype"
	"github.com/agegold/tensorlin/kernel"
	"github.com/agegold/tensorlin/tensorlin"
)

// jsonNode is the wire shape of one ast.Node: a tagged union keyed by
// Op, since ast.Node itself carries an unexported opcode and an any Arg
// that don't round-trip through encoding/json on their own.
type jsonNode struct {
	Op    string     `json:"op"`
	Src   []jsonNode `json:"src,omitempty"`
	Index int        `json:"index,omitempty"`
	Value float64    `json:"value,omitempty"`
}

func (n jsonNode) build() (*ast.Node, error) {
	switch n.Op {
	case "NOOP", "NEG", "EXP2", "LOG2", "SIN", "SQRT", "CAST":
		src, err := n.onlySrc()
		if err != nil {
			return nil, err
		}
		return ast.NewUnary(unaryOps[n.Op], src), nil
	case "ADD", "SUB", "MUL", "DIV", "MAX", "MOD", "CMPLT":
		a, b, err := n.twoSrc()
		if err != nil {
			return nil, err
		}
		return ast.NewBinary(binaryOps[n.Op], a, b), nil
	case "WHERE":
		if len(n.Src) != 3 {
			return nil, fmt.Errorf("%w: WHERE needs exactly 3 src nodes, got %d", tensorlin.ErrMalformedAST, len(n.Src))
		}
		a, err := n.Src[0].build()
		if err != nil {
			return nil, err
		}
		b, err := n.Src[1].build()
		if err != nil {
			return nil, err
		}
		c, err := n.Src[2].build()
		if err != nil {
			return nil, err
		}
		return ast.NewTernary(ast.WHERE, a, b, c), nil
	case "SUM", "REDUCE_MAX":
		src, err := n.onlySrc()
		if err != nil {
			return nil, err
		}
		op := ast.SUM
		if n.Op == "REDUCE_MAX" {
			op = ast.REDUCE_MAX
		}
		return ast.NewReduce(op, src), nil
	case "LOAD":
		return ast.NewLoadMem(n.Index), nil
	case "CONST":
		return ast.NewLoadConst(n.Value), nil
	case "STORE":
		src, err := n.onlySrc()
		if err != nil {
			return nil, err
		}
		return ast.NewStore(n.Index, src), nil
	default:
		return nil, fmt.Errorf("%w: unknown ast op %q", tensorlin.ErrMalformedAST, n.Op)
	}
}

func (n jsonNode) onlySrc() (*ast.Node, error) {
	if len(n.Src) != 1 {
		return nil, fmt.Errorf("%w: %s needs exactly 1 src node, got %d", tensorlin.ErrMalformedAST, n.Op, len(n.Src))
	}
	return n.Src[0].build()
}

func (n jsonNode) twoSrc() (*ast.Node, *ast.Node, error) {
	if len(n.Src) != 2 {
		return nil, nil, fmt.Errorf("%w: %s needs exactly 2 src nodes, got %d", tensorlin.ErrMalformedAST, n.Op, len(n.Src))
	}
	a, err := n.Src[0].build()
	if err != nil {
		return nil, nil, err
	}
	b, err := n.Src[1].build()
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

var unaryOps = map[string]ast.UnaryOp{
	"NOOP": ast.NOOP, "NEG": ast.NEG, "EXP2": ast.EXP2,
	"LOG2": ast.LOG2, "SIN": ast.SIN, "SQRT": ast.SQRT, "CAST": ast.CAST,
}

var binaryOps = map[string]ast.BinaryOp{
	"ADD": ast.ADD, "SUB": ast.SUB, "MUL": ast.MUL, "DIV": ast.DIV,
	"MAX": ast.MAX, "MOD": ast.MOD, "CMPLT": ast.CMPLT,
}

// jsonBuffer is the wire shape of one kernel.Buffer.
type jsonBuffer struct {
	Kind       string  `json:"kind"`
	Index      int     `json:"index,omitempty"`
	DType      string  `json:"dtype,omitempty"`
	ConstValue float64 `json:"const_value,omitempty"`
	Name       string  `json:"name,omitempty"`
	Count      uint32  `json:"count,omitempty"`
}

var dtypeKinds = map[string]dtype.Kind{
	"bool": dtype.Bool, "int32": dtype.Int32, "int64": dtype.Int64,
	"float32": dtype.Float32, "float64": dtype.Float64,
}

func (b jsonBuffer) build() (kernel.Buffer, error) {
	switch b.Kind {
	case "memory":
		k, ok := dtypeKinds[b.DType]
		if !ok {
			return kernel.Buffer{}, fmt.Errorf("%w: unknown dtype %q for buffer %d", tensorlin.ErrMalformedAST, b.DType, b.Index)
		}
		return kernel.Buffer{Kind: kernel.Memory, Index: b.Index, DType: dtype.Scalar(k)}, nil
	case "constant":
		return kernel.Buffer{Kind: kernel.Constant, ConstValue: b.ConstValue}, nil
	case "local":
		return kernel.Buffer{Kind: kernel.Local, Name: b.Name, Count: b.Count}, nil
	default:
		return kernel.Buffer{}, fmt.Errorf("%w: unknown buffer kind %q", tensorlin.ErrMalformedAST, b.Kind)
	}
}

// jsonScheduleItem is the on-disk/stdin JSON form of a tensorlin.ScheduleItem.
type jsonScheduleItem struct {
	AST       jsonNode     `json:"ast"`
	Bufs      []jsonBuffer `json:"bufs"`
	Views     [][]int      `json:"views"`
	FullShape []int        `json:"full_shape"`
	Axes      struct {
		GlobalDims     int `json:"global_dims"`
		LocalDims      int `json:"local_dims"`
		GroupForReduce int `json:"group_for_reduce"`
		Upcasted       int `json:"upcasted"`
	} `json:"axes"`
}

func decodeScheduleItem(raw []byte) (tensorlin.ScheduleItem, error) {
	var in jsonScheduleItem
	if err := json.Unmarshal(raw, &in); err != nil {
		return tensorlin.ScheduleItem{}, fmt.Errorf("decoding schedule item: %w", err)
	}
	root, err := in.AST.build()
	if err != nil {
		return tensorlin.ScheduleItem{}, err
	}
	bufs := make([]kernel.Buffer, len(in.Bufs))
	for i, b := range in.Bufs {
		bufs[i], err = b.build()
		if err != nil {
			return tensorlin.ScheduleItem{}, err
		}
	}
	return tensorlin.ScheduleItem{
		AST:       root,
		Bufs:      bufs,
		Views:     in.Views,
		FullShape: in.FullShape,
		Axes: kernel.AxisPlan{
			GlobalDims:     in.Axes.GlobalDims,
			LocalDims:      in.Axes.LocalDims,
			GroupForReduce: in.Axes.GroupForReduce,
			Upcasted:       in.Axes.Upcasted,
		},
	}, nil
}
