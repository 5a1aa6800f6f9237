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

// Package dtype describes the scalar and small-vector data types that
// flow through uops. It deliberately knows nothing about target-specific
// code generation; it only carries enough information for the linearizer
// to pick vector widths and constant-folding behavior.
package dtype

import "fmt"

// Kind is the scalar element kind of a Type.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int32
	Int64
	Float32
	Float64
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "invalid"
	}
}

// IsInt reports whether k is an integral kind.
func (k Kind) IsInt() bool { return k == Int32 || k == Int64 || k == Bool }

// IsFloat reports whether k is a floating-point kind.
func (k Kind) IsFloat() bool { return k == Float32 || k == Float64 }

// Type is a scalar or small-vector data type attached to a uop.
//
// Lanes is 1 for scalars; 2 or 4 for the vector widths the linearizer
// is willing to produce (see the upcast vector-width rule in the
// linearizer package). Pointer marks a DEFINE_GLOBAL/DEFINE_LOCAL slot
// as holding an address rather than a value.
type Type struct {
	Kind    Kind
	Lanes   uint8
	Pointer bool
}

// Scalar constructs a scalar (Lanes == 1) Type of the given kind.
func Scalar(k Kind) Type { return Type{Kind: k, Lanes: 1} }

// Vector constructs a vector Type with the given lane count. Only 2 and
// 4 lanes are ever produced by the linearizer (spec: widths beyond 2/4
// are never attempted even where alignment would permit it).
func Vector(k Kind, lanes uint8) Type { return Type{Kind: k, Lanes: lanes} }

// Ptr returns a pointer-flavored Type wrapping the given element type.
func Ptr(k Kind) Type { return Type{Kind: k, Lanes: 1, Pointer: true} }

// Elem returns the scalar element type underlying a (possibly vector,
// possibly pointer) Type.
func (t Type) Elem() Type { return Type{Kind: t.Kind, Lanes: 1} }

// IsVector reports whether t has more than one lane.
func (t Type) IsVector() bool { return t.Lanes > 1 }

func (t Type) String() string {
	s := t.Kind.String()
	if t.Lanes > 1 {
		s = fmt.Sprintf("%s%d", s, t.Lanes)
	}
	if t.Pointer {
		s = "*" + s
	}
	return s
}

var (
	Int32Scalar   = Scalar(Int32)
	Int64Scalar   = Scalar(Int64)
	Float32Scalar = Scalar(Float32)
	BoolScalar    = Scalar(Bool)
	Float32x2     = Vector(Float32, 2)
	Float32x4     = Vector(Float32, 4)
	Int32x2       = Vector(Int32, 2)
)
