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

package kernel

import "github.com/agegold/tensorlin/dtype"

// BufferKind discriminates the three buffer-slot shapes spec.md §3
// describes.
type BufferKind uint8

const (
	Memory BufferKind = iota
	Constant
	Local
)

func (k BufferKind) String() string {
	switch k {
	case Memory:
		return "Memory"
	case Constant:
		return "Constant"
	case Local:
		return "Local"
	default:
		return "?"
	}
}

// Buffer is one slot of the schedule item's buffer list. Exactly the
// fields relevant to Kind are meaningful.
type Buffer struct {
	Kind BufferKind

	// Memory
	Index   int // stable external index, rendered as "data{Index}"
	DType   dtype.Type
	Pointer bool

	// Constant
	ConstValue float64

	// Local
	Name  string
	Count uint32
}
