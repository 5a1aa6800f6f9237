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

// Package tensorlin lowers a tensor-expression AST into a flat sequence
// of uops. It re-exports the linearizer package's entry point and the
// sentinel error kinds owned by the packages underneath it, so that a
// caller driving a lowering end to end (as cmd/tlc does) needs only this
// one import.
package tensorlin

import (
	"github.com/agegold/tensorlin/kernel"
	"github.com/agegold/tensorlin/linearizer"
	"github.com/agegold/tensorlin/shapetracker"
	"github.com/agegold/tensorlin/symbolic"
	"github.com/agegold/tensorlin/uop"
)

// Version identifies this module's on-disk/IR compatibility revision,
// bumped whenever the uop.Arg union or ScheduleItem's field set changes
// in a way that would break a serialized schedule item.
const Version = "0.1.0"

// ScheduleItem is the linearizer package's input type, re-exported so
// that cmd/tlc does not need a separate import of the linearizer
// package just to build one.
type ScheduleItem = linearizer.ScheduleItem

// Lower runs the full phase pipeline and returns the resulting uop
// graph after dead-code elimination.
func Lower(item ScheduleItem) (*uop.Graph, error) {
	return linearizer.Lower(item)
}

// Sentinel error kinds, one per owning package (spec.md §7): wrap these
// with fmt.Errorf("%w: ...") at the call site, never return a bare
// instance.
var (
	ErrInvalidAlgebra    = symbolic.ErrInvalidAlgebra
	ErrShapeMismatch     = shapetracker.ErrShapeMismatch
	ErrUnsupportedTarget = kernel.ErrUnsupportedTarget
	ErrMalformedAST      = linearizer.ErrMalformedAST
)
