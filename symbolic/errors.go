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

import "errors"

// ErrInvalidAlgebra is returned (wrapped) when a constructor is asked to
// build a node that would violate the algebra's invariants: a
// non-positive divisor/modulus, or a Var whose lo bound exceeds its hi
// bound.
var ErrInvalidAlgebra = errors.New("symbolic: invalid algebra")
