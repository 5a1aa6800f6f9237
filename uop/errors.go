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

import "errors"

// ErrMalformedAST is returned (wrapped) when Emit is asked to build a
// uop whose operand count or operand kinds violate the shape its Kind
// requires (e.g. a STORE with the wrong arity, a CAST with no source).
var ErrMalformedAST = errors.New("uop: malformed AST")
