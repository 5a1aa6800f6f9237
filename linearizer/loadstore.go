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

package linearizer

import (
	"fmt"

	"github.com/agegold/tensorlin/dtype"
	"github.com/agegold/tensorlin/kernel"
	"github.com/agegold/tensorlin/symbolic"
	"github.com/agegold/tensorlin/uop"
)

// vectorWidth returns the first upcast axis of buffer i that is a
// candidate vector width (2 or 4 lanes, per spec.md §4.4.1 step 1 and
// §9's open question: widths beyond 2/4 are never attempted), or
// (-1, 0) if none qualifies.
func vectorWidth(ctx *kernel.Context, i int) (axis, width int) {
	for _, ax := range ctx.GetUpcastDim(i) {
		size := ctx.FullShape[ax]
		if size == 2 || size == 4 {
			return ax, size
		}
	}
	return -1, 0
}

func invalidConst(elem dtype.Type) uop.ConstArg {
	if elem.Kind.IsFloat() {
		return uop.FloatConst(0)
	}
	return uop.IntConst(0)
}

// globalLoad implements spec.md §4.4.1: it expands idxs over any
// upcast Vars they reference, groups the expansion into one aligned
// vector load when possible, and otherwise emits one scalar LOAD per
// concrete index. Results are deduplicated within this call by a
// composite key, per step 3 of the contract.
func (l *Linearizer) globalLoad(i int, idxs []*symbolic.Node, acc *uop.ConstArg) ([]uop.ID, error) {
	buf := l.ctx.Bufs[i]
	elem := buf.DType.Elem()
	st := l.ctx.STs[i]
	tuples := st.Expand(idxs)
	results := make([]uop.ID, len(tuples))
	cache := map[string]uop.ID{}

	if axis, width := vectorWidth(l.ctx, i); axis >= 0 && len(tuples) == width {
		idx0, valid0, err := st.ExprIdxs(tuples[0])
		if err != nil {
			return nil, err
		}
		if idx0.IsConst() && idx0.ConstValue()%int64(width) == 0 && valid0.IsConst() && valid0.ConstValue() == 1 {
			vecType := dtype.Vector(elem.Kind, uint8(width))
			renderedIdx, err := l.render(idx0)
			if err != nil {
				return nil, err
			}
			loadID, err := l.g.Emit(uop.LOAD, &vecType, []uop.ID{l.bufUops[i], renderedIdx}, uop.NoArg{}, true)
			if err != nil {
				return nil, err
			}
			for k := 0; k < width; k++ {
				gepID, err := l.g.Emit(uop.GEP, &elem, []uop.ID{loadID}, uop.GEPArg{Lane: uint8(k)}, true)
				if err != nil {
					return nil, err
				}
				results[k] = gepID
			}
			return results, nil
		}
	}

	for t, tuple := range tuples {
		idxN, validN, err := st.ExprIdxs(tuple)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%v|%s|%s|%v", acc, idxN.Key(), validN.Key(), buf.Kind)
		if cached, ok := cache[key]; ok {
			results[t] = cached
			continue
		}

		var resultID uop.ID
		switch {
		case validN.IsConst() && validN.ConstValue() == 0:
			resultID, err = l.g.Emit(uop.CONST, &elem, nil, invalidConst(elem), true)
		case acc != nil:
			resultID, err = l.g.Emit(uop.DEFINE_ACC, &elem, nil, *acc, false)
		case buf.Kind == kernel.Constant:
			var constID uop.ID
			constID, err = l.g.Emit(uop.CONST, &elem, nil, uop.FloatConst(buf.ConstValue), true)
			if err == nil && !validN.IsConst() {
				var renderedValid, invalidID uop.ID
				renderedValid, err = l.render(validN)
				if err == nil {
					invalidID, err = l.g.Emit(uop.CONST, &elem, nil, invalidConst(elem), true)
				}
				if err == nil {
					resultID, err = l.g.Emit(uop.ALU, &elem, []uop.ID{renderedValid, constID, invalidID}, uop.ALUArg{Op: uop.WHERE}, true)
				}
			} else {
				resultID = constID
			}
		default:
			var renderedIdx uop.ID
			renderedIdx, err = l.render(idxN)
			operands := []uop.ID{l.bufUops[i], renderedIdx}
			if err == nil && !validN.IsConst() {
				var renderedValid, invalidID uop.ID
				renderedValid, err = l.render(validN)
				if err == nil {
					invalidID, err = l.g.Emit(uop.CONST, &elem, nil, invalidConst(elem), true)
				}
				operands = append(operands, renderedValid, invalidID)
			}
			if err == nil {
				resultID, err = l.g.Emit(uop.LOAD, &elem, operands, uop.NoArg{}, true)
			}
		}
		if err != nil {
			return nil, err
		}
		cache[key] = resultID
		results[t] = resultID
	}
	return results, nil
}

// globalStore implements spec.md §4.4.2: group the expanded index
// tuples into a single aligned vector store when possible, otherwise
// emit one scalar STORE per index, skipping only those whose validity
// folds to the constant 0.
func (l *Linearizer) globalStore(i int, idxs []*symbolic.Node, values []uop.ID) error {
	buf := l.ctx.Bufs[i]
	elem := buf.DType.Elem()
	st := l.ctx.STs[i]
	tuples := st.Expand(idxs)

	if axis, width := vectorWidth(l.ctx, i); axis >= 0 && len(tuples) == width && len(values) == width {
		idx0, valid0, err := st.ExprIdxs(tuples[0])
		if err != nil {
			return err
		}
		if idx0.IsConst() && idx0.ConstValue()%int64(width) == 0 && valid0.IsConst() && valid0.ConstValue() == 1 {
			vecType := dtype.Vector(elem.Kind, uint8(width))
			castID, err := l.g.Emit(uop.CAST, &vecType, values, uop.NoArg{}, true)
			if err != nil {
				return err
			}
			renderedIdx, err := l.render(idx0)
			if err != nil {
				return err
			}
			_, err = l.g.Emit(uop.STORE, nil, []uop.ID{l.bufUops[i], renderedIdx, castID}, uop.NoArg{}, false)
			return err
		}
	}

	for t, tuple := range tuples {
		idxN, validN, err := st.ExprIdxs(tuple)
		if err != nil {
			return err
		}
		if validN.IsConst() && validN.ConstValue() == 0 {
			continue
		}
		renderedIdx, err := l.render(idxN)
		if err != nil {
			return err
		}
		if _, err := l.g.Emit(uop.STORE, nil, []uop.ID{l.bufUops[i], renderedIdx, values[t]}, uop.NoArg{}, false); err != nil {
			return err
		}
	}
	return nil
}
