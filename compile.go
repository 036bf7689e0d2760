package sqlmap

import (
	"errors"
	"reflect"
)

// projection materializes one scanned row into a value. It receives the
// whole row and reads only the columns it was compiled for.
type projection func(row []any) (reflect.Value, error)

var (
	mapAnyType = reflect.TypeOf(map[string]any(nil))
	anyType    = typeOf[any]()
	stringType = reflect.TypeOf("")
)

// compile builds the projection for rt over cols[start:start+count]; a
// negative count runs to the last column. sub marks a multi-mapped value
// after the first, which materializes as its zero (or nil) form when its
// columns are empty or all NULL.
//
// Impossible coercions fail here with a *TypeMismatchError, before any row
// is read.
func (m *Mapper) compile(rt reflect.Type, cols []Column, start, count int, sub bool) (projection, error) {
	if count < 0 {
		count = len(cols) - start
	}
	end := start + count

	var (
		p   projection
		err error
	)
	switch {
	case rt == recordType:
		p = recordProjection(cols, start, end)
	case rt.Kind() == reflect.Map && rt.Key() == stringType && rt.Elem() == anyType:
		p = mapProjection(rt, cols, start, end)
	case isScalar(rt):
		p, err = m.compileScalar(rt, cols, start, end, sub)
	case rt.Kind() == reflect.Struct:
		p, err = m.compileStruct(rt, cols, start, end)
	case rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Struct:
		var inner projection
		inner, err = m.compileStruct(rt.Elem(), cols, start, end)
		if err == nil {
			p = func(row []any) (reflect.Value, error) {
				v, err := inner(row)
				if err != nil {
					return reflect.Value{}, err
				}
				ptr := reflect.New(rt.Elem())
				ptr.Elem().Set(v)
				return ptr, nil
			}
		}
	default:
		err = &TypeMismatchError{Target: rt, Reason: "unsupported target type"}
	}
	if err != nil || !sub {
		return p, err
	}

	nilSub := m.NilSubObjects
	return func(row []any) (reflect.Value, error) {
		if !allNull(row[start:end]) {
			return p(row)
		}
		switch {
		case nilSub:
		case rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Struct:
			return reflect.New(rt.Elem()), nil
		case rt.Kind() == reflect.Map:
			return reflect.MakeMap(rt), nil
		}
		return reflect.Zero(rt), nil
	}, nil
}

func allNull(vals []any) bool {
	for _, v := range vals {
		if v != nil {
			return false
		}
	}
	return true
}

func (m *Mapper) compileScalar(rt reflect.Type, cols []Column, start, end int, sub bool) (projection, error) {
	if start >= end {
		if sub {
			return func([]any) (reflect.Value, error) { return reflect.Zero(rt), nil }, nil
		}
		return nil, &TypeMismatchError{Target: rt, Reason: "query returned zero columns"}
	}
	col := cols[start]
	conv, err := converterFor(storeType(col.ScanType), rt)
	if err != nil {
		return nil, &TypeMismatchError{Target: rt, Column: col.Name, Source: col.ScanType, Reason: err.Error()}
	}
	return func(row []any) (reflect.Value, error) {
		v := reflect.New(rt).Elem()
		if err := conv(v, row[start]); err != nil {
			return reflect.Value{}, &MaterializationError{Column: col.Name, Target: rt, Err: err}
		}
		return v, nil
	}, nil
}

type fieldStep struct {
	col  int
	name string
	path []int
	conv converter
}

func (m *Mapper) compileStruct(st reflect.Type, cols []Column, start, end int) (projection, error) {
	ctor, err := m.pickConstructor(st, cols[start:end])
	if err != nil {
		return nil, err
	}
	if ctor != nil && len(ctor.params) > 0 {
		return m.compileConstructor(st, ctor, cols, start, end)
	}

	idx := m.structIndex(st)
	steps := make([]fieldStep, 0, end-start)
	for i := start; i < end; i++ {
		c := cols[i]
		fp, ok := idx.byName[normalizeColAscii(c.Name)]
		if !ok {
			continue // extra columns are ignored
		}
		conv, err := converterFor(storeType(c.ScanType), fieldTypeByPath(st, fp))
		if err != nil {
			return nil, &TypeMismatchError{Target: st, Column: c.Name, Source: c.ScanType, Reason: err.Error()}
		}
		steps = append(steps, fieldStep{col: i, name: c.Name, path: fp, conv: conv})
	}

	strict := m.Strict
	return func(row []any) (reflect.Value, error) {
		v := reflect.New(st).Elem()
		if ctor != nil {
			if err := ctor.build(v, nil); err != nil {
				return reflect.Value{}, &MaterializationError{Target: st, Err: err}
			}
		}
		for _, s := range steps {
			src := row[s.col]
			if src == nil && !strict {
				continue
			}
			if err := s.conv(fieldByPathAlloc(v, s.path), src); err != nil {
				return reflect.Value{}, &MaterializationError{Column: s.name, Target: st, Err: err}
			}
		}
		return v, nil
	}, nil
}

type argStep struct {
	col  int // -1: no matching column, zero value
	name string
	conv converter
}

func (m *Mapper) compileConstructor(st reflect.Type, ctor *constructor, cols []Column, start, end int) (projection, error) {
	steps := make([]argStep, len(ctor.params))
	for i, pname := range ctor.params {
		steps[i] = argStep{col: -1}
		for j := start; j < end; j++ {
			if normalizeColAscii(cols[j].Name) != pname {
				continue
			}
			conv, err := converterFor(storeType(cols[j].ScanType), ctor.types[i])
			if err != nil {
				return nil, &TypeMismatchError{Target: st, Column: cols[j].Name, Source: cols[j].ScanType, Reason: err.Error()}
			}
			steps[i] = argStep{col: j, name: cols[j].Name, conv: conv}
			break
		}
	}

	strict := m.Strict
	return func(row []any) (reflect.Value, error) {
		args := make([]reflect.Value, len(steps))
		for i, s := range steps {
			a := reflect.New(ctor.types[i]).Elem()
			if s.col >= 0 {
				if src := row[s.col]; src != nil || strict {
					if err := s.conv(a, src); err != nil {
						return reflect.Value{}, &MaterializationError{Column: s.name, Target: st, Err: err}
					}
				}
			}
			args[i] = a
		}
		v := reflect.New(st).Elem()
		if err := ctor.build(v, args); err != nil {
			return reflect.Value{}, &MaterializationError{Target: st, Err: err}
		}
		return v, nil
	}, nil
}

var errNilConstructed = errors.New("constructor returned nil")
