package sqlmap

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var errorType = typeOf[error]()

type constructor struct {
	fn     reflect.Value
	params []string // lower-case column names, one per argument
	types  []reflect.Type
	hasErr bool
}

// RegisterConstructor registers fn as a way to build the struct type it
// returns. fn must be a func(...) T or func(...) *T, optionally with a
// trailing error result; params names the column feeding each argument.
//
// A constructor without parameters replaces the zero value and is followed
// by member assignment. Otherwise, the constructor whose parameter names
// match the most columns is used; unmatched arguments receive zero values.
// Register constructors before the type is first queried.
func (m *Mapper) RegisterConstructor(fn any, params ...string) error {
	if fn == nil {
		return errors.New("sqlmap: constructor is nil")
	}
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.IsVariadic() {
		return fmt.Errorf("sqlmap: constructor must be a non-variadic func, got %s", ft)
	}
	if ft.NumIn() != len(params) {
		return fmt.Errorf("sqlmap: constructor %s takes %d arguments but %d names were given", ft, ft.NumIn(), len(params))
	}
	c := &constructor{fn: fv, params: make([]string, len(params)), types: make([]reflect.Type, len(params))}
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errorType {
			return fmt.Errorf("sqlmap: constructor %s: second result must be error", ft)
		}
		c.hasErr = true
	default:
		return fmt.Errorf("sqlmap: constructor %s must return T or (T, error)", ft)
	}
	st := derefPtr(ft.Out(0))
	if st.Kind() != reflect.Struct {
		return fmt.Errorf("sqlmap: constructor %s must build a struct", ft)
	}
	for i, p := range params {
		c.params[i] = toLowerAscii(strings.TrimSpace(p))
		c.types[i] = ft.In(i)
	}

	m.ctorMu.Lock()
	defer m.ctorMu.Unlock()
	var defs []*constructor
	if v, ok := m.ctors.Load(st); ok {
		defs = v.([]*constructor)
	}
	m.ctors.Store(st, append(append([]*constructor(nil), defs...), c))
	return nil
}

// pickConstructor returns nil when st has no registered constructors.
func (m *Mapper) pickConstructor(st reflect.Type, cols []Column) (*constructor, error) {
	v, ok := m.ctors.Load(st)
	if !ok {
		return nil, nil
	}
	defs := v.([]*constructor)
	for _, c := range defs {
		if len(c.params) == 0 {
			return c, nil
		}
	}
	if len(cols) == 0 {
		return defs[0], nil
	}

	names := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		names[normalizeColAscii(c.Name)] = struct{}{}
	}
	var best *constructor
	bestScore := 0
	for _, c := range defs {
		score := 0
		for _, p := range c.params {
			if _, ok := names[p]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil {
		return nil, &TypeMismatchError{Target: st, Reason: "no registered constructor has parameters matching the columns"}
	}
	return best, nil
}

// build calls the constructor and stores its result into dst.
func (c *constructor) build(dst reflect.Value, args []reflect.Value) error {
	out := c.fn.Call(args)
	if c.hasErr && !out[1].IsNil() {
		return out[1].Interface().(error)
	}
	v := out[0]
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return errNilConstructed
		}
		v = v.Elem()
	}
	dst.Set(v)
	return nil
}
