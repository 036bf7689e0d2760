package sqlmap

import (
	"reflect"
	"sync"
)

// Mapper owns the plan cache, the per-type struct indexes and registered
// constructors. Use the package-level lazy getter (getMapper) or create your
// own with NewMapper and pass it with WithMapper.
type Mapper struct {
	cache            PlanCache
	structIndexCache sync.Map // key: reflect.Type -> *fieldIndex (per T)
	ctors            sync.Map // key: reflect.Type -> []*constructor
	ctorMu           sync.Mutex

	// Strict turns NULL into a non-nullable member or constructor argument
	// into a MaterializationError instead of leaving the zero value.
	// Plans capture it when compiled, so set it before first use.
	Strict bool

	// NilSubObjects lets a multi-mapped pointer or map sub-type be nil when
	// its column range is empty or all NULL. By default an empty instance
	// is allocated, so "no child" and "no columns mapped" look the same.
	NilSubObjects bool
}

func NewMapper() *Mapper { return &Mapper{} }

// Cache exposes the plan cache, mostly for stats and trimming.
func (m *Mapper) Cache() *PlanCache { return &m.cache }

// --- package-level lazy global mapper (used when no WithMapper is given) ---

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

// DefaultMapper returns the process-wide mapper used by sessions that were
// not given one.
func DefaultMapper() *Mapper { return getMapper() }

type fieldIndex struct {
	byName map[string][]int // lower-case column name -> index path
}

func (m *Mapper) structIndex(rt reflect.Type) *fieldIndex {
	if v, ok := m.structIndexCache.Load(rt); ok {
		return v.(*fieldIndex)
	}
	fi := buildStructIndex(rt)
	m.structIndexCache.Store(rt, &fi)
	return &fi
}

// ---------------- Struct indexing & tags ----------------

func buildStructIndex(rt reflect.Type) fieldIndex {
	idx := fieldIndex{byName: make(map[string][]int)}
	seen := make(map[string]struct{})

	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		n := t.NumField()
		for i := 0; i < n; i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous { // unexported, non-anonymous
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, omit := parseTag(tag)
			if omit {
				continue
			}
			ft := sf.Type
			path := append(append([]int(nil), base...), i)

			if inline || (sf.Anonymous && (forceInline || tag == "")) {
				if isStruct(ft) && !implementsScanner(derefPtr(ft)) && derefPtr(ft) != timeType {
					walk(ft, path, inline)
					continue
				}
			}
			if sf.PkgPath != "" { // unexported embedded non-struct
				continue
			}
			if name == "" {
				name = sf.Name
			}
			lc := toLowerAscii(name)
			if _, ok := seen[lc]; !ok {
				idx.byName[lc] = path
				seen[lc] = struct{}{}
			}
		}
	}
	walk(rt, nil, false)
	return idx
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return "", false, false
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			part := tag[start:i]
			if part == "inline" {
				inline = true
			} else if part != "" && name == "" {
				name = part
			}
			start = i + 1
		}
	}
	return name, inline, false
}

// ---------------- Type helpers ----------------

func isStruct(t reflect.Type) bool { return derefPtr(t).Kind() == reflect.Struct }

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func typeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// as unwraps a materialized value; invalid or nil values become the zero T.
func as[T any](v reflect.Value) T {
	var zero T
	if !v.IsValid() {
		return zero
	}
	out, _ := v.Interface().(T)
	return out
}

func fieldTypeByPath(root reflect.Type, fpath []int) reflect.Type {
	t := root
	for _, i := range fpath {
		t = derefPtr(t)
		t = t.Field(i).Type
	}
	return t
}

// fieldByPathAlloc walks fpath, allocating nil embedded pointers on the way
// so the final field is addressable. The final field itself is untouched.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}
