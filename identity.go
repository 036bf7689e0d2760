package sqlmap

import (
	"fmt"
	"reflect"
)

// CommandKind tells the connection how to interpret the command text.
type CommandKind uint8

const (
	Text CommandKind = iota
	StoredProcedure
)

func (k CommandKind) String() string {
	switch k {
	case Text:
		return "text"
	case StoredProcedure:
		return "procedure"
	default:
		return fmt.Sprintf("CommandKind(%d)", uint8(k))
	}
}

// maxArity bounds multi-mapping (QueryMap2 … QueryMap7).
const maxArity = 7

const noGrid = -1

// Identity is the plan-cache key. It is comparable and used directly as a
// map key; two identities are equal iff every field is equal.
type Identity struct {
	query    string
	kind     CommandKind
	conn     string
	typ      reflect.Type
	param    reflect.Type
	subTypes [maxArity]reflect.Type
	arity    int
	grid     int
}

func newIdentity(query string, kind CommandKind, conn string, typ, param reflect.Type, subTypes ...reflect.Type) Identity {
	if len(subTypes) > maxArity {
		panic(fmt.Sprintf("sqlmap: multi-mapping supports at most %d types, got %d", maxArity, len(subTypes)))
	}
	id := Identity{query: query, kind: kind, conn: conn, typ: typ, param: param, arity: len(subTypes), grid: noGrid}
	copy(id.subTypes[:], subTypes)
	return id
}

// ForGrid returns the identity of result set index read as t.
func (id Identity) ForGrid(t reflect.Type, index int) Identity {
	id.typ = t
	id.grid = index
	return id
}

func (id Identity) Query() string      { return id.query }
func (id Identity) Type() reflect.Type { return id.typ }
func (id Identity) GridIndex() int     { return id.grid }

func (id Identity) SubTypes() []reflect.Type {
	return append([]reflect.Type(nil), id.subTypes[:id.arity]...)
}

func (id Identity) String() string {
	s := fmt.Sprintf("%s %s [%s]", id.kind, id.typ, id.conn)
	if id.grid != noGrid {
		s += fmt.Sprintf(" grid=%d", id.grid)
	}
	return s
}
