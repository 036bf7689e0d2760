package sqlmap

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placeholder selects the positional parameter style for a target database.
//
// Common choices:
//   - PlaceholderQuestion   → "?"           (MySQL, SQLite, DuckDB, ClickHouse)
//   - PlaceholderDollar     → "$1, $2, …"  (PostgreSQL)
//   - PlaceholderAtP        → "@p1, @p2…"  (SQL Server)
//   - PlaceholderColonNum   → ":1, :2, …"  (Oracle)
type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota
	PlaceholderDollar
	PlaceholderAtP
	PlaceholderColonNum
)

// ErrNilParams is returned when named binding is requested with a nil pointer
// or nil params value.
var ErrNilParams = errors.New("sqlmap: named bind: nil params")

// ErrUnsupportedArg is returned when the single named-binding argument is not a
// struct or map[string]any (e.g., passing an int or map[int]any).
var ErrUnsupportedArg = errors.New("sqlmap: named bind: params must be struct or map[string]any")

// ErrDuplicateKeyTag is returned when two struct fields (including embedded)
// resolve to the same logical parameter name (case-insensitive), e.g. via db:"name".
var ErrDuplicateKeyTag = errors.New("sqlmap: named bind: duplicate key from struct tags/fields")

// Rebind resolves :named parameters (if applicable) and rewrites placeholders.
// It is the one-shot form of the binding every Command goes through.
//
//   - Named style (exactly one struct or map[string]any):
//     sql, args, err := sqlmap.Rebind(
//     `SELECT * FROM users WHERE status=:status AND id IN (:ids)`,
//     sqlmap.PlaceholderDollar,
//     map[string]any{"status":"active", "ids":[]int{1,2,3}},
//     )
//     // sql  => SELECT * FROM users WHERE status=$1 AND id IN ($2,$3,$4)
//     // args => ["active", 1, 2, 3]
//
//     Notes: slices/arrays expand; []byte is scalar; empty slice/array becomes NULL
//     (so `IN (NULL)` matches no rows on most engines).
//
//   - Positional passthrough (any other params shape):
//     sql, args, _ := sqlmap.Rebind(`a=? AND b=?`, sqlmap.PlaceholderColonNum, "A", 10)
func Rebind(query string, ph Placeholder, params ...any) (string, []any, error) {
	b, err := compileBinder(query, Text, params)
	if err != nil {
		return "", nil, err
	}
	bound, args, err := b.bind(query, params)
	if err != nil {
		return "", nil, err
	}
	return rewritePlaceholders(bound, ph), args, nil
}

// PlaceholderFor picks a Placeholder based on a driver name string.
//
//	ph := sqlmap.PlaceholderFor("pgx")       // => PlaceholderDollar
//	ph := sqlmap.PlaceholderFor("sqlserver") // => PlaceholderAtP
//	ph := sqlmap.PlaceholderFor("mysql")     // => PlaceholderQuestion
func PlaceholderFor(driverName string) Placeholder {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql", "lib/pq", "pg":
		return PlaceholderDollar
	case "sqlserver", "mssql":
		return PlaceholderAtP
	case "godror", "oracle", "goracle":
		return PlaceholderColonNum
	default:
		return PlaceholderQuestion
	}
}

// paramBinder turns a command's parameters into driver arguments. It is
// compiled once per identity: query tokens and struct field paths are
// resolved here, values are read per call.
type paramBinder struct {
	named bool
	proc  bool
	toks  []nameToken
	// struct parameter shapes
	paths map[string][]int // lower-case name -> field path
	names []string         // declared names, field order
}

func compileBinder(query string, kind CommandKind, params []any) (*paramBinder, error) {
	b := &paramBinder{proc: kind == StoredProcedure}
	if len(params) != 1 || !looksBindable(params[0]) {
		return b, nil
	}
	b.named = true
	if t := derefPtr(reflect.TypeOf(params[0])); t.Kind() == reflect.Struct {
		b.paths = make(map[string][]int)
		if err := structParamPaths(t, nil, b.paths, &b.names); err != nil {
			return nil, err
		}
	}
	if !b.proc {
		toks, err := findNamedParams(query)
		if err != nil {
			return nil, err
		}
		b.toks = toks
	}
	return b, nil
}

// bind returns the query with :names replaced by '?' and the matching
// arguments. Procedures get their named values as sql.Named arguments.
func (b *paramBinder) bind(query string, params []any) (string, []any, error) {
	if !b.named {
		return query, params, nil
	}
	lut, err := b.lookup(params[0])
	if err != nil {
		return "", nil, err
	}
	if b.proc {
		args := make([]any, 0, len(lut.names))
		for _, n := range lut.names {
			v, _ := lut.lookup(n)
			args = append(args, sql.Named(n, v))
		}
		return query, args, nil
	}
	if len(b.toks) == 0 {
		return query, nil, nil
	}

	var sb strings.Builder
	sb.Grow(len(query))
	args := make([]any, 0, len(b.toks))
	last := 0

	for _, t := range b.toks {
		sb.WriteString(query[last:t.start])

		val, ok := lut.lookup(t.name)
		if !ok {
			return "", nil, fmt.Errorf("sqlmap: named bind: missing value for :%s", t.name)
		}

		rv := reflect.ValueOf(val)
		if isSliceOrArray(rv) {
			n := rv.Len()
			if n == 0 {
				sb.WriteString("NULL")
			} else {
				for i := 0; i < n; i++ {
					if i > 0 {
						sb.WriteByte(',')
					}
					sb.WriteByte('?')
					args = append(args, rv.Index(i).Interface())
				}
			}
		} else {
			sb.WriteByte('?')
			args = append(args, val)
		}
		last = t.end
	}
	sb.WriteString(query[last:])
	return sb.String(), args, nil
}

type nameToken struct {
	name  string
	start int
	end   int
}

func looksBindable(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Map {
		return rv.Type().Key().Kind() == reflect.String
	}
	return rv.Kind() == reflect.Struct && rv.Type() != timeType && !implementsValuer(rv.Type())
}

func findNamedParams(query string) ([]nameToken, error) {
	var out []nameToken
	i := 0
	for i < len(query) {
		r, w := utf8.DecodeRuneInString(query[i:])
		switch r {
		case '\'':
			j, err := skipSingleQuoted(query, i+w)
			if err != nil {
				return nil, err
			}
			i = j
			continue
		case '"':
			j, err := skipDoubleQuoted(query, i+w)
			if err != nil {
				return nil, err
			}
			i = j
			continue
		case '`':
			j, err := skipBacktickQuoted(query, i+w)
			if err != nil {
				return nil, err
			}
			i = j
			continue
		case '-':
			if hasPrefix(query[i:], "--") {
				i = skipLineComment(query, i+2)
				continue
			}
		case '/':
			if hasPrefix(query[i:], "/*") {
				j, err := skipBlockComment(query, i+2)
				if err != nil {
					return nil, err
				}
				i = j
				continue
			}
		case '$':
			if j, ok, err := skipDollarQuoted(query, i); err != nil {
				return nil, err
			} else if ok {
				i = j
				continue
			}
		case ':':
			if hasPrefix(query[i:], "::") {
				i += 2 // skip PG cast
				continue
			}
			start := i
			name, end := parseIdent(query, i+1)
			if name != "" {
				out = append(out, nameToken{name: name, start: start, end: end})
				i = end
				continue
			}
		}
		i += w
	}
	return out, nil
}

func rewritePlaceholders(query string, ph Placeholder) string {
	if ph == PlaceholderQuestion {
		return query
	}
	out := make([]byte, 0, len(query)+16)
	i, arg := 0, 1

	for i < len(query) {
		r, w := utf8.DecodeRuneInString(query[i:])
		switch r {
		case '\'':
			j, _ := skipSingleQuoted(query, i+w)
			out = append(out, query[i:j]...)
			i = j
			continue
		case '"':
			j, _ := skipDoubleQuoted(query, i+w)
			out = append(out, query[i:j]...)
			i = j
			continue
		case '`':
			j, _ := skipBacktickQuoted(query, i+w)
			out = append(out, query[i:j]...)
			i = j
			continue
		case '-':
			if hasPrefix(query[i:], "--") {
				j := skipLineComment(query, i+2)
				out = append(out, query[i:j]...)
				i = j
				continue
			}
		case '/':
			if hasPrefix(query[i:], "/*") {
				j, _ := skipBlockComment(query, i+2)
				out = append(out, query[i:j]...)
				i = j
				continue
			}
		case '$':
			if j, ok, _ := skipDollarQuoted(query, i); ok {
				out = append(out, query[i:j]...)
				i = j
				continue
			}
		case '?':
			switch ph {
			case PlaceholderDollar:
				out = append(out, '$')
				out = strconv.AppendInt(out, int64(arg), 10)
			case PlaceholderAtP:
				out = append(out, '@', 'p')
				out = strconv.AppendInt(out, int64(arg), 10)
			case PlaceholderColonNum:
				out = append(out, ':')
				out = strconv.AppendInt(out, int64(arg), 10)
			default:
				out = append(out, '?')
			}
			arg++
			i += w
			continue
		}
		out = append(out, query[i:i+w]...)
		i += w
	}
	return string(out)
}

func skipSingleQuoted(s string, i int) (int, error) {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		i += w
		if r == '\'' {
			if i < len(s) && s[i] == '\'' {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("sqlmap: unterminated single-quoted string")
}

func skipDoubleQuoted(s string, i int) (int, error) {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		i += w
		if r == '"' {
			if i < len(s) && s[i] == '"' {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("sqlmap: unterminated double-quoted identifier")
}

func skipBacktickQuoted(s string, i int) (int, error) {
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		i += w
		if r == '`' {
			if i < len(s) && s[i] == '`' {
				i++
				continue
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("sqlmap: unterminated backtick-quoted identifier")
}

func skipLineComment(s string, i int) int {
	for i < len(s) {
		if s[i] == '\n' {
			return i + 1
		}
		i++
	}
	return i
}

func skipBlockComment(s string, i int) (int, error) {
	for i < len(s)-1 {
		if s[i] == '*' && s[i+1] == '/' {
			return i + 2, nil
		}
		i++
	}
	return 0, fmt.Errorf("sqlmap: unterminated block comment")
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ (PostgreSQL).
func skipDollarQuoted(s string, i int) (int, bool, error) {
	if s[i] != '$' {
		return 0, false, nil
	}
	j := i + 1
	for j < len(s) && s[j] != '$' && isTagChar(rune(s[j])) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	k := j + 1
	for {
		idx := strings.Index(s[k:], tag)
		if idx < 0 {
			return 0, true, fmt.Errorf("sqlmap: unterminated dollar-quoted string")
		}
		k += idx + len(tag)
		return k, true, nil
	}
}

func isTagChar(r rune) bool      { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
func hasPrefix(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p }

func parseIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			break
		}
		i += w
	}
	if i == start {
		return "", i
	}
	return s[start:i], i
}

type paramLookup struct {
	m     map[string]any // lowercase name -> value
	names []string       // declared names, in binding order
}

func (l *paramLookup) lookup(name string) (any, bool) {
	v, ok := l.m[strings.ToLower(name)]
	return v, ok
}

func (b *paramBinder) lookup(params any) (*paramLookup, error) {
	rv := reflect.ValueOf(params)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrUnsupportedArg
		}
		l := &paramLookup{m: make(map[string]any, rv.Len())}
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			l.m[strings.ToLower(k)] = iter.Value().Interface()
			l.names = append(l.names, k)
		}
		sort.Strings(l.names)
		return l, nil
	case reflect.Struct:
		if b.paths == nil {
			return nil, ErrUnsupportedArg
		}
		l := &paramLookup{m: make(map[string]any, len(b.paths))}
		for _, n := range b.names {
			if v, ok := valueByPath(rv, b.paths[strings.ToLower(n)]); ok {
				l.m[strings.ToLower(n)] = v.Interface()
				l.names = append(l.names, n)
			}
		}
		return l, nil
	case reflect.Invalid:
		return nil, ErrNilParams
	default:
		return nil, ErrUnsupportedArg
	}
}

// structParamPaths indexes the bindable fields of t, flattening embedded
// structs. Names collide case-insensitively.
func structParamPaths(t reflect.Type, base []int, dst map[string][]int, names *[]string) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)

		if f.PkgPath != "" && !f.Anonymous {
			continue
		}
		path := append(append([]int(nil), base...), i)

		if f.Anonymous {
			if ft := derefPtr(f.Type); ft.Kind() == reflect.Struct {
				if err := structParamPaths(ft, path, dst, names); err != nil {
					return err
				}
				continue
			}
			if f.PkgPath != "" {
				continue
			}
		}

		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}
		name, _, _ := parseTag(tag)
		if name == "" {
			name = f.Name
		}
		key := strings.ToLower(name)
		if _, exists := dst[key]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateKeyTag, key)
		}
		dst[key] = path
		*names = append(*names, name)
	}
	return nil
}

// valueByPath reads the field at path; a nil embedded pointer on the way
// means the field is absent.
func valueByPath(v reflect.Value, path []int) (reflect.Value, bool) {
	for _, i := range path {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

func isSliceOrArray(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8 // []byte → scalar
	case reflect.Array:
		return !implementsValuer(v.Type())
	default:
		return false
	}
}

var valuerType = typeOf[driver.Valuer]()

// implementsValuer keeps driver.Valuer values (uuid.UUID, sql.NullString, …)
// scalar instead of treating them as structs or arrays to expand.
func implementsValuer(t reflect.Type) bool {
	return t.Implements(valuerType) || reflect.PointerTo(t).Implements(valuerType)
}
