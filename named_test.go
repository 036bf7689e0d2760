package sqlmap

import (
	"database/sql"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lookupFor compiles a binder for v and resolves its values.
func lookupFor(v any) (*paramLookup, error) {
	b, err := compileBinder("", Text, []any{v})
	if err != nil {
		return nil, err
	}
	return b.lookup(v)
}

type tenantScope struct {
	Tenant int `db:"tenant"`
}

type userFilter struct {
	tenantScope
	Status string    `db:"status"`
	IDs    []int64   `db:"ids"`
	Since  time.Time `db:"since"`
	Note   string    `db:"-"`
}

func TestRebind(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	blob := []byte("hi")

	tests := []struct {
		name    string
		query   string
		ph      Placeholder
		params  []any
		want    string
		wantArg []any
	}{
		{
			name: "struct with embedded field and slice, names in comments untouched",
			query: "SELECT id FROM users WHERE tenant=:tenant AND status=:status\n" +
				"  AND id IN (:ids) AND created_at >= :since\n" +
				"-- :in_comment\n/* :in_block */\n$tag$ :in_dollar $tag$",
			ph:     PlaceholderDollar,
			params: []any{userFilter{tenantScope: tenantScope{Tenant: 42}, Status: "active", IDs: []int64{7, 8, 9}, Since: since, Note: "x"}},
			want: "SELECT id FROM users WHERE tenant=$1 AND status=$2\n" +
				"  AND id IN ($3,$4,$5) AND created_at >= $6\n" +
				"-- :in_comment\n/* :in_block */\n$tag$ :in_dollar $tag$",
			wantArg: []any{42, "active", int64(7), int64(8), int64(9), since},
		},
		{
			name:    "empty slice becomes NULL",
			query:   `SELECT 1 WHERE status=:status AND id IN (:ids)`,
			ph:      PlaceholderAtP,
			params:  []any{map[string]any{"status": "x", "ids": []int{}}},
			want:    `SELECT 1 WHERE status=@p1 AND id IN (NULL)`,
			wantArg: []any{"x"},
		},
		{
			name:    "bytes stay scalar, arrays expand",
			query:   `SELECT 1 WHERE b=:b AND n IN (:nums)`,
			ph:      PlaceholderDollar,
			params:  []any{map[string]any{"b": blob, "nums": [2]int{5, 6}}},
			want:    `SELECT 1 WHERE b=$1 AND n IN ($2,$3)`,
			wantArg: []any{blob, 5, 6},
		},
		{
			name:  "repeated names are numbered per occurrence",
			query: `WHERE a=:x OR b=:x OR c IN (:arr) OR d=:x`,
			ph:    PlaceholderDollar,
			params: []any{struct {
				X   int   `db:"x"`
				Arr []int `db:"arr"`
			}{X: 9, Arr: []int{1}}},
			want:    `WHERE a=$1 OR b=$2 OR c IN ($3) OR d=$4`,
			wantArg: []any{9, 9, 1, 9},
		},
		{
			name:    "sql server slice expansion",
			query:   `UPDATE t SET v=:p WHERE id IN (:ids)`,
			ph:      PlaceholderAtP,
			params:  []any{map[string]any{"p": 5, "ids": []int{10, 11}}},
			want:    `UPDATE t SET v=@p1 WHERE id IN (@p2,@p3)`,
			wantArg: []any{5, 10, 11},
		},
		{
			name:    "oracle numbering with repeat",
			query:   `UPDATE t SET a=:v WHERE id IN (:ids) AND flag=:v`,
			ph:      PlaceholderColonNum,
			params:  []any{map[string]any{"v": 1, "ids": []int{7, 8}}},
			want:    `UPDATE t SET a=:1 WHERE id IN (:2,:3) AND flag=:4`,
			wantArg: []any{1, 7, 8, 1},
		},
		{
			name:    "positional params pass through",
			query:   `SELECT * FROM t WHERE a=? AND b IN (?,?) -- ? in comment`,
			ph:      PlaceholderColonNum,
			params:  []any{"aa", 2, 3},
			want:    `SELECT * FROM t WHERE a=:1 AND b IN (:2,:3) -- ? in comment`,
			wantArg: []any{"aa", 2, 3},
		},
		{
			name:  "question style without params is unchanged",
			query: "SELECT ? AS x, '--' AS y",
			ph:    PlaceholderQuestion,
			want:  "SELECT ? AS x, '--' AS y",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, args, err := Rebind(tc.query, tc.ph, tc.params...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
			if len(tc.wantArg) == 0 {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tc.wantArg, args)
			}
		})
	}
}

func TestRewritePlaceholders(t *testing.T) {
	twelve := "?" + strings.Repeat(",?", 11)
	var atP []string
	for i := 1; i <= 12; i++ {
		atP = append(atP, "@p"+strconv.Itoa(i))
	}

	tests := []struct {
		name string
		in   string
		ph   Placeholder
		want string
	}{
		{"strings, comments and dollar quotes", "SELECT '?', $$ ? $$, $z$ ? $z$, -- ? line\n/* ? block */ ? AS bind", PlaceholderDollar,
			"SELECT '?', $$ ? $$, $z$ ? $z$, -- ? line\n/* ? block */ $1 AS bind"},
		{"double quoted identifier", `SELECT "a ? "" b", ?`, PlaceholderDollar, `SELECT "a ? "" b", $1`},
		{"backtick identifier", "SELECT `c ? `` d`, ?", PlaceholderDollar, "SELECT `c ? `` d`, $1"},
		{"dollar dollar block", "SELECT $$ ? $$, ?;", PlaceholderDollar, "SELECT $$ ? $$, $1;"},
		{"postgres casts", `SELECT :1::int, :abc, x::text, ?`, PlaceholderDollar, `SELECT :1::int, :abc, x::text, $1`},
		{"two digit sql server numbers", twelve, PlaceholderAtP, strings.Join(atP, ",")},
		{"question is a no-op", "a=? AND b=?", PlaceholderQuestion, "a=? AND b=?"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rewritePlaceholders(tc.in, tc.ph))
		})
	}
}

func TestFindNamedParams_SkipsQuotesCommentsAndCasts(t *testing.T) {
	in := "-- :skip\n/* :also_skip */\nSELECT ':no', \":no\", `:no`,\n$tag$ :no $tag$,\n:ok1, :ok_2, ::int, :x9, :_lead, :n1\n"
	toks, err := findNamedParams(in)
	require.NoError(t, err)

	var names []string
	for _, tk := range toks {
		names = append(names, tk.name)
		assert.Equal(t, ":"+tk.name, in[tk.start:tk.end], "offsets of %q", tk.name)
	}
	assert.Equal(t, []string{"ok1", "ok_2", "x9", "_lead", "n1"}, names)
}

func TestFindNamedParams_Unterminated(t *testing.T) {
	for _, in := range []string{"'abc", `"abc`, "`abc", "/* abc", "$tag$ abc"} {
		_, err := findNamedParams(in)
		assert.Error(t, err, in)
	}
}

func TestSkipQuoted(t *testing.T) {
	tests := []struct {
		name    string
		skip    func(string, int) (int, error)
		in      string
		wantErr bool
	}{
		{"single with escapes", skipSingleQuoted, "'a''b''c'", false},
		{"double with escapes", skipDoubleQuoted, `"a""b""c"`, false},
		{"backtick with escapes", skipBacktickQuoted, "`a``b``c`", false},
		{"single unterminated", skipSingleQuoted, "'abc", true},
		{"double unterminated", skipDoubleQuoted, `"abc`, true},
		{"backtick unterminated", skipBacktickQuoted, "`abc", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			end, err := tc.skip(tc.in, 1)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tc.in), end)
		})
	}

	_, err := skipBlockComment("/* x", 2)
	assert.Error(t, err, "unterminated block comment")
}

func TestSkipDollarQuoted(t *testing.T) {
	end, ok, err := skipDollarQuoted("notDollar", 0)
	assert.Zero(t, end)
	assert.False(t, ok)
	assert.NoError(t, err)

	_, ok, err = skipDollarQuoted("$tag$ no end", 0)
	assert.True(t, ok)
	assert.Error(t, err)

	end, ok, err = skipDollarQuoted("$q$ body $q$ tail", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, len("$q$ body $q$"), end)
}

func TestParamBinderLookup_StructAndMap(t *testing.T) {
	type Inner struct {
		A int `db:"a"`
	}
	type outer struct {
		Inner
		B string `db:"b"`
		C string `db:"-"`
	}
	l, err := lookupFor(outer{Inner: Inner{A: 10}, B: "bee", C: "skip"})
	require.NoError(t, err)

	v, ok := l.lookup("A")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	v, ok = l.lookup("b")
	require.True(t, ok)
	assert.Equal(t, "bee", v)
	_, ok = l.lookup("c")
	assert.False(t, ok, `db:"-" is not bindable`)
	assert.Equal(t, []string{"a", "b"}, l.names)

	l, err = lookupFor(map[string]any{"X": 1})
	require.NoError(t, err)
	v, ok = l.lookup("x")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestParamBinderLookup_Errors(t *testing.T) {
	var nilPtr *struct{ A int }
	_, err := (&paramBinder{named: true}).lookup(nilPtr)
	assert.ErrorIs(t, err, ErrNilParams)

	_, err = lookupFor(map[int]any{1: 2})
	assert.ErrorIs(t, err, ErrUnsupportedArg)

	_, err = lookupFor(123)
	assert.ErrorIs(t, err, ErrUnsupportedArg)
}

func TestStructParamPaths(t *testing.T) {
	type Embedded struct {
		Z int `db:"z"`
	}
	type withHidden struct {
		*Embedded
		x int `db:"x"`
		Y int `db:"y"`
	}

	paths := map[string][]int{}
	var names []string
	require.NoError(t, structParamPaths(reflect.TypeOf(withHidden{}), nil, paths, &names))
	assert.Equal(t, map[string][]int{"z": {0, 0}, "y": {2}}, paths, "unexported fields are skipped")
	assert.Equal(t, []string{"z", "y"}, names)

	l, err := lookupFor(withHidden{Embedded: &Embedded{Z: 7}, Y: 42})
	require.NoError(t, err)
	v, ok := l.lookup("z")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	l, err = lookupFor(withHidden{Y: 99})
	require.NoError(t, err)
	_, ok = l.lookup("z")
	assert.False(t, ok, "nil embedded pointer leaves its fields absent")
	v, _ = l.lookup("y")
	assert.Equal(t, 99, v)

	type clash struct {
		A int `db:"name"`
		B int `db:"NAME"`
	}
	err = structParamPaths(reflect.TypeOf(clash{}), nil, map[string][]int{}, new([]string))
	assert.ErrorIs(t, err, ErrDuplicateKeyTag)
}

func TestLooksBindable(t *testing.T) {
	type S struct{ X int }
	var nilPtr *S
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"struct", S{}, true},
		{"map[string]any", map[string]any{"a": 1}, true},
		{"nil pointer", nilPtr, false},
		{"map[int]any", map[int]any{1: 2}, false},
		{"time.Time", time.Now(), false},
		{"driver.Valuer struct", sql.NullString{}, false},
		{"scalar", 7, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, looksBindable(tc.v), tc.name)
	}
}

func TestParamBinder_CompiledOnceReusedForNewValues(t *testing.T) {
	type P struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
	}
	q := `SELECT * FROM t WHERE id=:id AND name=:name`
	b, err := compileBinder(q, Text, []any{P{}})
	require.NoError(t, err)
	for i, name := range []string{"a", "b"} {
		out, args, err := b.bind(q, []any{P{ID: i, Name: name}})
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM t WHERE id=? AND name=?`, out)
		assert.Equal(t, []any{i, name}, args)
	}
}

func TestParamBinder_ProcedureNamedArgs(t *testing.T) {
	params := map[string]any{"b": 2, "a": 1}
	b, err := compileBinder("proc", StoredProcedure, []any{params})
	require.NoError(t, err)
	_, args, err := b.bind("proc", []any{params})
	require.NoError(t, err)
	assert.Equal(t, []any{sql.Named("a", 1), sql.Named("b", 2)}, args, "sorted by name")
}

func TestParamBinder_MissingValue(t *testing.T) {
	_, _, err := Rebind(`SELECT :a, :b`, PlaceholderQuestion, map[string]any{"a": 1})
	assert.ErrorContains(t, err, ":b")
}

func TestPlaceholderFor(t *testing.T) {
	for name, want := range map[string]Placeholder{
		"pgx":       PlaceholderDollar,
		"lib/pq":    PlaceholderDollar,
		"postgres":  PlaceholderDollar,
		"sqlserver": PlaceholderAtP,
		"godror":    PlaceholderColonNum,
		"mysql":     PlaceholderQuestion,
		"sqlite3":   PlaceholderQuestion,
	} {
		assert.Equal(t, want, PlaceholderFor(name), name)
	}
}

func TestIsSliceOrArray(t *testing.T) {
	assert.True(t, isSliceOrArray(reflect.ValueOf([]int{1})))
	assert.False(t, isSliceOrArray(reflect.ValueOf([]byte{1})), "[]byte is a scalar")
	assert.True(t, isSliceOrArray(reflect.ValueOf([2]int{1, 2})))
	assert.False(t, isSliceOrArray(reflect.Value{}))
}
