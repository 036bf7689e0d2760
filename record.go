package sqlmap

import (
	"reflect"
	"strings"
)

// Record is a dynamically typed row. It keeps the column order of the
// result set, which map[string]any does not.
type Record struct {
	cols []string // shared by every record of one plan
	vals []any
}

var recordType = reflect.TypeOf(Record{})

func (r Record) Len() int { return len(r.vals) }

func (r Record) Columns() []string { return append([]string(nil), r.cols...) }

func (r Record) Values() []any { return r.vals }

// Get returns the value of the first column named name (case-insensitive).
func (r Record) Get(name string) (any, bool) {
	for i, c := range r.cols {
		if strings.EqualFold(c, name) {
			return r.vals[i], true
		}
	}
	return nil, false
}

// Map copies the record into a map; later duplicate names win.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.cols))
	for i, c := range r.cols {
		m[c] = r.vals[i]
	}
	return m
}

func columnNames(cols []Column, start, end int) []string {
	names := make([]string, 0, end-start)
	for _, c := range cols[start:end] {
		names = append(names, c.Name)
	}
	return names
}

func recordProjection(cols []Column, start, end int) projection {
	names := columnNames(cols, start, end)
	return func(row []any) (reflect.Value, error) {
		vals := append([]any(nil), row[start:end]...)
		return reflect.ValueOf(Record{cols: names, vals: vals}), nil
	}
}

func mapProjection(rt reflect.Type, cols []Column, start, end int) projection {
	names := columnNames(cols, start, end)
	return func(row []any) (reflect.Value, error) {
		m := make(map[string]any, len(names))
		for i, n := range names {
			m[n] = row[start+i]
		}
		return reflect.ValueOf(m).Convert(rt), nil
	}
}
