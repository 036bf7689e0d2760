package sqlmap

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// converter assigns one driver value to dst. dst is always addressable.
type converter func(dst reflect.Value, src any) error

var (
	scannerType  = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType     = reflect.TypeOf(time.Time{})
	bytesType    = reflect.TypeOf([]byte(nil))
	rawBytesType = reflect.TypeOf(sql.RawBytes(nil))
)

// valueClass groups Go types by the coercions available between them.
type valueClass uint8

const (
	classUnknown valueClass = iota
	classBool
	classInt
	classUint
	classFloat
	classString
	classBytes
	classTime
)

// compatible[dst] lists the source classes that can be coerced into dst.
// classUnknown sources are always accepted and checked per value.
var compatible = map[valueClass][]valueClass{
	classBool:   {classBool, classInt, classUint, classString, classBytes},
	classInt:    {classInt, classUint, classFloat, classString, classBytes},
	classUint:   {classInt, classUint, classFloat, classString, classBytes},
	classFloat:  {classInt, classUint, classFloat, classString, classBytes},
	classString: {classBool, classInt, classUint, classFloat, classString, classBytes, classTime},
	classBytes:  {classBool, classInt, classUint, classFloat, classString, classBytes},
	classTime:   {classString, classBytes, classTime},
}

var setters = map[valueClass]converter{
	classBool:   setBool,
	classInt:    setInt,
	classUint:   setUint,
	classFloat:  setFloat,
	classString: setString,
	classBytes:  setBytes,
	classTime:   setTime,
}

func classOf(t reflect.Type) valueClass {
	if t == nil {
		return classUnknown
	}
	if t == timeType {
		return classTime
	}
	switch t.Kind() {
	case reflect.Bool:
		return classBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return classInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return classUint
	case reflect.Float32, reflect.Float64:
		return classFloat
	case reflect.String:
		return classString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return classBytes
		}
	}
	return classUnknown
}

// storeType reduces a driver-reported scan type to the type of the values
// the driver produces, or nil when that cannot be known before reading.
// sql.NullX, sql.Null[T], sql.RawBytes and pointers are unwrapped.
func storeType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil
	}
	if t == rawBytesType {
		return bytesType
	}
	switch t.Kind() {
	case reflect.Interface:
		return nil
	case reflect.Struct:
		if t == timeType {
			return t
		}
		if t.NumField() == 2 && t.Field(1).Name == "Valid" && t.Field(1).Type.Kind() == reflect.Bool {
			return storeType(t.Field(0).Type)
		}
		return nil
	}
	return t
}

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

// isScalar reports whether t is materialized from a single column.
func isScalar(t reflect.Type) bool {
	if implementsScanner(t) {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer:
		return isScalar(t.Elem())
	case reflect.Interface:
		return t.NumMethod() == 0
	}
	return classOf(t) != classUnknown
}

// converterFor picks, at compile time, how values of the store type src are
// assigned into dst. It fails when no coercion exists.
func converterFor(src, dst reflect.Type) (converter, error) {
	if implementsScanner(dst) {
		return func(d reflect.Value, v any) error {
			return d.Addr().Interface().(sql.Scanner).Scan(v)
		}, nil
	}
	switch dst.Kind() {
	case reflect.Pointer:
		elem, err := converterFor(src, dst.Elem())
		if err != nil {
			return nil, err
		}
		et := dst.Elem()
		return func(d reflect.Value, v any) error {
			if v == nil {
				d.SetZero()
				return nil
			}
			p := reflect.New(et)
			if err := elem(p.Elem(), v); err != nil {
				return err
			}
			d.Set(p)
			return nil
		}, nil
	case reflect.Interface:
		if dst.NumMethod() != 0 {
			return nil, errors.New("only empty interfaces can hold column values")
		}
		return func(d reflect.Value, v any) error {
			if v == nil {
				d.SetZero()
				return nil
			}
			d.Set(reflect.ValueOf(v))
			return nil
		}, nil
	}

	dc := classOf(dst)
	if dc == classUnknown {
		return nil, fmt.Errorf("unsupported target kind %s", dst.Kind())
	}
	if sc := classOf(src); sc != classUnknown && !accepts(dc, sc) {
		return nil, fmt.Errorf("no coercion from %s", src)
	}
	set := setters[dc]
	if dc == classBytes {
		return func(d reflect.Value, v any) error {
			if v == nil {
				d.SetZero()
				return nil
			}
			return set(d, v)
		}, nil
	}
	return func(d reflect.Value, v any) error {
		if v == nil {
			return errNull
		}
		return set(d, v)
	}, nil
}

func accepts(dst, src valueClass) bool {
	for _, c := range compatible[dst] {
		if c == src {
			return true
		}
	}
	return false
}

func errConvert(v any, t reflect.Type) error {
	return fmt.Errorf("cannot convert %T(%v) to %s", v, v, t)
}

func setBool(d reflect.Value, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		d.SetBool(rv.Bool())
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		d.SetBool(rv.Int() != 0)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		d.SetBool(rv.Uint() != 0)
		return nil
	}
	if s, ok := asText(v); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		d.SetBool(b)
		return nil
	}
	return errConvert(v, d.Type())
}

func setInt(d reflect.Value, v any) error {
	rv := reflect.ValueOf(v)
	var i int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return fmt.Errorf("value %d overflows %s", u, d.Type())
		}
		i = int64(u)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return fmt.Errorf("value %v is not representable as %s", f, d.Type())
		}
		i = int64(f)
	default:
		s, ok := asText(v)
		if !ok {
			return errConvert(v, d.Type())
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, d.Type().Bits())
		if err != nil {
			return err
		}
		i = n
	}
	if d.OverflowInt(i) {
		return fmt.Errorf("value %d overflows %s", i, d.Type())
	}
	d.SetInt(i)
	return nil
}

func setUint(d reflect.Value, v any) error {
	rv := reflect.ValueOf(v)
	var u uint64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i < 0 {
			return fmt.Errorf("negative value %d for %s", i, d.Type())
		}
		u = uint64(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u = rv.Uint()
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return fmt.Errorf("value %v is not representable as %s", f, d.Type())
		}
		u = uint64(f)
	default:
		s, ok := asText(v)
		if !ok {
			return errConvert(v, d.Type())
		}
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, d.Type().Bits())
		if err != nil {
			return err
		}
		u = n
	}
	if d.OverflowUint(u) {
		return fmt.Errorf("value %d overflows %s", u, d.Type())
	}
	d.SetUint(u)
	return nil
}

func setFloat(d reflect.Value, v any) error {
	rv := reflect.ValueOf(v)
	var f float64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f = float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f = float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f = rv.Float()
	default:
		s, ok := asText(v)
		if !ok {
			return errConvert(v, d.Type())
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), d.Type().Bits())
		if err != nil {
			return err
		}
		f = n
	}
	if d.OverflowFloat(f) {
		return fmt.Errorf("value %v overflows %s", f, d.Type())
	}
	d.SetFloat(f)
	return nil
}

func setString(d reflect.Value, v any) error {
	switch s := v.(type) {
	case string:
		d.SetString(s)
		return nil
	case []byte:
		d.SetString(string(s))
		return nil
	case time.Time:
		d.SetString(s.Format(time.RFC3339Nano))
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		d.SetString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		d.SetString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		d.SetString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		d.SetString(strconv.FormatFloat(rv.Float(), 'g', -1, rv.Type().Bits()))
	case reflect.String:
		d.SetString(rv.String())
	default:
		return errConvert(v, d.Type())
	}
	return nil
}

func setBytes(d reflect.Value, v any) error {
	switch b := v.(type) {
	case []byte:
		d.SetBytes(bytes.Clone(b))
		return nil
	case string:
		d.SetBytes([]byte(b))
		return nil
	}
	var s string
	if err := setString(reflect.ValueOf(&s).Elem(), v); err != nil {
		return errConvert(v, d.Type())
	}
	d.SetBytes([]byte(s))
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func setTime(d reflect.Value, v any) error {
	if t, ok := v.(time.Time); ok {
		d.Set(reflect.ValueOf(t))
		return nil
	}
	s, ok := asText(v)
	if !ok {
		return errConvert(v, d.Type())
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Set(reflect.ValueOf(t))
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as time", s)
}

func asText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return string(rv.Bytes()), true
	}
	return "", false
}
