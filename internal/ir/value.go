package ir

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the script-level values that assertions
// and scenarios operate on. Only the types in this file implement it.
type Value interface {
	irValue()
}

// Undefined is the absent value. A Go nil converts to Undefined.
type Undefined struct{}

func (Undefined) irValue() {}

// Null is the explicit null value.
type Null struct{}

func (Null) irValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) irValue() {}

// Number is a double precision number. Every Go numeric type converts to it.
type Number float64

func (Number) irValue() {}

// String is a string value.
type String string

func (String) irValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) irValue() {}

// Object maps string keys to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) irValue() {}

// Func stands in for a callable. Only its identity as a function matters.
type Func struct {
	Name string
}

func (Func) irValue() {}

// TypedKind names the element type of a TypedArray.
type TypedKind string

const (
	Float32Array TypedKind = "Float32Array"
	Float64Array TypedKind = "Float64Array"
	Int8Array    TypedKind = "Int8Array"
	Int16Array   TypedKind = "Int16Array"
	Int32Array   TypedKind = "Int32Array"
	Uint8Array   TypedKind = "Uint8Array"
	Uint16Array  TypedKind = "Uint16Array"
	Uint32Array  TypedKind = "Uint32Array"
)

// TypedArray is a fixed-kind numeric array. Elements are stored widened to
// float64, so a Float32Array element keeps its single precision rounding.
type TypedArray struct {
	Kind  TypedKind
	Elems []float64
}

func (TypedArray) irValue() {}

// NewFloat32Array builds a Float32Array from Go float32 values.
func NewFloat32Array(vals ...float32) TypedArray {
	elems := make([]float64, len(vals))
	for i, v := range vals {
		elems[i] = float64(v)
	}
	return TypedArray{Kind: Float32Array, Elems: elems}
}

// NewTypedArray builds a typed array of the given kind, rounding every element
// the way the element type would store it.
func NewTypedArray(kind TypedKind, vals []float64) TypedArray {
	elems := make([]float64, len(vals))
	for i, v := range vals {
		elems[i] = roundToKind(kind, v)
	}
	return TypedArray{Kind: kind, Elems: elems}
}

func roundToKind(kind TypedKind, v float64) float64 {
	switch kind {
	case Float32Array:
		return float64(float32(v))
	case Int8Array:
		return float64(int8(int64(v)))
	case Int16Array:
		return float64(int16(int64(v)))
	case Int32Array:
		return float64(int32(int64(v)))
	case Uint8Array:
		return float64(uint8(int64(v)))
	case Uint16Array:
		return float64(uint16(int64(v)))
	case Uint32Array:
		return float64(uint32(int64(v)))
	default:
		return v
	}
}

// From converts a Go value to a Value.
//
// nil becomes Undefined; numeric kinds become Number; []float32, []float64,
// []int8, []int16, []int32, []uint8, []uint16 and []uint32 become typed
// arrays; other slices and arrays become Array; maps with string keys become
// Object; functions become Func. Anything else is rendered with its
// fmt.Stringer or Go syntax as a String.
func From(v any) Value {
	switch val := v.(type) {
	case nil:
		return Undefined{}
	case Value:
		return val
	case bool:
		return Bool(val)
	case string:
		return String(val)
	case int:
		return Number(val)
	case int8:
		return Number(val)
	case int16:
		return Number(val)
	case int32:
		return Number(val)
	case int64:
		return Number(val)
	case uint:
		return Number(val)
	case uint8:
		return Number(val)
	case uint16:
		return Number(val)
	case uint32:
		return Number(val)
	case uint64:
		return Number(val)
	case float32:
		return Number(val)
	case float64:
		return Number(val)
	case []float32:
		return NewFloat32Array(val...)
	case []float64:
		return TypedArray{Kind: Float64Array, Elems: slices.Clone(val)}
	case []int8:
		return typedFromInts(Int8Array, val)
	case []int16:
		return typedFromInts(Int16Array, val)
	case []int32:
		return typedFromInts(Int32Array, val)
	case []uint8:
		return typedFromInts(Uint8Array, val)
	case []uint16:
		return typedFromInts(Uint16Array, val)
	case []uint32:
		return typedFromInts(Uint32Array, val)
	case error:
		return Object{"name": String(reflect.TypeOf(val).String()), "message": String(val.Error())}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}
		}
		return From(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null{}
		}
		arr := make(Array, rv.Len())
		for i := range arr {
			arr[i] = From(rv.Index(i).Interface())
		}
		return arr
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		obj := make(Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			obj[iter.Key().String()] = From(iter.Value().Interface())
		}
		return obj
	case reflect.Func:
		return Func{Name: rv.Type().String()}
	case reflect.String:
		return String(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float())
	case reflect.Bool:
		return Bool(rv.Bool())
	}
	return String(fmt.Sprint(v))
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~uint8 | ~uint16 | ~uint32
}

func typedFromInts[T integer](kind TypedKind, vals []T) TypedArray {
	elems := make([]float64, len(vals))
	for i, v := range vals {
		elems[i] = float64(v)
	}
	return TypedArray{Kind: kind, Elems: elems}
}

// StrictEqual reports whether a === b.
//
// Primitives compare by value (NaN is never equal, +0 equals -0). Arrays and
// typed arrays compare by their string form, so two Float32Arrays holding the
// same elements are equal. Objects compare structurally.
func StrictEqual(a, b Value) bool {
	switch av := a.(type) {
	case Undefined:
		_, ok := b.(Undefined)
		return ok
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		return ok && float64(av) == float64(bv)
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Func:
		bv, ok := b.(Func)
		return ok && av == bv
	case Array, TypedArray:
		switch b.(type) {
		case Array, TypedArray:
			return ToString(a) == ToString(b)
		}
		return false
	case Object:
		bv, ok := b.(Object)
		return ok && DeepEqual(av, bv)
	}
	return false
}

// DeepEqual compares values structurally. Unlike StrictEqual, NaN equals NaN
// and typed arrays must also share their kind.
func DeepEqual(a, b Value) bool {
	switch av := a.(type) {
	case Number:
		bv, ok := b.(Number)
		if !ok {
			return false
		}
		if math.IsNaN(float64(av)) && math.IsNaN(float64(bv)) {
			return true
		}
		return av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case TypedArray:
		bv, ok := b.(TypedArray)
		if !ok || av.Kind != bv.Kind || len(av.Elems) != len(bv.Elems) {
			return false
		}
		for i := range av.Elems {
			if !DeepEqual(Number(av.Elems[i]), Number(bv.Elems[i])) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !DeepEqual(v, other) {
				return false
			}
		}
		return true
	}
	return StrictEqual(a, b)
}

// ToString renders v the way String(v) does in script code.
func ToString(v Value) string {
	switch val := v.(type) {
	case Undefined:
		return "undefined"
	case Null:
		return "null"
	case Bool:
		if val {
			return "true"
		}
		return "false"
	case Number:
		return FormatNumber(float64(val))
	case String:
		return string(val)
	case Array:
		parts := make([]string, len(val))
		for i, elem := range val {
			switch elem.(type) {
			case Undefined, Null:
				parts[i] = ""
			default:
				parts[i] = ToString(elem)
			}
		}
		return strings.Join(parts, ",")
	case TypedArray:
		parts := make([]string, len(val.Elems))
		for i, elem := range val.Elems {
			parts[i] = FormatNumber(elem)
		}
		return strings.Join(parts, ",")
	case Object:
		return "[object Object]"
	case Func:
		return "function " + val.Name + "() { [native code] }"
	}
	return ""
}

// FormatNumber formats f with the shortest round-trip representation, using
// exponent notation only outside [1e-6, 1e21) as script engines do.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// TypeName returns the constructor name used by instance-of checks.
func TypeName(v Value) string {
	switch val := v.(type) {
	case Undefined:
		return "Undefined"
	case Null:
		return "Null"
	case Bool:
		return "Boolean"
	case Number:
		return "Number"
	case String:
		return "String"
	case Array:
		return "Array"
	case TypedArray:
		return string(val.Kind)
	case Func:
		return "Function"
	case Object:
		return "Object"
	}
	return ""
}

// ToNumber converts v to a number, reporting false for values that have no
// numeric reading.
func ToNumber(v Value) (float64, bool) {
	switch val := v.(type) {
	case Number:
		return float64(val), true
	case Bool:
		if val {
			return 1, true
		}
		return 0, true
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	case Null:
		return 0, true
	}
	return math.NaN(), false
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
// Go's string comparison orders by UTF-8 bytes, which differs above U+FFFF.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
