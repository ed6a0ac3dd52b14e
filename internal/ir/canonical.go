package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON (RFC 8785 key order, NFC strings,
// no HTML escaping) for v. Go values are converted with From first.
//
// Values that JSON cannot carry are tagged objects:
//
//	undefined        -> {"$type":"undefined"}
//	NaN / ±Infinity  -> {"$number":"NaN"}
//	typed arrays     -> {"$typed":"Float32Array","values":[...]}
//	functions        -> {"$type":"function","name":"..."}
//
// The output is stable across runs and used for storage, hashing and golden
// snapshots.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, From(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case Undefined:
		buf.WriteString(`{"$type":"undefined"}`)
	case Null:
		buf.WriteString("null")
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			fmt.Fprintf(buf, `{"$number":%q}`, FormatNumber(f))
			return nil
		}
		buf.WriteString(FormatNumber(f))
	case String:
		data, err := marshalCanonicalString(string(val))
		if err != nil {
			return err
		}
		buf.Write(data)
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case TypedArray:
		fmt.Fprintf(buf, `{"$typed":%q,"values":[`, string(val.Kind))
		for i, elem := range val.Elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, Number(elem)); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteString("]}")
	case Func:
		name, err := marshalCanonicalString(val.Name)
		if err != nil {
			return err
		}
		buf.WriteString(`{"$type":"function","name":`)
		buf.Write(name)
		buf.WriteByte('}')
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := marshalCanonicalString(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

// marshalCanonicalString encodes s as a JSON string after NFC normalization.
// Only quote, backslash and control characters are escaped; U+2028 and U+2029
// stay literal.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	result := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeLineSeparators(result), nil
}

// unescapeLineSeparators turns the U+2028 and U+2029 escapes that
// encoding/json emits back into literal characters. Escaped backslashes are
// copied as pairs, so a literal backslash followed by "u2028" is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		if data[i] == '\\' && i+1 < len(data) {
			out = append(out, data[i], data[i+1])
			i++
			continue
		}
		out = append(out, data[i])
	}
	return out
}
