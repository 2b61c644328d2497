// Package value defines the closed, tagged-variant domain that bound
// arguments and cached-call results are restricted to: scalars, strings,
// paths, sequences of paths, and string-keyed mappings. It is built
// directly on structpb.Value so that the same representation serializes
// into the memoization store without a conversion step.
package value

import (
	"sort"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
)

// V is a value in the closed tagged-variant domain.
type V = *structpb.Value

// Null returns the null value.
func Null() V { return structpb.NewNullValue() }

// Bool wraps a boolean scalar.
func Bool(b bool) V { return structpb.NewBoolValue(b) }

// Number wraps a numeric scalar.
func Number(f float64) V { return structpb.NewNumberValue(f) }

// String wraps a string scalar.
func String(s string) V { return structpb.NewStringValue(s) }

// Path wraps a single path. Paths and strings share a representation; the
// distinction matters only to the cached-call engine's classification of
// parameters (builder.Source / builder.Destination), not to the
// value domain itself.
func Path(p string) V { return structpb.NewStringValue(p) }

// StringList wraps a sequence of strings (or paths) preserving order.
func StringList(ss []string) V {
	vals := make([]*structpb.Value, len(ss))
	for i, s := range ss {
		vals[i] = String(s)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

// List wraps an already-built sequence of values.
func List(vs []V) V {
	return structpb.NewListValue(&structpb.ListValue{Values: vs})
}

// StringMap wraps a mapping of string to string.
func StringMap(m map[string]string) V {
	fields := make(map[string]*structpb.Value, len(m))
	for k, v := range m {
		fields[k] = String(v)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

// Map wraps an already-built mapping.
func Map(m map[string]V) V {
	return structpb.NewStructValue(&structpb.Struct{Fields: m})
}

// IsNil reports whether v is unset (as opposed to Null(), which is a
// present-but-null value).
func IsNil(v V) bool { return v == nil }

// Strings converts a String or StringList value back into a []string. A
// bare string (or path) becomes a single-element slice, matching spec.md
// §4.E's "a path parameter may be a single path or a sequence of paths."
func Strings(v V) []string {
	if v == nil {
		return nil
	}
	switch v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return []string{v.GetStringValue()}
	case *structpb.Value_ListValue:
		lv := v.GetListValue().GetValues()
		out := make([]string, 0, len(lv))
		for _, e := range lv {
			out = append(out, e.GetStringValue())
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether a and b are structurally identical: scalars and
// strings by value, lists element-wise in order, and mappings by key/value
// irrespective of insertion order (spec.md §4.E: "Equality is structural").
func Equal(a, b V) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.GetKind().(type) {
	case *structpb.Value_NullValue:
		_, ok := b.GetKind().(*structpb.Value_NullValue)
		return ok
	case *structpb.Value_BoolValue:
		bv, ok := b.GetKind().(*structpb.Value_BoolValue)
		return ok && av.BoolValue == bv.BoolValue
	case *structpb.Value_NumberValue:
		bv, ok := b.GetKind().(*structpb.Value_NumberValue)
		return ok && av.NumberValue == bv.NumberValue
	case *structpb.Value_StringValue:
		bv, ok := b.GetKind().(*structpb.Value_StringValue)
		return ok && av.StringValue == bv.StringValue
	case *structpb.Value_ListValue:
		bv, ok := b.GetKind().(*structpb.Value_ListValue)
		if !ok {
			return false
		}
		al, bl := av.ListValue.GetValues(), bv.ListValue.GetValues()
		if len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !Equal(al[i], bl[i]) {
				return false
			}
		}
		return true
	case *structpb.Value_StructValue:
		bv, ok := b.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return false
		}
		af, bf := av.StructValue.GetFields(), bv.StructValue.GetFields()
		if len(af) != len(bf) {
			return false
		}
		for k, v := range af {
			ov, ok := bf[k]
			if !ok || !Equal(v, ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// EqualBound reports whether two bound-argument maps are structurally
// identical (spec.md §4.E find_call: "searching for a bound-arguments
// equal to the query").
func EqualBound(a, b map[string]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// canon appends a canonical textual form of v to buf, sorting mapping keys
// so that two structurally equal values always produce the same bytes
// regardless of map insertion order (spec.md §4.A: "Mappings must
// serialize identically regardless of insertion order; sequences preserve
// order.").
func canon(buf []byte, v V) []byte {
	if v == nil {
		return append(buf, "N"...)
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return append(buf, "n"...)
	case *structpb.Value_BoolValue:
		if k.BoolValue {
			return append(buf, "b1"...)
		}
		return append(buf, "b0"...)
	case *structpb.Value_NumberValue:
		buf = append(buf, 'f')
		return strconv.AppendFloat(buf, k.NumberValue, 'g', -1, 64)
	case *structpb.Value_StringValue:
		buf = append(buf, 's')
		buf = strconv.AppendInt(buf, int64(len(k.StringValue)), 10)
		buf = append(buf, ':')
		return append(buf, k.StringValue...)
	case *structpb.Value_ListValue:
		buf = append(buf, '[')
		for _, e := range k.ListValue.GetValues() {
			buf = canon(buf, e)
			buf = append(buf, ',')
		}
		return append(buf, ']')
	case *structpb.Value_StructValue:
		fields := k.StructValue.GetFields()
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for _, key := range keys {
			buf = append(buf, 's')
			buf = strconv.AppendInt(buf, int64(len(key)), 10)
			buf = append(buf, ':')
			buf = append(buf, key...)
			buf = append(buf, '=')
			buf = canon(buf, fields[key])
			buf = append(buf, ',')
		}
		return append(buf, '}')
	default:
		return buf
	}
}

// Canonical returns a deterministic byte encoding of v suitable for
// hashing (see digest.Value).
func Canonical(v V) []byte {
	return canon(nil, v)
}
