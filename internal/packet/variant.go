package packet

import (
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
)

// AsString coerces a scalar variant to a string. Numbers use their shortest
// decimal form.
func AsString(v *structpb.Value) (string, bool) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, true
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64), true
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue), true
	default:
		return "", false
	}
}

// AsBool coerces a variant to a boolean. Numbers are true when non-zero;
// strings must parse with strconv.ParseBool.
func AsBool(v *structpb.Value) (bool, bool) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return k.BoolValue, true
	case *structpb.Value_NumberValue:
		return k.NumberValue != 0, true
	case *structpb.Value_StringValue:
		b, err := strconv.ParseBool(k.StringValue)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// AsStringList coerces a variant to a list of strings. A list must hold only
// string-coercible values, a lone string becomes a one-element list and null
// becomes an empty list.
func AsStringList(v *structpb.Value) ([]string, bool) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_ListValue:
		values := k.ListValue.GetValues()
		out := make([]string, 0, len(values))
		for _, item := range values {
			s, ok := AsString(item)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case *structpb.Value_StringValue:
		return []string{k.StringValue}, true
	case *structpb.Value_NullValue:
		return []string{}, true
	default:
		return nil, false
	}
}

// AsList returns the elements of a list variant
func AsList(v *structpb.Value) ([]*structpb.Value, bool) {
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, false
	}
	return l.ListValue.GetValues(), true
}
