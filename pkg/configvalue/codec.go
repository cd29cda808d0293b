package configvalue

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Decode converts a stored string into a typed value. It never fails:
// malformed JSON or LIST values come back as the raw StringValue, and an
// unparsable NUMBER decodes to 0.
func Decode(raw string, t ConfigType) Value {
	switch t {
	case TypeBoolean:
		return BooleanValue(raw == "true")
	case TypeNumber:
		return NumberValue(parseNumber(raw))
	case TypeJSON:
		if json.Valid([]byte(raw)) {
			return JSONValue(raw)
		}
		return StringValue(raw)
	case TypeList:
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil && list != nil {
			return ListValue(list)
		}
		if json.Valid([]byte(raw)) {
			return JSONValue(raw)
		}
		return StringValue(raw)
	default:
		// STRING, COLOR and anything unknown
		return StringValue(raw)
	}
}

// Encode converts a value into its stored string form for type t.
func Encode(v Value, t ConfigType) string {
	switch t {
	case TypeBoolean:
		if truthy(v) {
			return "true"
		}
		return "false"
	case TypeNumber:
		return encodeNumber(v)
	case TypeJSON, TypeList:
		return encodeJSON(v)
	default:
		return stringify(v)
	}
}

// Infer picks the type a brand-new record gets when the caller did not
// declare one.
func Infer(v Value) ConfigType {
	switch v.(type) {
	case BooleanValue:
		return TypeBoolean
	case NumberValue:
		return TypeNumber
	case JSONValue, ListValue:
		return TypeJSON
	default:
		return TypeString
	}
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case BooleanValue:
		return bool(x)
	case StringValue:
		return x == "true"
	}
	return false
}

func parseNumber(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func encodeNumber(v Value) string {
	switch x := v.(type) {
	case nil:
		return "0"
	case NumberValue:
		return formatNumber(float64(x))
	case BooleanValue:
		if x {
			return "1"
		}
		return "0"
	case StringValue:
		s := strings.TrimSpace(string(x))
		if s == "" {
			return "0"
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "NaN"
		}
		return formatNumber(f)
	}
	return "NaN"
}

func encodeJSON(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case StringValue:
		// assumed to be pre-serialized
		return string(x)
	case JSONValue:
		return string(x)
	case ListValue:
		if x == nil {
			return "[]"
		}
		b, err := json.Marshal([]string(x))
		if err != nil {
			return "[]"
		}
		return string(b)
	case NumberValue:
		return formatNumber(float64(x))
	case BooleanValue:
		return strconv.FormatBool(bool(x))
	}
	return "null"
}

func stringify(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case StringValue:
		return string(x)
	case NumberValue:
		return formatNumber(float64(x))
	case BooleanValue:
		return strconv.FormatBool(bool(x))
	case JSONValue:
		return string(x)
	case ListValue:
		return strings.Join(x, ",")
	}
	return ""
}
