// Package configvalue converts between the text stored in a config record and
// the typed value business code works with.
package configvalue

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ConfigType declares how a stored value must be decoded.
type ConfigType string

const (
	TypeString  ConfigType = "STRING"
	TypeNumber  ConfigType = "NUMBER"
	TypeBoolean ConfigType = "BOOLEAN"
	TypeJSON    ConfigType = "JSON"
	TypeColor   ConfigType = "COLOR"
	TypeList    ConfigType = "LIST"
)

// AllTypes lists every supported type in declaration order.
var AllTypes = []ConfigType{TypeString, TypeNumber, TypeBoolean, TypeJSON, TypeColor, TypeList}

// Valid reports whether t is one of the supported types.
func (t ConfigType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t ConfigType) String() string { return string(t) }

// ParseType accepts a type name in any case ("number", "Number", "NUMBER").
func ParseType(s string) (ConfigType, bool) {
	t := ConfigType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", false
	}
	return t, true
}

// Value is the closed set of decoded config values. Only the types in this
// package implement it.
type Value interface {
	isValue()
}

// StringValue is a plain (or color) string.
type StringValue string

// NumberValue is a numeric setting.
type NumberValue float64

// BooleanValue is a boolean flag.
type BooleanValue bool

// JSONValue holds raw JSON text that parsed successfully.
type JSONValue string

// ListValue is a list of strings, e.g. enabled modules or allowed roles.
type ListValue []string

func (StringValue) isValue()  {}
func (NumberValue) isValue()  {}
func (BooleanValue) isValue() {}
func (JSONValue) isValue()    {}
func (ListValue) isValue()    {}

// MarshalJSON emits the raw document instead of a quoted string.
func (v JSONValue) MarshalJSON() ([]byte, error) {
	if json.Valid([]byte(v)) {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}

// Contains reports whether s is an element of the list.
func (l ListValue) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

// Native unwraps v into the plain Go value used in JSON responses.
func Native(v Value) any {
	switch x := v.(type) {
	case nil:
		return nil
	case StringValue:
		return string(x)
	case NumberValue:
		return float64(x)
	case BooleanValue:
		return bool(x)
	case JSONValue:
		if json.Valid([]byte(x)) {
			return json.RawMessage(x)
		}
		return string(x)
	case ListValue:
		return []string(x)
	}
	return nil
}

// FromNative converts a value decoded from a JSON request body (or any plain
// Go value) into a Value. Arrays of strings become ListValue, other arrays and
// objects become JSONValue.
func FromNative(v any) Value {
	switch x := v.(type) {
	case nil:
		return nil
	case Value:
		return x
	case string:
		return StringValue(x)
	case bool:
		return BooleanValue(x)
	case float64:
		return NumberValue(x)
	case float32:
		return NumberValue(x)
	case int:
		return NumberValue(x)
	case int32:
		return NumberValue(x)
	case int64:
		return NumberValue(x)
	case uint:
		return NumberValue(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return StringValue(x.String())
		}
		return NumberValue(f)
	case []string:
		return ListValue(append([]string(nil), x...))
	case []any:
		list := make(ListValue, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return marshalled(v)
			}
			list = append(list, s)
		}
		return list
	}
	return marshalled(v)
}

func marshalled(v any) Value {
	b, err := json.Marshal(v)
	if err != nil {
		return StringValue(strconv.Quote(err.Error()))
	}
	return JSONValue(b)
}

// AsList interprets v as a list of strings. JSON arrays with non-string
// elements are stringified element by element.
func AsList(v Value) ([]string, bool) {
	switch x := v.(type) {
	case ListValue:
		return x, true
	case JSONValue:
		var items []any
		if err := json.Unmarshal([]byte(x), &items); err != nil {
			return nil, false
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch e := item.(type) {
			case string:
				out = append(out, e)
			default:
				b, _ := json.Marshal(e)
				out = append(out, string(b))
			}
		}
		return out, true
	}
	return nil, false
}
