package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which JSON shape a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindComposite:
		return "composite"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one value of an open JSON payload. The zero Value is null.
type Value struct {
	kind Kind
	text string          // string contents or the number literal
	b    bool            // bool contents
	raw  json.RawMessage // compacted composite (object or array)
}

func StringValue(s string) Value { return Value{kind: KindString, text: s} }

func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

func NumberValue(f float64) Value {
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// CompositeValue serializes v and keeps it as an object/array value.
// Scalars passed here are stored with their own kind.
func CompositeValue(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("failed to encode composite payload value: %w", err)
	}
	var out Value
	if err := out.UnmarshalJSON(b); err != nil {
		return Value{}, err
	}
	return out, nil
}

func (v Value) Kind() Kind { return v.kind }

// Flatten maps the value onto the string form used by push data maps.
// It reports false for null, which callers skip.
func (v Value) Flatten() (string, bool) {
	switch v.kind {
	case KindString:
		return v.text, true
	case KindNumber:
		return formatNumber(v.text), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	case KindComposite:
		return string(v.raw), true
	default:
		return "", false
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		*v = Value{}
		return nil
	}

	switch trimmed[0] {
	case 'n':
		*v = Value{}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return fmt.Errorf("invalid payload bool: %w", err)
		}
		*v = BoolValue(b)
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("invalid payload string: %w", err)
		}
		*v = StringValue(s)
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return fmt.Errorf("invalid payload composite: %w", err)
		}
		*v = Value{kind: KindComposite, raw: buf.Bytes()}
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("invalid payload number: %w", err)
		}
		*v = Value{kind: KindNumber, text: n.String()}
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindNumber:
		return []byte(v.text), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindComposite:
		return v.raw, nil
	default:
		return []byte("null"), nil
	}
}

// formatNumber renders a JSON number literal the way a JSON consumer would print it,
// so 1.0 and 1 both become "1". Literals that do not fit a float64 are kept verbatim.
func formatNumber(literal string) string {
	if i, err := strconv.ParseInt(literal, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return literal
	}
	if math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
