package summaryservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Kind is the classification of a single JSON value.
type Kind int

const (
	// Other is any JSON value that is neither a string nor an integer:
	// fractional or exponent numbers, out-of-range integers, booleans, null,
	// arrays and objects. It is the zero Kind.
	Other Kind = iota

	// String is a JSON string.
	String

	// Integer is a JSON number written without fraction or exponent whose
	// value fits in an int64.
	Integer
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Integer:
		return "integer"
	default:
		return "other"
	}
}

// ErrInvalidJSON is returned by ParseValue when the input is not a single
// well-formed JSON value.
var ErrInvalidJSON = errors.New("invalid JSON value")

// Value is one element of a summarize request. The classification is taken
// from the JSON encoding, not from the numeric value: 2.0 is Other, 2 is
// Integer.
type Value struct {
	kind Kind
	text string
	n    int64
	raw  json.RawMessage
}

// StringValue returns a String value.
func StringValue(s string) Value { return Value{kind: String, text: s} }

// IntegerValue returns an Integer value.
func IntegerValue(n int64) Value { return Value{kind: Integer, n: n} }

// ParseValue classifies a single JSON value.
func ParseValue(data []byte) (Value, error) {
	if !json.Valid(data) {
		return Value{}, ErrInvalidJSON
	}
	var v Value
	if err := v.UnmarshalJSON(bytes.TrimSpace(data)); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Kind returns the classification of v.
func (v Value) Kind() Kind { return v.kind }

// Text returns the string held by a String value, and "" otherwise.
func (v Value) Text() string { return v.text }

// Int returns the integer held by an Integer value, and 0 otherwise.
func (v Value) Int() int64 { return v.n }

// UnmarshalJSON implements json.Unmarshaler. It never rejects a well-formed
// JSON value; anything it does not recognize becomes Other.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value{}
	if len(data) == 0 {
		return ErrInvalidJSON
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case c == '-' || (c >= '0' && c <= '9'):
		if !bytes.ContainsAny(data, ".eE") {
			if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
				*v = IntegerValue(n)
				return nil
			}
		}
	}
	v.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON implements json.Marshaler. Other values are written back
// exactly as they were decoded; the zero Value encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case String:
		return json.Marshal(v.text)
	case Integer:
		return strconv.AppendInt(nil, v.n, 10), nil
	}
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}
