package glean

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event describes one Glean event before it is stamped and wrapped in a ping.
type Event struct {
	Category string
	Name     string
	Extra    Extras
}

// Validate reports the first required field that is absent. Events decoded
// from the wire use it; typed constructors always produce valid events.
// A decoded event cannot tell an absent category or name from an empty one,
// so both are reported as missing. An empty extra object is valid.
func (e Event) Validate() error {
	switch {
	case e.Category == "":
		return &MissingFieldError{Field: "category"}
	case e.Name == "":
		return &MissingFieldError{Field: "name"}
	case e.Extra == nil:
		return &MissingFieldError{Field: "extra"}
	}
	return nil
}

// recordedEvent is the event as it appears inside the payload. Field order
// is the serialized key order.
type recordedEvent struct {
	Category  string `json:"category"`
	Name      string `json:"name"`
	Extra     Extras `json:"extra"`
	Timestamp int64  `json:"timestamp"`
}

// Extra is a single key/value pair of event extras.
type Extra struct {
	Key   string
	Value any
}

// Extras holds event extras in insertion order. Values must be strings,
// booleans or numbers.
type Extras []Extra

// With returns a copy of x with key set to value. An existing key keeps its
// position.
func (x Extras) With(key string, value any) Extras {
	out := make(Extras, len(x), len(x)+1)
	copy(out, x)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Extra{Key: key, Value: value})
}

// Get returns the value stored under key.
func (x Extras) Get(key string) (any, bool) {
	for _, e := range x {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the extras as a JSON object, keeping insertion order.
func (x Extras) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range x {
		if !isScalar(e.Value) {
			return nil, &InvalidExtraError{Key: e.Key, Value: e.Value}
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(&buf, e.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encodeValue(&buf, e.Value); err != nil {
			return nil, fmt.Errorf("extra %q: %w", e.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, keeping key order. Numbers are
// kept as json.Number so integers re-encode unchanged.
func (x *Extras) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("extra must be a JSON object")
	}

	out := Extras{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("extra key must be a string")
		}
		val, err := dec.Token()
		if err != nil {
			return err
		}
		if _, nested := val.(json.Delim); nested || !isScalar(val) {
			return &InvalidExtraError{Key: key, Value: val}
		}
		out = out.With(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*x = out
	return nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1) // Encode appends a newline
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// MissingFieldError is returned when an event lacks a required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("glean: event is missing required field %q", e.Field)
}

// InvalidExtraError is returned when an extra value is not a string, boolean
// or number.
type InvalidExtraError struct {
	Key   string
	Value any
}

func (e *InvalidExtraError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("glean: extra %q is null", e.Key)
	}
	return fmt.Sprintf("glean: extra %q has non-scalar type %T", e.Key, e.Value)
}
