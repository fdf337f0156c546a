package model

import (
	"bytes"
	"encoding/json"
	"io"
)

// DecodeJSON decodes r into v with json.Number for every untyped number.
// Callers pass the result through ExactNumbers before storing it.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// ExactNumbers replaces json.Number values inside decoded JSON with int64
// when the literal is an integer in range and float64 otherwise. Maps and
// slices are rewritten in place.
func ExactNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = ExactNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = ExactNumbers(item)
		}
		return val
	default:
		return v
	}
}

// UnmarshalStates decodes a stored states document without losing integer
// precision in any stage's extra.
func UnmarshalStates(data []byte) (map[string]StageEntry, error) {
	var states map[string]StageEntry
	if err := DecodeJSON(bytes.NewReader(data), &states); err != nil {
		return nil, err
	}
	for stage, entry := range states {
		if entry.Extra != nil {
			ExactNumbers(entry.Extra)
			states[stage] = entry
		}
	}
	return states, nil
}
