// Package optional records whether a JSON key was present in a payload,
// which plain Go values cannot express.
package optional

import (
	"bytes"
	"encoding/json"
)

// Field is a value that may be absent, present as null, or present with a
// value. The zero Field is absent.
type Field[T any] struct {
	Present bool
	Null    bool
	Value   T
}

// Some returns a present field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Present: true, Value: v}
}

// Null returns a present field explicitly set to null.
func Null[T any]() Field[T] {
	return Field[T]{Present: true, Null: true}
}

// Get returns the value and whether it is set to something other than null.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Present && !f.Null
}

// UnmarshalJSON is only invoked when the key exists in the input.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Present = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(b, &f.Value)
}

// MarshalJSON renders absent and null fields as null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Present || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}
