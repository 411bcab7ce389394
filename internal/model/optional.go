package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Optional holds a value that is either present or absent.
// The zero value is absent. JSON null decodes to absent.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a present Optional
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an absent Optional
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the value is present
func (o Optional[T]) IsSet() bool {
	return o.set
}

// OrElse returns the value when present, def otherwise
func (o Optional[T]) OrElse(def T) T {
	if o.set {
		return o.value
	}
	return def
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Optional[T]{value: v, set: true}
	return nil
}

// Text returns the trimmed string value, empty when absent
func Text(o Optional[string]) string {
	return strings.TrimSpace(o.OrElse(""))
}

// HasText reports whether a string Optional is present and not blank
func HasText(o Optional[string]) bool {
	return Text(o) != ""
}
