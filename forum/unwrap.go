// unadulting/forum/unwrap.go
package forum

import (
	"bytes"
	"encoding/json"
)

// Related holds a joined row that the feed may deliver either as a single
// object or as a single-element array, depending on the query shape that
// produced it. Unwrap normalizes both to a pointer.
type Related[T any] struct {
	value *T
}

func (r *Related[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		r.value = nil
		return nil
	}
	if data[0] == '[' {
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			r.value = nil
			return nil
		}
		r.value = &list[0]
		return nil
	}
	var single T
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	r.value = &single
	return nil
}

func (r Related[T]) MarshalJSON() ([]byte, error) {
	if r.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

// Unwrap returns the joined row, or nil if none was attached.
func (r Related[T]) Unwrap() *T {
	return r.value
}
