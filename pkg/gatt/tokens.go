package gatt

import (
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Tokens is the read-only token to value handle mapping produced by Registration.Build.
type Tokens[T comparable] struct {
	handles *orderedmap.OrderedMap[T, uint16]
	owners  map[uint16]T
}

// Handle returns the value handle bound to token.
func (t *Tokens[T]) Handle(token T) (uint16, bool) {
	return t.handles.Get(token)
}

// Token returns the token bound to the value handle h.
func (t *Tokens[T]) Token(h uint16) (T, bool) {
	token, ok := t.owners[h]
	return token, ok
}

// Len returns the number of bound tokens.
func (t *Tokens[T]) Len() int {
	return t.handles.Len()
}

// All yields tokens with their handles in registration order.
func (t *Tokens[T]) All() iter.Seq2[T, uint16] {
	return func(yield func(T, uint16) bool) {
		for pair := t.handles.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}
