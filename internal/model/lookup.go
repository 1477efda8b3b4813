package model

// Lookup is the result of a keyed read: either Found with a value, or
// NotFound. A failed read is reported through the accompanying error, never
// through NotFound.
type Lookup[T any] struct {
	value T
	found bool
}

// Found wraps a located value.
func Found[T any](v T) Lookup[T] {
	return Lookup[T]{value: v, found: true}
}

// NotFound returns an empty lookup.
func NotFound[T any]() Lookup[T] {
	return Lookup[T]{}
}

// Get returns the value and whether it was found.
func (l Lookup[T]) Get() (T, bool) {
	return l.value, l.found
}

// OK reports whether the lookup found a value.
func (l Lookup[T]) OK() bool {
	return l.found
}
