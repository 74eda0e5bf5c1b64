// Package pointer has helpers for optional values held as pointers.
package pointer

// To returns a pointer to a copy of value.
func To[T any](value T) *T {
	return &value
}

// OrDefault dereferences value, or returns defaultValue when it is nil.
func OrDefault[T any](value *T, defaultValue T) T {
	if value != nil {
		return *value
	}
	return defaultValue
}

// IfValid returns a pointer to value if it's valid, otherwise nil
func IfValid[T any](valid bool, value T) *T {
	if valid {
		return &value
	}
	return nil
}

// Copy returns a pointer that's a copy of the provided value
func Copy[T any](value *T) *T {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
