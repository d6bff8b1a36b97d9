package mux

import (
	"strings"
)

type FilterFunc[T any] func(T) bool

func And[T any](filters ...FilterFunc[T]) FilterFunc[T] {
	return func(v T) bool {
		for _, filter := range filters {
			if !filter(v) {
				return false
			}
		}
		return true
	}
}

// HasPrefix matches strings starting with prefix after key has been applied.
func HasPrefix[T any](key func(T) string, prefix string) FilterFunc[T] {
	return func(v T) bool {
		return strings.HasPrefix(key(v), prefix)
	}
}

// NonEmpty matches values whose key is not the empty string.
func NonEmpty[T any](key func(T) string) FilterFunc[T] {
	return func(v T) bool {
		return key(v) != ""
	}
}
