package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat is returned when the input is not a regf hive
	ErrInvalidFormat = errors.New("invalid hive format")

	// ErrNotFound is returned when a key or value does not exist
	ErrNotFound = errors.New("not found")

	// ErrHiveNotFound is returned when no hive is loaded under the requested name
	ErrHiveNotFound = errors.New("hive not found")

	// ErrDecode is returned when a cell is truncated, out of bounds, or has the wrong signature
	ErrDecode = errors.New("hive decode error")
)

// KeyNotFoundError reports the first path segment that did not resolve
type KeyNotFoundError struct {
	Path      string
	Component string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("registry key %q not found (at %q)", e.Path, e.Component)
}

// Unwrap makes errors.Is(err, ErrNotFound) hold
func (e *KeyNotFoundError) Unwrap() error { return ErrNotFound }

// ValueNotFoundError reports a missing value under an existing key
type ValueNotFoundError struct {
	Key  string
	Name string
}

func (e *ValueNotFoundError) Error() string {
	return fmt.Sprintf("registry value %q not found under %q", e.Name, e.Key)
}

// Unwrap makes errors.Is(err, ErrNotFound) hold
func (e *ValueNotFoundError) Unwrap() error { return ErrNotFound }

func decodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
