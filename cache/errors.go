package cache

import "errors"

// Cache-specific errors. Pool and query failures from the layers below pass
// through unchanged and keep matching the store taxonomy.
var (
	// ErrNotFound is returned when a key is absent or every matching entry
	// has expired.
	ErrNotFound = errors.New("cache entry not found")

	// ErrSerialization is returned when a stored value cannot be interpreted
	// in the requested shape, e.g. a non-numeric value given to Increment.
	ErrSerialization = errors.New("cache value serialization failed")

	// ErrCompute is returned by the Remember family when the caller's
	// compute function fails.
	ErrCompute = errors.New("cache compute function failed")
)
