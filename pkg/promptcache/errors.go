package promptcache

import "errors"

var (
	// ErrConfiguration is returned when the cache is constructed with invalid parameters.
	ErrConfiguration = errors.New("invalid prompt cache configuration")

	// ErrInvalidInput is returned when Intern is called with empty text.
	ErrInvalidInput = errors.New("invalid prompt text")

	// ErrNotFound is returned when an id was never issued or has been evicted.
	ErrNotFound = errors.New("prompt not found")
)
