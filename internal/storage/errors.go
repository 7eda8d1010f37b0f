package storage

import "errors"

var (
	// ErrNotFound is returned when an object or directory does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when a write would replace an existing
	// object.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidPath wraps every path validation failure.
	ErrInvalidPath = errors.New("invalid path")

	// ErrUnavailable is returned while the object store circuit is open.
	ErrUnavailable = errors.New("object storage unavailable")
)
