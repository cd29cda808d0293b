package repository

import "errors"

var (
	// ErrNotFound is returned when a (module, key) pair does not exist
	ErrNotFound = errors.New("config not found")

	// ErrDuplicateKey is returned when creating a (module, key) pair that already exists
	ErrDuplicateKey = errors.New("config already exists")
)
