// Package store holds the errors shared by every persistence backend.
package store

import "github.com/pkg/errors"

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	// ErrConflict is returned when a guarded one-way flag is already set.
	ErrConflict = errors.New("conflicting update")
)
