// Package repository provides Postgres persistence for the
// authentication core: credentials, sessions, and reset tokens.
package repository

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not_found")
	// ErrConflict is returned when an insert violates a uniqueness
	// constraint.
	ErrConflict = errors.New("conflict")
)
