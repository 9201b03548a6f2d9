// Package apperrors defines the sentinel errors shared by repositories,
// services and handlers. Callers match them with errors.Is.
package apperrors

import "errors"

var (
	// ErrNotFound is returned for an unresolved handle, edge, user or message.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when acting on an edge addressed to someone else.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when acting on another party's message, or when
	// messaging a user who is not an accepted friend.
	ErrForbidden = errors.New("forbidden")

	ErrSelfReference = errors.New("cannot befriend yourself")

	// ErrConflict is returned for duplicate requests, existing friendships and
	// taken usernames or nicknames.
	ErrConflict = errors.New("conflict")

	ErrInvalidInput = errors.New("invalid input")
)
