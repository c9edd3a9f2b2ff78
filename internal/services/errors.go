package services

import "errors"

// Sentinel errors shared by the invitation and membership services.
// Handlers translate these into HTTP responses with errors.Is; anything
// else is treated as an internal storage failure, logged and surfaced
// as a 500.
var (
	// ErrUnauthenticated: no caller identity was established.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden: the caller lacks the required project role, or an
	// invitation token was presented by an account whose email does not
	// match the invited address.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound: the referenced invitation, token, project or user
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired: a pending invitation's validity window has elapsed.
	ErrExpired = errors.New("invitation expired")

	// ErrInvalidTransition: the invitation has already left PENDING;
	// the loser of a double-accept race sees this.
	ErrInvalidTransition = errors.New("invitation already resolved")

	// ErrConflict: a storage uniqueness constraint rejected the write.
	ErrConflict = errors.New("conflict")

	// ErrInvalidRole: a role outside the project-role catalog was supplied.
	ErrInvalidRole = errors.New("invalid role")
)
