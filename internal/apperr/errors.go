package apperr

import "errors"

// ErrInvalid is returned when input fails validation.
var ErrInvalid = errors.New("invalid input")

// ErrUnauthorized means the backend rejected the credentials or token.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden means the acting user's role may not perform the action.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound indicates that the requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness or state conflict reported by the backend.
var ErrConflict = errors.New("conflict")

// ErrNoSession is returned when an operation needs an active session and there is none.
var ErrNoSession = errors.New("no active session")
