package core

import "errors"

var (
	// ErrInvalidArgument is returned for malformed geometry, size or color input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when an item or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMalformedSession is returned when a stored session document cannot be decoded.
	ErrMalformedSession = errors.New("malformed session")

	// ErrVersionConflict is returned when a versioned save lost the race to another save.
	ErrVersionConflict = errors.New("version conflict")

	// ErrForbidden is returned when the caller lacks access to a session.
	ErrForbidden = errors.New("forbidden")
)
