package rag

import "errors"

var (
	// ErrNotFound is returned when the knowledge-base directory or a
	// persisted index artifact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for out-of-range parameters, malformed
	// configuration values, and undecodable input files.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransient marks a capability failure that is worth retrying:
	// rate limiting, upstream 5xx responses, and timeouts.
	ErrTransient = errors.New("transient failure")
)
