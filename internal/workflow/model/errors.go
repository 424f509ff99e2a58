package model

import "errors"

// Engine error taxonomy. Services wrap these with context via fmt.Errorf and
// %w; the router maps them to HTTP status codes with errors.Is.
var (
	// ErrValidation indicates a malformed template or node definition.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a missing template, instance or open process row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an action attempted on a non-pending instance
	// or on a node that has already been decided.
	ErrInvalidState = errors.New("invalid instance state")

	// ErrPermissionDenied indicates the acting user is not in the resolved
	// assignee set for the current node.
	ErrPermissionDenied = errors.New("permission denied")
)
