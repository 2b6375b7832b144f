package chat

import "errors"

// Error taxonomy surfaced to transports. Handlers map these with errors.Is;
// anything unrecognized is reported as an internal error without detail.
var (
	ErrUnauthorized    = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)
