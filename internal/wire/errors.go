package wire

import "errors"

var (
	// ErrBigIntCollision reports that a string value in the payload has the
	// same shape as a tagged large integer and would be corrupted on the wire.
	ErrBigIntCollision = errors.New("big integer serialization conflicts with a string value")
	ErrMalformedTerm   = errors.New("malformed external term")
	ErrInvalidFrame    = errors.New("invalid frame envelope")
)
