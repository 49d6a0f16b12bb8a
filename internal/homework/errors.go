package homework

import "errors"

var (
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrEmptyResponse = errors.New("empty response")
	ErrMissingField  = errors.New("missing field")
	ErrUnknownStatus = errors.New("unknown homework status")
)
