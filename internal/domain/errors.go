package domain

import "errors"

// Error kinds returned by the event store. Callers match them with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("event not found")
	ErrStorage    = errors.New("storage failure")
)
