package dedup

import "errors"

var (
	ErrNotFound           = errors.New("analysis not found")
	ErrUnauthorized       = errors.New("analysis belongs to a different user")
	ErrGenerationInFlight = errors.New("generation already in progress for these parameters")
)
