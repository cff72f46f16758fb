package secmon

import "errors"

var (
	// ErrInvalidEvent is returned when an event fails validation at construction or recording.
	ErrInvalidEvent = errors.New("secmon: invalid event")

	// ErrConfig is returned by LoadConfig for invalid settings.
	ErrConfig = errors.New("secmon: invalid config")
)
