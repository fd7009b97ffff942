package models

import "errors"

// Error taxonomy shared by the engine and its collaborators. Callers match
// with errors.Is; the concrete errors carry the offending field or value.
var (
	// ErrOutOfRangeReading is returned when a reading field fails range validation.
	ErrOutOfRangeReading = errors.New("reading out of range")
	// ErrOutOfOrderReading is returned when a reading is not newer than the latest one.
	ErrOutOfOrderReading = errors.New("reading out of order")
	// ErrCalibrationDivergence marks a calibration step that would leave its clamp.
	ErrCalibrationDivergence = errors.New("calibration step diverges")
	// ErrConfigInvalid wraps every configuration validation failure.
	ErrConfigInvalid = errors.New("invalid configuration")
	// ErrInvalidEvent is returned for malformed event tags.
	ErrInvalidEvent = errors.New("invalid event")
)
