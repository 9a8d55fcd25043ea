package domain

import "errors"

var (
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidField     = errors.New("invalid field")
	ErrInvalidCategory  = errors.New("invalid notification category")
	ErrUnknownPayload   = errors.New("unknown notification payload")
	ErrInvalidPriority  = errors.New("invalid subscriber priority")
	ErrMissingEventType = errors.New("notification payload type is required")
)
