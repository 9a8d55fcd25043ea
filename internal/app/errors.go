package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidPolicy        = errors.New("invalid copy policy")
	ErrInvalidSubscriber    = errors.New("invalid subscriber")
	ErrDuplicateSubscriber  = errors.New("subscriber already registered")
	ErrNoConnectionAddress  = errors.New("connection address could not be resolved")
	ErrUnsupportedStoreMode = errors.New("unsupported store mode")
)
