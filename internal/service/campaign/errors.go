package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound     = errors.New("campaign not found")
	ErrInvalidState = errors.New("invalid campaign state")
	ErrEmptyList    = errors.New("campaign list has no contacts")
	ErrValidation   = errors.New("validation failed")
)
