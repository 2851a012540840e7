package common

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig is the cause of every configuration error.
	// Use errors.Is to test for it.
	ErrInvalidConfig = errors.New("invalid configuration")
)
