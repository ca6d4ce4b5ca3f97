package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks rejected configuration input.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrStoreUnavailable marks failures of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ConfigError describes a configuration value rejected at the boundary.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// PersistenceError wraps a store failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// NewPersistenceError returns nil when err is nil.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
