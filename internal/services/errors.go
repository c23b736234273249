// Package services defines the business logic for ingesting chat messages
// into rooms and resolving room history. This file centralizes the
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into websocket error events or HTTP status codes is performed
// by the transport layers (realtime and http/handlers).
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed request: missing field, oversized
	// content, bad timestamp. Match with errors.Is; inspect details with
	// errors.As against *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrStorage marks a persistence failure that survived the retry budget.
	// It never describes the expected thread-creation race, which is
	// resolved internally.
	ErrStorage = errors.New("storage failure")

	// errThreadRace is returned when a concurrent writer created the room's
	// thread between our lookup and insert. The caller re-reads.
	errThreadRace = errors.New("thread race conflict")
)

// ValidationError describes which input field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// StorageError wraps the underlying database error of a failed operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrStorage and the cause.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }
