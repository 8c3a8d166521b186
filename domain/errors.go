package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionExists           = errors.New("session already exists")
	ErrExhaustedIDSpace        = errors.New("could not generate a free session identifier")
	ErrStatusConflict          = errors.New("session status conflict")
	ErrInvalidTransition       = errors.New("invalid session status transition")
	ErrReservationConflict     = errors.New("a reserved session already exists for this identity and provider")
	ErrConcurrentUpdate        = errors.New("session was modified concurrently")
	ErrSessionAlreadySubmitted = errors.New("session already submitted")
	ErrForbidden               = errors.New("caller does not own this session")
	ErrLinkExpired             = errors.New("authorization link expired or already used")
	ErrUnknownStatus           = errors.New("unknown session status")
	ErrUnknownField            = errors.New("unknown session field")
	ErrUserNotFound            = errors.New("user not found")
	ErrDirectoryReadOnly       = errors.New("user directory is read-only")
)

// StoreError reports a failure of the session store backend. It is never
// retried by the store itself.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// StatusConflictError is returned when a compare-and-set on the status did
// not find one of the expected values.
type StatusConflictError struct {
	SessionID string
	Observed  SessionStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("session %s is %q", e.SessionID, e.Observed)
}

func (e *StatusConflictError) Is(target error) bool { return target == ErrStatusConflict }

// UnknownFieldError names a field GetFields does not know.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown session field %q", e.Field)
}

func (e *UnknownFieldError) Is(target error) bool { return target == ErrUnknownField }
