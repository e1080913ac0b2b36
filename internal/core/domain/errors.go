package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no user is attached to a request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPendingMutations guards destructive operations on surveys with unsynced edits.
	ErrPendingMutations = errors.New("survey has unsynced mutations")
	// ErrMutationNotFailed is returned when retrying a mutation that is not Failed.
	ErrMutationNotFailed = errors.New("mutation is not failed")
	// ErrSyncNotScheduled reports an edit that was stored and queued locally
	// but whose background sync could not be requested.
	ErrSyncNotScheduled = errors.New("sync not scheduled")
)

// EncodeError reports a geometry that cannot be written to the wire format.
type EncodeError struct {
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode geometry: %s: %v", e.Reason, e.Err)
	}
	return "encode geometry: " + e.Reason
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports a wire value that does not describe a supported geometry.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode geometry: %s: %v", e.Reason, e.Err)
	}
	return "decode geometry: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StorageError wraps a local persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// SyncErrorKind classifies remote failures.
type SyncErrorKind string

const (
	SyncUnavailable      SyncErrorKind = "unavailable"
	SyncRateLimited      SyncErrorKind = "rate_limited"
	SyncQuotaExceeded    SyncErrorKind = "quota_exceeded"
	SyncUnauthenticated  SyncErrorKind = "unauthenticated"
	SyncPermissionDenied SyncErrorKind = "permission_denied"
	SyncInvalidPayload   SyncErrorKind = "invalid_payload"
)

// SyncError wraps a remote store failure.
type SyncError struct {
	Kind SyncErrorKind
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sync %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("sync %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call later may succeed.
func (e *SyncError) Transient() bool {
	switch e.Kind {
	case SyncUnavailable, SyncRateLimited, SyncQuotaExceeded:
		return true
	}
	return false
}

// NewSyncError builds a SyncError.
func NewSyncError(kind SyncErrorKind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// NotFoundError reports a missing survey or entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) *NotFoundError { return &NotFoundError{Kind: kind, ID: id} }

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTransient classifies an error raised while applying a mutation remotely.
// Codec failures, invalid geometries and permanent sync kinds are never
// retried. Unclassified errors are assumed to be network trouble.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var (
		se  *SyncError
		enc *EncodeError
		dec *DecodeError
	)
	switch {
	case errors.As(err, &se):
		return se.Transient()
	case errors.As(err, &enc), errors.As(err, &dec), errors.Is(err, ErrInvalidGeometry):
		return false
	case IsNotFound(err):
		return false
	}
	return true
}
