// Package errors defines the sentinel errors and the typed auth/storage
// failures shared by the broker, the storage gateway and the orchestrator.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Client errors.
var (
	ErrSignInRequired = errors.New("session expired, sign in again")
	ErrInvalidReport  = errors.New("invalid report")
	ErrReportNotFound = errors.New("report not found")
	ErrUnknownAction  = errors.New("unknown storage action")
)

// Server/configuration errors.
var (
	ErrNotConfigured = errors.New("service not configured")
	ErrAPIResponse   = errors.New("unexpected API response")
)

// AuthReason tags why a token operation failed.
type AuthReason string

const (
	AuthNetwork           AuthReason = "network"
	AuthUpstreamRejected  AuthReason = "upstream_rejected"
	AuthMalformedResponse AuthReason = "malformed_response"
	AuthNotConfigured     AuthReason = "not_configured"
)

// AuthError is returned by every token broker operation that fails.
type AuthError struct {
	Reason AuthReason
	Status int
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "auth " + string(e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// StorageKind classifies a storage gateway failure.
type StorageKind string

const (
	StorageNotFound          StorageKind = "not_found"
	StorageAlreadyExists     StorageKind = "already_exists"
	StorageUploadPhaseFailed StorageKind = "upload_phase_failed"
	StorageForbidden         StorageKind = "forbidden"
	StorageNetwork           StorageKind = "network"
	StorageRejected          StorageKind = "rejected"
	StorageMalformedResponse StorageKind = "malformed_response"
)

// UploadPhase names a step of the signed upload protocol.
type UploadPhase string

const (
	PhaseRequesting UploadPhase = "requesting"
	PhaseUploading  UploadPhase = "uploading"
	PhaseFinalizing UploadPhase = "finalizing"
	PhaseDone       UploadPhase = "done"
)

// StorageError is returned by every storage gateway operation that fails.
// Phase is only set when Kind is StorageUploadPhaseFailed.
type StorageError struct {
	Kind   StorageKind
	Phase  UploadPhase
	Status int
	Detail string
	Err    error
}

func (e *StorageError) Error() string {
	msg := "storage " + string(e.Kind)
	if e.Phase != "" {
		msg += "(" + string(e.Phase) + ")"
	}

	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

// StorageKindForStatus maps an upstream HTTP status to a storage kind.
func StorageKindForStatus(status int) StorageKind {
	switch status {
	case http.StatusNotFound:
		return StorageNotFound
	case http.StatusConflict:
		return StorageAlreadyExists
	case http.StatusUnauthorized, http.StatusForbidden:
		return StorageForbidden
	}

	return StorageRejected
}

// IsAuth reports whether err carries an AuthError or requires a new sign-in.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) || errors.Is(err, ErrSignInRequired)
}

// IsNotFound reports whether err is a storage not-found or a missing report.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrReportNotFound) {
		return true
	}

	var se *StorageError
	if errors.As(err, &se) {
		if se.Kind == StorageNotFound {
			return true
		}
		// A phase failure wraps the cause; not-found inside it counts.
		return se.Err != nil && IsNotFound(se.Err)
	}

	return false
}

// IsTransient reports whether err is worth retrying by restarting the
// whole operation: network failures, throttling and upstream 5xx.
func IsTransient(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason == AuthNetwork
	}

	var se *StorageError
	if !errors.As(err, &se) {
		return false
	}

	for se != nil {
		if se.Kind == StorageNetwork || isTransientStatus(se.Status) {
			return true
		}

		var inner *StorageError
		if se.Err == nil || !errors.As(se.Err, &inner) {
			return false
		}

		se = inner
	}

	return false
}

// IsUnauthorized reports whether storage refused the bearer token itself
// (401), anywhere in a chain of storage errors.
func IsUnauthorized(err error) bool {
	var se *StorageError
	if !errors.As(err, &se) {
		return false
	}

	for se != nil {
		if se.Status == http.StatusUnauthorized {
			return true
		}

		var inner *StorageError
		if se.Err == nil || !errors.As(se.Err, &inner) {
			return false
		}

		se = inner
	}

	return false
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
