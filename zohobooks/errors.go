package zohobooks

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is matched by every *AlreadyRunningError via errors.Is.
var ErrAlreadyRunning = errors.New("sync already running")

// AuthError means the token endpoint could not produce an access token.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("zoho token refresh failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("zoho token refresh failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ApiError is a failed Zoho Books API call. Status is 0 for transport failures
// (timeouts, connection resets); Timeout reports whether the deadline was hit.
type ApiError struct {
	Method  string
	Path    string
	Status  int
	Body    string
	Timeout bool
	Err     error
}

func (e *ApiError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("zoho %s %s failed: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("zoho %s %s failed with status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *ApiError) Unwrap() error { return e.Err }

// AlreadyRunningError rejects a sync attempt while the module's cursor is held.
type AlreadyRunningError struct {
	Module string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s sync already running", e.Module)
}

func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// WriteError is a single record that could not be upserted.
type WriteError struct {
	Module     string
	NaturalKey string
	Code       string
	Err        error
}

func (e *WriteError) Error() string {
	if e.NaturalKey == "" {
		return fmt.Sprintf("%s record (%s): %v", e.Module, e.Code, e.Err)
	}
	return fmt.Sprintf("%s record %s (%s): %v", e.Module, e.NaturalKey, e.Code, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

const (
	writeErrMissingKey = "missing_key"
	writeErrStorage    = "storage"
)
