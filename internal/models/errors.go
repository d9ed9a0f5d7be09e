package models

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies upstream API failures so callers can decide
// between backing off, retrying, and giving up.
type FetchErrorKind string

const (
	FetchRateLimited  FetchErrorKind = "rate_limited" // 429 — back off, the slot is not lost
	FetchUnauthorized FetchErrorKind = "unauthorized" // 403 — bad or expired key
	FetchTransient    FetchErrorKind = "transient"    // 5xx or network — retry with backoff
	FetchInvalid      FetchErrorKind = "invalid"      // Other 4xx — do not retry
)

// FetchError wraps an upstream API failure with its classification.
// WaitMS is set on budget denials so callers can hint when to retry.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Message    string
	Endpoint   string
	WaitMS     int64
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s error: %s (status: %d, endpoint: %s)", e.Kind, e.Message, e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("upstream %s error: %s (endpoint: %s)", e.Kind, e.Message, e.Endpoint)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to a FetchErrorKind.
// Only 403 counts as unauthorized; other 4xx responses, 401 included,
// are invalid requests that retrying would not fix.
func ClassifyStatus(status int) FetchErrorKind {
	switch {
	case status == 429:
		return FetchRateLimited
	case status == 403:
		return FetchUnauthorized
	case status >= 500:
		return FetchTransient
	default:
		return FetchInvalid
	}
}

// IsRateLimited reports whether err (or anything it wraps) is an upstream 429.
func IsRateLimited(err error) bool {
	return fetchKind(err) == FetchRateLimited
}

// IsUnauthorized reports whether err is a credential failure.
func IsUnauthorized(err error) bool {
	return fetchKind(err) == FetchUnauthorized
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return fetchKind(err) == FetchTransient
}

func fetchKind(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// StoreErrorKind classifies storage failures.
type StoreErrorKind string

const (
	StoreNotFound  StoreErrorKind = "not_found"
	StoreConflict  StoreErrorKind = "conflict"
	StoreTransient StoreErrorKind = "transient"
	StoreInvalid   StoreErrorKind = "invalid"
)

// StoreError wraps a storage failure with the operation and table it hit.
type StoreError struct {
	Kind  StoreErrorKind
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s: %s %s: %v", e.Kind, e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("store %s: %s %s", e.Kind, e.Op, e.Table)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a missing-row store error.
func IsNotFound(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == StoreNotFound
	}
	return false
}

// IsConflict reports whether err is a conditional write that matched no row.
func IsConflict(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == StoreConflict
	}
	return false
}
