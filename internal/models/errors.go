package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrNoJob is returned by Claim when no job is eligible
	ErrNoJob = errors.New("no eligible job")
	// ErrJobNotOwned is returned when a worker finishes a job it no longer holds
	ErrJobNotOwned = errors.New("job is held by another worker")
	// ErrProposalNotPending is returned when deciding an already decided proposal
	ErrProposalNotPending = errors.New("proposal is not pending")
	// ErrBatchExists is returned when staging a batch id that was already staged
	ErrBatchExists = errors.New("batch already exists")
	// ErrMalformedOutput marks a structured AI response that does not match its schema
	ErrMalformedOutput = errors.New("malformed structured output")
)

// FailureKind classifies ingestion failures
type FailureKind string

const (
	FailureNetwork    FailureKind = "network"     // transient, retry-eligible
	FailureBlocked    FailureKind = "blocked"     // policy decision, never retried
	FailureInvalidURL FailureKind = "invalid_url" // permanent
)

// FetchError is the typed failure of an Ingestor
type FetchError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetching %s (status %d): %v", e.Kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func NewNetworkError(url string, statusCode int, err error) *FetchError {
	return &FetchError{Kind: FailureNetwork, URL: url, StatusCode: statusCode, Err: err}
}

func NewBlockedError(url string, reason string) *FetchError {
	return &FetchError{Kind: FailureBlocked, URL: url, Err: errors.New(reason)}
}

func NewInvalidURLError(url string, err error) *FetchError {
	return &FetchError{Kind: FailureInvalidURL, URL: url, Err: err}
}

// FetchFailureKind returns the failure kind of err, or "" when err is not a FetchError
func FetchFailureKind(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// StatusError carries an HTTP status from an AI or search backend
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// ErrorClass decides whether the job layer retries a failure
type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify maps an error onto the retry taxonomy. Unknown errors are transient.
func Classify(err error) ErrorClass {
	var pe *permanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}

	switch FetchFailureKind(err) {
	case FailureBlocked, FailureInvalidURL:
		return ClassPermanent
	case FailureNetwork:
		return ClassTransient
	}

	if errors.Is(err, ErrMalformedOutput) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode == 429 || se.StatusCode >= 500 {
			return ClassTransient
		}
		if se.StatusCode >= 400 {
			return ClassPermanent
		}
	}

	return ClassTransient
}
