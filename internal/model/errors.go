package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to the conversation level.
type ErrorKind string

const (
	// KindInvalidInput is a caller error; never retried.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindServiceUnavailable is transient overload that outlived the retry policy.
	KindServiceUnavailable ErrorKind = "service_unavailable"
	// KindRequestRejected is a non-retryable backend status other than 400.
	KindRequestRejected ErrorKind = "request_rejected"
	// KindMalformedResponse is a backend payload that could not be decoded.
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindSubmissionFailed means the job-creation call itself failed.
	KindSubmissionFailed ErrorKind = "submission_failed"
	// KindJobFailed means the backend reported ERROR for the job.
	KindJobFailed ErrorKind = "job_failed"
	// KindJobTimedOut means the poll ceiling was reached without a terminal status.
	KindJobTimedOut ErrorKind = "job_timed_out"
	// KindNotFound means a conversation, message or artifact does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindSubmissionPending means the conversation already has a job in flight.
	KindSubmissionPending ErrorKind = "submission_pending"
)

// Error is a classified failure. Op names the operation that failed,
// Status is the backend HTTP status when there was one and Reason is the
// human-readable cause (backend-supplied where available).
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrJobTimedOut)
// works regardless of Op, Status or Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrRequestRejected    = &Error{Kind: KindRequestRejected}
	ErrMalformedResponse  = &Error{Kind: KindMalformedResponse}
	ErrSubmissionFailed   = &Error{Kind: KindSubmissionFailed}
	ErrJobFailed          = &Error{Kind: KindJobFailed}
	ErrJobTimedOut        = &Error{Kind: KindJobTimedOut}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrSubmissionPending  = &Error{Kind: KindSubmissionPending}
)

// NewError builds a classified error.
func NewError(kind ErrorKind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// InvalidInput builds a validation failure.
func InvalidInput(op, reason string) *Error {
	return NewError(KindInvalidInput, op, reason)
}

// NotFound builds a lookup failure.
func NotFound(op, reason string) *Error {
	return NewError(KindNotFound, op, reason)
}

// Malformed builds a decode failure wrapping cause.
func Malformed(op string, cause error) *Error {
	return &Error{Kind: KindMalformedResponse, Op: op, Err: cause}
}

// KindOf returns the outermost classification of err, or "" when err
// carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Notice turns a failure into the line shown to the user.
func Notice(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		var e *Error
		if errors.As(err, &e) && e.Kind == KindInvalidInput && e.Reason != "" {
			return "Please fix your input: " + e.Reason
		}
		return "Please fix your input and try again."
	case errors.Is(err, ErrServiceUnavailable):
		return "The service is busy. Please try again shortly."
	case errors.Is(err, ErrSubmissionPending):
		return "Please wait for the current answer before asking again."
	case errors.Is(err, ErrJobFailed):
		var e *Error
		if errors.As(err, &e) && e.Reason != "" {
			return e.Reason
		}
		return "Job processing failed."
	case errors.Is(err, ErrJobTimedOut):
		return "No answer arrived in time. Please try again."
	case errors.Is(err, ErrNotFound):
		return "That item no longer exists."
	default:
		return "Failed to get a response. Please try again."
	}
}
