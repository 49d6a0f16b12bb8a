package poller

import (
	"context"
	"errors"
	"time"

	"hwbot/internal/homework"
	"hwbot/internal/notifier"
	"hwbot/internal/statusapi"
)

// State is the loop's mutable state. Only the loop goroutine touches it.
type State struct {
	// Since is the unix-seconds watermark sent as from_date.
	Since int64
	// LastNotified is the last status message delivered.
	LastNotified string
	// LastError is the last error message attempted.
	LastError string
}

// Outcome labels a finished cycle.
type Outcome string

const (
	OutcomeNotified  Outcome = "notified"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIdle      Outcome = "idle"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// CycleReport describes one cycle. It is published on the event bus.
type CycleReport struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	// Since is the watermark the request used; Watermark is the value after
	// the cycle.
	Since     int64
	Watermark int64
	Outcome   Outcome
	Records   int
	Message   string

	Err           error
	FailureKind   string
	ErrorNotified bool

	Next time.Time
}

// ErrorPrefix starts every error notification.
const ErrorPrefix = "Program failure: "

// ErrorMessage renders the error notification for err.
func ErrorMessage(err error) string {
	return ErrorPrefix + err.Error()
}

// FailureKind maps err to a stable label for logs and reports.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, statusapi.ErrEndpoint):
		return "endpoint"
	case errors.Is(err, statusapi.ErrRequest):
		return "request"
	case errors.Is(err, homework.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, homework.ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, homework.ErrMissingField):
		return "missing_field"
	case errors.Is(err, homework.ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, notifier.ErrSendMessage):
		return "send_message"
	default:
		return "unknown"
	}
}
