package client

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrProtocol marks a realtime message that could not be decoded.
	ErrProtocol = errors.New("malformed realtime message")
	// ErrFeedDisabled is returned when the backend turns the advisor feed off.
	ErrFeedDisabled = errors.New("advisor feed disabled")
)

// Failure reasons reported on retry exhaustion.
const (
	ReasonNetwork = "network_or_timeout"
)

// StatusError is a single non-success HTTP response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http_%d", e.Status)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.Status)
}

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

// ValidationError is a 422 answer carrying field errors by group. It is
// never retried.
type ValidationError struct {
	Errors map[string]map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for group, fields := range e.Errors {
		for field, msg := range fields {
			parts = append(parts, group+"."+field+": "+msg)
		}
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// TransientError is returned once every attempt failed with a retryable
// error.
type TransientError struct {
	Attempts int
	Reason   string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s after %d attempts", e.Reason, e.Attempts)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure that retrying cannot fix.
type PermanentError struct {
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("permanent failure http_%d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("permanent failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ProtocolError wraps a realtime decoding failure. It is advisory: the
// connection stays up.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %v", ErrProtocol, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// FailureReason returns the short reason string reported in client events.
func FailureReason(err error) string {
	var te *TransientError
	if errors.As(err, &te) {
		return te.Reason
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Error()
	}
	var pe *PermanentError
	if errors.As(err, &pe) && pe.Status != 0 {
		return fmt.Sprintf("http_%d", pe.Status)
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "http_422"
	}
	return ReasonNetwork
}
