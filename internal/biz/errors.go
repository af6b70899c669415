package biz

import (
	"errors"
	"fmt"
	"time"
)

// TransientCallError is a failure worth retrying: transport errors, timeouts,
// 5xx/408 and configured transient statuses. It counts against the breaker.
type TransientCallError struct {
	Service    string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransientCallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient failure calling %s: status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("transient failure calling %s: %v", e.Service, e.Err)
}

func (e *TransientCallError) Unwrap() error { return e.Err }

// BusinessError is a definitive rejection by the downstream service (4xx other
// than 408 or configured transient statuses). Never retried, never counted.
type BusinessError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *BusinessError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s rejected the request: status %d: %s", e.Service, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s rejected the request: status %d", e.Service, e.StatusCode)
}

// CircuitOpenError is returned without any network attempt while a breaker is open.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Service, e.RetryAfter.Round(time.Millisecond))
}

// MalformedEventError marks a broker payload that can never be processed.
// Consumers acknowledge such messages without touching the ledger.
type MalformedEventError struct {
	Subject string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Subject, e.Reason)
}

// IsTransient reports whether err is a TransientCallError.
func IsTransient(err error) bool {
	var target *TransientCallError
	return errors.As(err, &target)
}

// IsBusiness reports whether err is a BusinessError.
func IsBusiness(err error) bool {
	var target *BusinessError
	return errors.As(err, &target)
}

// IsCircuitOpen reports whether err is a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// IsUnreachable reports whether the downstream could not be reached at all,
// as opposed to having answered with a rejection.
func IsUnreachable(err error) bool {
	return IsTransient(err) || IsCircuitOpen(err)
}

// IsMalformed reports whether err is a MalformedEventError.
func IsMalformed(err error) bool {
	var target *MalformedEventError
	return errors.As(err, &target)
}
