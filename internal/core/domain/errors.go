package domain

import (
	"errors"
	"fmt"
)

// ConnectionShutdownError fails every request that was pending on a
// connection when it went away, and every dispatch attempted against a
// connection that is not ready. BeforeWrite marks the latter: the request
// never reached a socket, so even a non-idempotent statement is safe to
// retry.
type ConnectionShutdownError struct {
	Host        string
	Request     string
	BeforeWrite bool
}

func (e *ConnectionShutdownError) Error() string {
	target := "connection closed"
	if e.Host != "" {
		target = fmt.Sprintf("connection to %s closed", e.Host)
	}
	if e.Request == "" {
		return target
	}
	return fmt.Sprintf("%s (%s)", target, e.Request)
}

// RequestTimeoutError fires when an attempt's timer lapses before any
// response arrives.
type RequestTimeoutError struct {
	Request string
}

func (e *RequestTimeoutError) Error() string {
	if e.Request == "" {
		return "request timeout"
	}
	return fmt.Sprintf("request timeout (%s)", e.Request)
}

// StartupError reports a handshake the server rejected.
type StartupError struct {
	Host   string
	Reason string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup rejected by %s: %s", e.Host, e.Reason)
}

// ValidationError reports a bad Cluster or Execute argument.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func NewValidationError(field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// AnnotateError stamps the request's retry history onto the errors the
// pool surfaces, so operators can see how many attempts were burned.
func AnnotateError(err error, request string) error {
	var shutdown *ConnectionShutdownError
	if errors.As(err, &shutdown) {
		shutdown.Request = request
		return shutdown
	}
	var timeout *RequestTimeoutError
	if errors.As(err, &timeout) {
		timeout.Request = request
		return timeout
	}
	return err
}

// RetryableBeforeWrite reports whether err proves the attempt never made
// it onto a socket, which makes a retry safe regardless of idempotency.
func RetryableBeforeWrite(err error) bool {
	var shutdown *ConnectionShutdownError
	return errors.As(err, &shutdown) && shutdown.BeforeWrite
}
