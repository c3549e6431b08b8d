// Package provider defines the uniform failure contract shared by every
// external-service adapter (text generation, speech recognition, speech
// synthesis).
//
// Adapter calls never surface raw transport errors to their callers. Every
// failure is wrapped in a [Fault] carrying one of four classes, so call sites
// can branch on the class instead of string-matching vendor errors:
//
//   - [FaultUnconfigured] — no credentials; the adapter was never usable and
//     no network call was attempted.
//   - [FaultTimeout] — the bounded call deadline elapsed.
//   - [FaultUnavailable] — the service could not be reached.
//   - [FaultBadResponse] — the service answered, but not with a usable result.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FaultClass classifies an adapter failure.
type FaultClass int

const (
	// FaultUnconfigured means the adapter has no credentials and performs no
	// network calls.
	FaultUnconfigured FaultClass = iota

	// FaultUnavailable means the service could not be reached.
	FaultUnavailable

	// FaultTimeout means the call deadline elapsed before a response arrived.
	FaultTimeout

	// FaultBadResponse means the service responded with something unusable
	// (wrong status, empty body, malformed payload).
	FaultBadResponse
)

// String returns the human-readable name of the fault class.
func (c FaultClass) String() string {
	switch c {
	case FaultUnconfigured:
		return "unconfigured"
	case FaultUnavailable:
		return "unavailable"
	case FaultTimeout:
		return "timeout"
	case FaultBadResponse:
		return "bad_response"
	default:
		return "unknown"
	}
}

// Fault is a classified adapter failure. It wraps the underlying error, if
// any, so callers can still use [errors.Is] / [errors.As] on the cause.
type Fault struct {
	// Class is the failure classification.
	Class FaultClass

	// Service names the adapter that failed (e.g. "textgen", "speech", "tts").
	Service string

	// Err is the underlying error. Nil for FaultUnconfigured.
	Err error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Service, f.Class)
	}
	return fmt.Sprintf("%s: %s: %v", f.Service, f.Class, f.Err)
}

// Unwrap returns the underlying error.
func (f *Fault) Unwrap() error { return f.Err }

// Unconfigured returns a [Fault] marking the named service as having no
// usable configuration.
func Unconfigured(service string) *Fault {
	return &Fault{Class: FaultUnconfigured, Service: service}
}

// Classify wraps err in a [Fault] for the named service, deriving the class
// from the error's shape. An err that is already a *Fault is returned as is.
func Classify(service string, err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}

	class := FaultBadResponse
	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err):
		class = FaultTimeout
	case isNetworkErr(err):
		class = FaultUnavailable
	}
	return &Fault{Class: class, Service: service, Err: err}
}

// ClassOf returns the fault class of err, or FaultBadResponse when err is not
// a *Fault.
func ClassOf(err error) FaultClass {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return FaultBadResponse
}

// isTimeoutErr reports whether err is a timeout according to the net.Error
// contract.
func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isNetworkErr reports whether err looks like a connectivity failure rather
// than a protocol-level problem.
func isNetworkErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
