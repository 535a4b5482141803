// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

var (
	// ErrNoSession is returned before any request when the session carries no user id.
	ErrNoSession = errors.New("no active session: user id is required")

	ErrReconcilerDisabled = errors.New("reconciler is disabled (set AutoReconcile to enable)")
	ErrReconcilerRunning  = errors.New("reconciler is already running")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Code       string // ErrorResponse.error when the body was structured
	Message    string // ErrorResponse.message when the body was structured
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	default:
		return fmt.Sprintf("Request failed (%d)", e.StatusCode)
	}
}

// TransportKind classifies a request that never produced an HTTP response.
type TransportKind string

const (
	TransportTimeout TransportKind = "timeout"
	TransportNetwork TransportKind = "network"
)

// TransportError wraps timeouts and connection failures.
type TransportError struct {
	Kind   TransportKind
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Kind == TransportTimeout {
		return fmt.Sprintf("%s %s timed out: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed: network error: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the request hit a deadline.
func (e *TransportError) Timeout() bool { return e.Kind == TransportTimeout }

func classifyTransport(method, path string, err error) *TransportError {
	kind := TransportNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = TransportTimeout
	}
	return &TransportError{Kind: kind, Method: method, Path: path, Err: err}
}

// FallbackError is returned only when a save failed remotely and the local
// fallback write failed too.
type FallbackError struct {
	Cause    error // why the remote save failed
	WriteErr error // why the local write failed
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("save failed (%v) and saving locally also failed (%v)", e.Cause, e.WriteErr)
}

func (e *FallbackError) Unwrap() []error { return []error{e.Cause, e.WriteErr} }

// ValidationError reports a submission rejected before it was sent.
type ValidationError struct {
	Fields reviewq.FieldErrors
}

func (e *ValidationError) Error() string { return e.Fields.Error() }

func (e *ValidationError) Unwrap() error { return e.Fields }
