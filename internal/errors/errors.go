// Package errors defines the typed errors shared by the client-side
// packages. All types support unwrapping with errors.Is and errors.As.
package errors

import (
	"errors"
	"fmt"
)

// SessionError is the base interface for all errors produced by the
// session adapter and its collaborators.
type SessionError interface {
	error
	IsSessionError() bool
}

// Compile-time verification that all error types implement SessionError.
var (
	_ SessionError = (*ProcessError)(nil)
	_ SessionError = (*ConnectionError)(nil)
	_ SessionError = (*JSONDecodeError)(nil)
	_ SessionError = (*RPCError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrNoResponse indicates the server closed stdout before writing a
	// response line.
	ErrNoResponse = errors.New("no response from server")

	// ErrSessionClosed indicates the adapter has been closed and cannot be
	// reused.
	ErrSessionClosed = errors.New("session adapter closed")

	// ErrRequestTimeout indicates a round trip exceeded its deadline.
	ErrRequestTimeout = errors.New("request timeout")
)

// ProcessError indicates the server process exited unexpectedly.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("server process exited (code %d): %s", e.ExitCode, e.Stderr)
	}

	return fmt.Sprintf("server process exited (code %d)", e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsSessionError implements SessionError.
func (e *ProcessError) IsSessionError() bool { return true }

// ConnectionError indicates failure to spawn or write to the server process.
type ConnectionError struct {
	Stage string // "spawn", "initialize", "initialized", "request"
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("server connection failed during %s: %v", e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsSessionError implements SessionError.
func (e *ConnectionError) IsSessionError() bool { return true }

// JSONDecodeError indicates a response line was not valid JSON.
// The raw line is preserved for diagnostics.
type JSONDecodeError struct {
	RawLine string
	Err     error
}

func (e *JSONDecodeError) Error() string {
	return fmt.Sprintf("invalid JSON response: %q", e.RawLine)
}

func (e *JSONDecodeError) Unwrap() error {
	return e.Err
}

// IsSessionError implements SessionError.
func (e *JSONDecodeError) IsSessionError() bool { return true }

// RPCError indicates the server returned a JSON-RPC error object.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
	}

	return e.Message
}

// IsSessionError implements SessionError.
func (e *RPCError) IsSessionError() bool { return true }
