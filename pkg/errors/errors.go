// Unified error handling for the sensor hub driver
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Bus-level errors, possibly transient
	ErrTransport ErrorCode = "TRANSPORT"

	// Command channel errors
	ErrTimeout  ErrorCode = "TIMEOUT"
	ErrProtocol ErrorCode = "PROTOCOL"
	ErrHardFail ErrorCode = "HARD_ERROR"

	// Log replay errors
	ErrSizeMismatch ErrorCode = "SIZE_MISMATCH"
	ErrBadRecord    ErrorCode = "BAD_RECORD"

	// Hardware programming failed part way through a sequence
	ErrStateInconsistency ErrorCode = "STATE_INCONSISTENCY"

	// Configuration and argument errors
	ErrConfig   ErrorCode = "CONFIG"
	ErrArgument ErrorCode = "ARGUMENT"

	// Runtime errors
	ErrRuntime ErrorCode = "RUNTIME"
	ErrClosed  ErrorCode = "CLOSED"
)

// HubError is the unified error type for the hub driver
type HubError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Op is the command or operation that failed (if applicable)
	Op string

	// MCUCode is the error code reported by the MCU for PROTOCOL errors
	MCUCode uint16

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HubError) Error() string {
	msg := e.Message
	if e.Code == ErrProtocol {
		msg = fmt.Sprintf("%s (mcu code 0x%04x)", msg, e.MCUCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Op, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error
func (e *HubError) Unwrap() error {
	return e.Err
}

// SetOp sets the failing operation
func (e *HubError) SetOp(op string) *HubError {
	e.Op = op
	return e
}

// SetContext adds additional context
func (e *HubError) SetContext(key string, value interface{}) *HubError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HubError {
	return &HubError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HubError
func New(code ErrorCode, message string) *HubError {
	return &HubError{
		Code:    code,
		Message: message,
	}
}

// Command channel errors

// TransportError creates an error for a failed bus transfer
func TransportError(op string, err error) *HubError {
	return Wrap(err, ErrTransport, "bus transfer failed").SetOp(op)
}

// TimeoutError creates an error for a command that never completed
func TimeoutError(op string, after fmt.Stringer) *HubError {
	return New(ErrTimeout, fmt.Sprintf("no completion within %s", after)).SetOp(op)
}

// ProtocolError creates an error for a non-zero MCU error code
func ProtocolError(op string, code uint16) *HubError {
	e := New(ErrProtocol, "mcu rejected command").SetOp(op)
	e.MCUCode = code
	return e
}

// HardError creates an error for the MCU hard-error interrupt
func HardError(op string) *HubError {
	return New(ErrHardFail, "mcu signalled hard error").SetOp(op)
}

// Log replay errors

// SizeMismatchError creates an error for a log transfer handshake violation
func SizeMismatchError(requested, reported int) *HubError {
	return New(ErrSizeMismatch, fmt.Sprintf("requested %d bytes, mcu reported %d", requested, reported)).
		SetContext("requested", requested).
		SetContext("reported", reported)
}

// BadRecordError creates an error for an unparseable log record
func BadRecordError(offset int, reason string) *HubError {
	return New(ErrBadRecord, fmt.Sprintf("log record at offset %d: %s", offset, reason)).
		SetContext("offset", offset)
}

// StateError creates an error for a half-applied hardware programming step
func StateError(step string, err error) *HubError {
	return Wrap(err, ErrStateInconsistency, "hardware programming aborted").SetOp(step)
}

// ConfigError creates a configuration error
func ConfigError(message string) *HubError {
	return New(ErrConfig, message)
}

// ArgumentError creates an error for an invalid caller argument
func ArgumentError(message string) *HubError {
	return New(ErrArgument, message)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HubError {
	return New(ErrRuntime, message)
}

// FromPanic converts a recovered panic value to an error. It must be
// passed the result of recover() taken in the deferred function itself.
func FromPanic(r interface{}) *HubError {
	switch x := r.(type) {
	case nil:
		return nil
	case string:
		return RuntimeError(fmt.Sprintf("panic: %s", x))
	case runtime.Error:
		return RuntimeError(x.Error())
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if any error in the chain carries the given error code
func Is(err error, code ErrorCode) bool {
	var hubErr *HubError
	for err != nil {
		if stderrors.As(err, &hubErr) {
			if hubErr.Code == code {
				return true
			}
			err = hubErr.Err
			continue
		}
		return false
	}
	return false
}

// Code returns the code of the outermost HubError, or "" if none
func Code(err error) ErrorCode {
	var hubErr *HubError
	if stderrors.As(err, &hubErr) {
		return hubErr.Code
	}
	return ""
}

// MCUCode returns the MCU error code carried by a PROTOCOL error
func MCUCode(err error) (uint16, bool) {
	var hubErr *HubError
	for err != nil {
		if !stderrors.As(err, &hubErr) {
			return 0, false
		}
		if hubErr.Code == ErrProtocol {
			return hubErr.MCUCode, true
		}
		err = hubErr.Err
	}
	return 0, false
}

// IsCommandFailure checks if error came out of the command channel
func IsCommandFailure(err error) bool {
	return Is(err, ErrTransport) ||
		Is(err, ErrTimeout) ||
		Is(err, ErrProtocol) ||
		Is(err, ErrHardFail)
}
