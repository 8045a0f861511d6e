// go-sebridge
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-sebridge.
//
// go-sebridge is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-sebridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-sebridge; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package sebridge

import (
	"errors"
	"fmt"
)

// Framing errors. A framing violation is unrecoverable for the connection:
// the byte stream offers no way to find the next packet boundary.
var (
	ErrUnknownPacketKind = errors.New("unknown packet kind")
	ErrPayloadTooLarge   = errors.New("packet payload too large")
	ErrShortWrite        = errors.New("short write on transport")
)

// Transport errors
var (
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportClosed  = errors.New("transport closed")
	ErrDeviceNotFound   = errors.New("device not found")
)

// Secure element errors. These never leave the Session: they are folded into
// status words before a reply is sent.
var (
	ErrElementUnavailable = errors.New("secure element unavailable")
	ErrNotConnected       = errors.New("secure element session not connected")
	ErrResponseTooShort   = errors.New("secure element response shorter than status word")
	ErrResponseTooLarge   = errors.New("secure element response exceeds payload capacity")
)

// Host side errors
var (
	ErrCardUnavailable  = errors.New("card unavailable")
	ErrUnexpectedReply  = errors.New("unexpected reply kind")
	ErrMalformedReply   = errors.New("malformed reply")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorType categorizes errors for recovery decisions
type ErrorType int

const (
	// ErrorTypeTransient indicates a temporary error that may succeed on retry
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a permanent error that won't succeed on retry
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
	// ErrorTypeFatal indicates the connection can no longer be used
	ErrorTypeFatal
)

// String returns the error type name
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// FramingError reports a packet that violates the wire protocol.
type FramingError struct {
	Err    error
	Op     string
	Length int
	Kind   byte
}

// Error implements the error interface
func (e *FramingError) Error() string {
	return fmt.Sprintf("%s: %v (kind=0x%02X length=%d)", e.Op, e.Err, e.Kind, e.Length)
}

// Unwrap returns the underlying sentinel error
func (e *FramingError) Unwrap() error {
	return e.Err
}

// TransportError provides detailed information about transport failures
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new transport error
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a retryable timeout error
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch err {
	case ErrTransportTimeout, ErrTransportRead, ErrTransportWrite, ErrDeviceNotFound:
		return true
	default:
		return false
	}
}

// GetErrorType returns the error type for categorization
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var fe *FramingError
	if errors.As(err, &fe) {
		return ErrorTypeFatal
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}

	switch {
	case errors.Is(err, ErrShortWrite):
		return ErrorTypeFatal
	case errors.Is(err, ErrTransportTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrTransportRead), errors.Is(err, ErrTransportWrite), errors.Is(err, ErrDeviceNotFound):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}

// IsFatal reports whether err leaves the host link unusable. Framing
// violations and short writes are fatal; there is no resynchronization.
func IsFatal(err error) bool {
	return err != nil && GetErrorType(err) == ErrorTypeFatal
}
