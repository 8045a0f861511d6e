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
	"testing"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport timeout retryable", err: ErrTransportTimeout, want: true},
		{name: "transport read retryable", err: ErrTransportRead, want: true},
		{name: "device not found retryable", err: ErrDeviceNotFound, want: true},
		{name: "framing violation not retryable", err: ErrUnknownPacketKind, want: false},
		{name: "element failure not retryable", err: ErrElementUnavailable, want: false},
		{
			name: "transport error retryable=true",
			err:  &TransportError{Err: errors.New("test error"), Op: "open", Port: "/dev/ttyACM0", Type: ErrorTypeTransient, Retryable: true},
			want: true,
		},
		{
			name: "transport error retryable=false",
			err:  &TransportError{Err: ErrTransportTimeout, Op: "read", Port: "/dev/ttyACM0", Type: ErrorTypeTimeout, Retryable: false},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want ErrorType
	}{
		{name: "nil error", err: nil, want: ErrorTypePermanent},
		{name: "transport timeout", err: ErrTransportTimeout, want: ErrorTypeTimeout},
		{name: "transport write", err: ErrTransportWrite, want: ErrorTypeTransient},
		{name: "wrapped short write", err: fmt.Errorf("send: %w", ErrShortWrite), want: ErrorTypeFatal},
		{
			name: "framing error",
			err:  &FramingError{Op: "read header", Kind: 0x02, Err: ErrUnknownPacketKind},
			want: ErrorTypeFatal,
		},
		{
			name: "wrapped framing error",
			err:  fmt.Errorf("serve: %w", &FramingError{Op: "read header", Length: 1000, Err: ErrPayloadTooLarge}),
			want: ErrorTypeFatal,
		},
		{
			name: "transport error type wins",
			err:  NewTransportError("open", "/dev/ttyACM0", ErrDeviceNotFound, ErrorTypePermanent),
			want: ErrorTypePermanent,
		},
		{name: "unknown error", err: errors.New("unknown error"), want: ErrorTypePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := GetErrorType(tt.err); got != tt.want {
				t.Errorf("GetErrorType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewTransportError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err           error
		name          string
		errType       ErrorType
		wantRetryable bool
	}{
		{name: "transient", err: ErrTransportRead, errType: ErrorTypeTransient, wantRetryable: true},
		{name: "timeout", err: ErrTransportTimeout, errType: ErrorTypeTimeout, wantRetryable: true},
		{name: "permanent", err: ErrDeviceNotFound, errType: ErrorTypePermanent, wantRetryable: false},
		{name: "fatal", err: ErrShortWrite, errType: ErrorTypeFatal, wantRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			te := NewTransportError("write", "/dev/ttyACM0", tt.err, tt.errType)
			if te.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", te.Retryable, tt.wantRetryable)
			}
			if !errors.Is(te, tt.err) {
				t.Errorf("errors.Is(%v, %v) = false", te, tt.err)
			}
			if want := "write on /dev/ttyACM0: " + tt.err.Error(); te.Error() != want {
				t.Errorf("Error() = %q, want %q", te.Error(), want)
			}
		})
	}
}

func TestFramingError_Message(t *testing.T) {
	t.Parallel()
	err := &FramingError{Op: "read header", Kind: 0x02, Length: 4, Err: ErrUnknownPacketKind}
	want := "read header: unknown packet kind (kind=0x02 length=4)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false for a framing error")
	}
}
