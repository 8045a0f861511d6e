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
	"io"
)

// Transport is the byte stream linking the bridge to the host. Reads may be
// partial; the codec retries until a full header or payload is available.
type Transport interface {
	io.ReadWriter

	// Close closes the transport connection, unblocking pending reads
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// Syncer is implemented by transports that can wait until written data has
// left their output buffers.
type Syncer interface {
	Sync() error
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportQUIC represents a QUIC stream transport.
	TransportQUIC TransportType = "quic"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// syncTransport flushes t when it supports it
func syncTransport(t Transport) {
	if s, ok := t.(Syncer); ok {
		if err := s.Sync(); err != nil {
			debugf("transport sync failed: %v", err)
		}
	}
}
