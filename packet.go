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
	"fmt"

	"github.com/ZaparooProject/go-sebridge/internal/frame"
)

// MaxPayload is the capacity of every packet and of the secure element
// command/response buffers.
const MaxPayload = frame.MaxPayload

// Kind is the packet type tag carried in the first header byte.
type Kind byte

const (
	// KindWaitForCard asks the bridge to (re)establish the secure element session.
	KindWaitForCard Kind = frame.KindWaitForCard
	// KindAPDUData carries a command APDU, or a delay request when the
	// payload starts with 0xFF.
	KindAPDUData Kind = frame.KindAPDUData
	// KindCloseConnection releases the logical session.
	KindCloseConnection Kind = frame.KindCloseConnection
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindWaitForCard:
		return "WaitForCard"
	case KindAPDUData:
		return "ApduData"
	case KindCloseConnection:
		return "CloseConnection"
	default:
		return fmt.Sprintf("Kind(0x%02X)", byte(k))
	}
}

// Valid reports whether k may appear on the wire.
func (k Kind) Valid() bool {
	return frame.ValidKind(byte(k))
}

// Packet is one framed protocol message. Its payload lives in a fixed
// MaxPayload buffer owned by the packet, so an inbound and an outbound packet
// never share storage.
type Packet struct {
	buf    [MaxPayload]byte
	length uint16
	Kind   Kind
}

// NewPacket creates a packet of the given kind holding a copy of payload.
func NewPacket(kind Kind, payload []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.Set(kind, payload); err != nil {
		return nil, err
	}
	return p, nil
}

// Len returns the payload length in bytes
func (p *Packet) Len() int {
	return int(p.length)
}

// Payload returns the payload. The slice aliases the packet buffer and is
// only valid until the packet is next modified.
func (p *Packet) Payload() []byte {
	return p.buf[:p.length]
}

// Set replaces kind and payload. The length check happens before any copy.
func (p *Packet) Set(kind Kind, payload []byte) error {
	if len(payload) > MaxPayload {
		return &FramingError{Op: "set payload", Kind: byte(kind), Length: len(payload), Err: ErrPayloadTooLarge}
	}
	p.Kind = kind
	p.length = uint16(copy(p.buf[:], payload))
	return nil
}

// Reset empties the packet without changing its kind
func (p *Packet) Reset() {
	p.length = 0
}

// appendPayload extends the payload in place. Callers guarantee capacity.
func (p *Packet) appendPayload(b ...byte) error {
	if int(p.length)+len(b) > MaxPayload {
		return &FramingError{Op: "append payload", Kind: byte(p.Kind), Length: int(p.length) + len(b), Err: ErrPayloadTooLarge}
	}
	p.length += uint16(copy(p.buf[p.length:], b))
	return nil
}

// String returns a short description for logs
func (p *Packet) String() string {
	return fmt.Sprintf("%s[%d] % X", p.Kind, p.length, p.Payload())
}
