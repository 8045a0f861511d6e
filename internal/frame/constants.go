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

// Package frame provides wire layout and protocol constants for the host link
// and the checksum used on the secure element link.
package frame

// Host link packet kinds
const (
	KindWaitForCard     = 0x00 // Card presence / session (re)establishment
	KindAPDUData        = 0x01 // APDU exchange, or delay when payload[0] == DelayMarker
	KindCloseConnection = 0x03 // Logical session release
)

// Header layout
const (
	HeaderLength = 4 // kind + reserved + length (uint16 big-endian)
	KindOffset   = 0
	ReservedByte = 0x00 // Always sent as zero, ignored on receive
	LengthOffset = 2
)

// Size limits
const (
	MaxPayload = 900 // Maximum payload carried by a single packet
)

// DelayMarker prefixes an APDUData payload that requests a host-controlled
// delay instead of a secure element command.
const DelayMarker = 0xFF

// StatusOK returns the 90 00 status word synthesized by the bridge
func StatusOK() []byte {
	return []byte{0x90, 0x00}
}

// StatusUnavailable returns the 69 82 status word the bridge reports when the
// secure element operation failed
func StatusUnavailable() []byte {
	return []byte{0x69, 0x82}
}

// ValidKind reports whether kind is one of the three tags carried on the wire.
func ValidKind(kind byte) bool {
	switch kind {
	case KindWaitForCard, KindAPDUData, KindCloseConnection:
		return true
	default:
		return false
	}
}

// PutHeader writes a packet header into hdr, which must hold HeaderLength bytes.
func PutHeader(hdr []byte, kind byte, length int) {
	hdr[KindOffset] = kind
	hdr[1] = ReservedByte
	hdr[LengthOffset] = byte(length >> 8)
	hdr[LengthOffset+1] = byte(length)
}

// ParseHeader extracts kind and length from a HeaderLength byte header.
// The reserved byte is ignored.
func ParseHeader(hdr []byte) (kind byte, length int) {
	return hdr[KindOffset], int(hdr[LengthOffset])<<8 | int(hdr[LengthOffset+1])
}
