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
	"io"

	"github.com/ZaparooProject/go-sebridge/internal/frame"
)

// ReadPacket blocks until a full header and payload have been read from r
// and stores them in p. Short reads are retried until the requested count is
// satisfied. An unknown kind or an oversized length is returned as a
// *FramingError and p is left untouched; the stream cannot be resynchronized
// afterwards.
func ReadPacket(r io.Reader, p *Packet) error {
	var hdr [frame.HeaderLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return readError("read header", err)
	}

	kind, length := frame.ParseHeader(hdr[:])
	if !frame.ValidKind(kind) {
		return &FramingError{Op: "read header", Kind: kind, Length: length, Err: ErrUnknownPacketKind}
	}
	if length > MaxPayload {
		return &FramingError{Op: "read header", Kind: kind, Length: length, Err: ErrPayloadTooLarge}
	}

	var payload [MaxPayload]byte
	if _, err := io.ReadFull(r, payload[:length]); err != nil {
		return readError("read payload", err)
	}

	p.Kind = Kind(kind)
	p.length = uint16(copy(p.buf[:], payload[:length]))
	return nil
}

// WritePacket writes the header and then the payload of p to w, in two
// writes. A short write is not re-driven and is reported as ErrShortWrite.
func WritePacket(w io.Writer, p *Packet) error {
	if !p.Kind.Valid() {
		return &FramingError{Op: "write header", Kind: byte(p.Kind), Length: p.Len(), Err: ErrUnknownPacketKind}
	}

	var hdr [frame.HeaderLength]byte
	frame.PutHeader(hdr[:], byte(p.Kind), p.Len())
	if err := writeFull(w, hdr[:], "write header"); err != nil {
		return err
	}
	if p.Len() == 0 {
		return nil
	}
	return writeFull(w, p.Payload(), "write payload")
}

func writeFull(w io.Writer, b []byte, op string) error {
	n, err := w.Write(b)
	if err != nil {
		return NewTransportError(op, "", fmt.Errorf("%w: %w", ErrTransportWrite, err), ErrorTypeTransient)
	}
	if n != len(b) {
		return NewTransportError(op, "", fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(b)), ErrorTypeFatal)
	}
	return nil
}

func readError(op string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return NewTransportError(op, "", fmt.Errorf("%w: %w", ErrTransportClosed, err), ErrorTypePermanent)
	}
	return NewTransportError(op, "", fmt.Errorf("%w: %w", ErrTransportRead, err), ErrorTypeTransient)
}
