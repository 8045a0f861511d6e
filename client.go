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
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-sebridge/apdu"
	"github.com/ZaparooProject/go-sebridge/internal/frame"
)

// Client speaks the host side of the framing protocol: it is what a smart
// card stack on the host uses to reach the bridge.
//
// Client is not safe for concurrent use.
type Client struct {
	rw  io.ReadWriter
	in  Packet
	out Packet
}

// NewClient creates a client over an open host link
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

// WaitForCard (re)establishes the secure element session and returns its
// ATR. ErrCardUnavailable is returned when the bridge reports 69 82.
func (c *Client) WaitForCard(ctx context.Context) ([]byte, error) {
	if err := c.roundTrip(ctx, KindWaitForCard, nil); err != nil {
		return nil, err
	}
	payload := c.in.Payload()
	if bytes.Equal(payload, frame.StatusUnavailable()) {
		return nil, ErrCardUnavailable
	}
	return append([]byte(nil), payload...), nil
}

// Transmit sends a command APDU and returns the response data and status word.
func (c *Client) Transmit(ctx context.Context, command []byte) ([]byte, apdu.StatusWord, error) {
	if len(command) == 0 {
		return nil, 0, fmt.Errorf("%w: empty command", ErrInvalidParameter)
	}
	if command[0] == frame.DelayMarker {
		return nil, 0, fmt.Errorf("%w: CLA 0xFF is reserved for delays", ErrInvalidParameter)
	}
	if err := c.roundTrip(ctx, KindAPDUData, command); err != nil {
		return nil, 0, err
	}
	resp, err := apdu.ParseResponse(c.in.Payload())
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	return append([]byte(nil), resp.Data...), resp.SW, nil
}

// Delay asks the bridge to pause for micros microseconds, truncated to whole
// milliseconds by the bridge. No reply is sent for a delay.
func (c *Client) Delay(ctx context.Context, micros uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := []byte{frame.DelayMarker, 0x00, byte(micros >> 8), byte(micros)}
	if err := c.out.Set(KindAPDUData, payload); err != nil {
		return err
	}
	return WritePacket(c.rw, &c.out)
}

// Close releases the logical session and returns the bridge status word.
func (c *Client) Close(ctx context.Context) (apdu.StatusWord, error) {
	if err := c.roundTrip(ctx, KindCloseConnection, nil); err != nil {
		return 0, err
	}
	payload := c.in.Payload()
	if len(payload) != 2 {
		return 0, fmt.Errorf("%w: close reply of %d bytes", ErrMalformedReply, len(payload))
	}
	return apdu.NewStatusWord(payload[0], payload[1]), nil
}

func (c *Client) roundTrip(ctx context.Context, kind Kind, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.out.Set(kind, payload); err != nil {
		return err
	}
	if err := WritePacket(c.rw, &c.out); err != nil {
		return err
	}
	if err := ReadPacket(c.rw, &c.in); err != nil {
		return err
	}
	if c.in.Kind != kind {
		return fmt.Errorf("%w: sent %s, got %s", ErrUnexpectedReply, kind, c.in.Kind)
	}
	return nil
}
