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

package apdu

import (
	"errors"
	"fmt"
)

// Instruction bytes handled by the simulated element and named in traces
const (
	InsSelect       = 0xA4
	InsReadBinary   = 0xB0
	InsUpdateBinary = 0xD6
	InsGetResponse  = 0xC0
	InsGetData      = 0xCA
)

var (
	// ErrCommandTooShort is returned for commands without a full header
	ErrCommandTooShort = errors.New("command APDU shorter than header")
	// ErrInvalidLength is returned when Lc/Le do not match the command length
	ErrInvalidLength = errors.New("command APDU length fields inconsistent")
)

// Command is a decoded command APDU (C-APDU).
type Command struct {
	Data  []byte
	Ne    int // Expected response length, 0 when absent
	CLA   byte
	INS   byte
	P1    byte
	P2    byte
	HasLe bool
}

// ParseCommand decodes raw into a Command, accepting the four ISO 7816-3
// cases in short and extended length form. Data aliases raw.
func ParseCommand(raw []byte) (*Command, error) {
	if len(raw) < 4 {
		return nil, ErrCommandTooShort
	}
	cmd := &Command{CLA: raw[0], INS: raw[1], P1: raw[2], P2: raw[3]}
	body := raw[4:]

	switch {
	case len(body) == 0:
		// Case 1
		return cmd, nil
	case len(body) == 1:
		// Case 2 short
		cmd.setNe(int(body[0]), 256)
		return cmd, nil
	case body[0] != 0x00 || len(body) < 3:
		return cmd.parseShort(body)
	default:
		return cmd.parseExtended(body)
	}
}

func (c *Command) parseShort(body []byte) (*Command, error) {
	lc := int(body[0])
	switch len(body) {
	case 1 + lc:
		c.Data = body[1:]
	case 2 + lc:
		c.Data = body[1 : 1+lc]
		c.setNe(int(body[1+lc]), 256)
	default:
		return nil, fmt.Errorf("%w: Lc=%d body=%d", ErrInvalidLength, lc, len(body))
	}
	return c, nil
}

func (c *Command) parseExtended(body []byte) (*Command, error) {
	n := int(body[1])<<8 | int(body[2])
	if len(body) == 3 {
		// Case 2 extended
		c.setNe(n, 65536)
		return c, nil
	}
	switch len(body) {
	case 3 + n:
		c.Data = body[3:]
	case 5 + n:
		c.Data = body[3 : 3+n]
		c.setNe(int(body[3+n])<<8|int(body[4+n]), 65536)
	default:
		return nil, fmt.Errorf("%w: extended Lc=%d body=%d", ErrInvalidLength, n, len(body))
	}
	return c, nil
}

func (c *Command) setNe(le, zeroMeans int) {
	c.HasLe = true
	if le == 0 {
		c.Ne = zeroMeans
		return
	}
	c.Ne = le
}

// Bytes encodes the command in short form when possible, extended otherwise.
func (c *Command) Bytes() []byte {
	out := []byte{c.CLA, c.INS, c.P1, c.P2}
	nc := len(c.Data)
	extended := nc > 255 || c.Ne > 256

	if nc > 0 {
		if extended {
			out = append(out, 0x00, byte(nc>>8), byte(nc))
		} else {
			out = append(out, byte(nc))
		}
		out = append(out, c.Data...)
	}

	if c.HasLe {
		switch {
		case !extended:
			out = append(out, byte(c.Ne)) // 256 encodes as 0x00
		case nc == 0:
			out = append(out, 0x00, byte(c.Ne>>8), byte(c.Ne))
		default:
			out = append(out, byte(c.Ne>>8), byte(c.Ne))
		}
	}
	return out
}

// String returns a short description for traces
func (c *Command) String() string {
	return fmt.Sprintf("CLA=%02X INS=%02X(%s) P1=%02X P2=%02X Lc=%d Le=%d",
		c.CLA, c.INS, InstructionName(c.INS), c.P1, c.P2, len(c.Data), c.Ne)
}

// InstructionName returns a readable name for common instruction bytes
func InstructionName(ins byte) string {
	switch ins {
	case InsSelect:
		return "SELECT"
	case InsReadBinary:
		return "READ BINARY"
	case InsUpdateBinary:
		return "UPDATE BINARY"
	case InsGetResponse:
		return "GET RESPONSE"
	case InsGetData:
		return "GET DATA"
	default:
		return "UNKNOWN"
	}
}
