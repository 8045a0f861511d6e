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

// Package apdu provides ISO 7816-4 command and response helpers used by the
// bridge, its drivers and the host side tools.
package apdu

import "fmt"

// StatusWord is the two byte SW1-SW2 trailer of a response APDU.
type StatusWord uint16

// Status words used by the bridge and its drivers
const (
	SWNoError                    StatusWord = 0x9000
	SWEndOfFile                  StatusWord = 0x6282
	SWWrongLength                StatusWord = 0x6700
	SWSecurityStatusNotSatisfied StatusWord = 0x6982
	SWConditionsNotSatisfied     StatusWord = 0x6985
	SWCommandNotAllowed          StatusWord = 0x6986
	SWWrongData                  StatusWord = 0x6A80
	SWFileNotFound               StatusWord = 0x6A82
	SWIncorrectP1P2              StatusWord = 0x6A86
	SWWrongP1P2                  StatusWord = 0x6B00
	SWInsNotSupported            StatusWord = 0x6D00
	SWClaNotSupported            StatusWord = 0x6E00
	SWUnknown                    StatusWord = 0x6F00
)

var statusWordNames = map[StatusWord]string{
	SWNoError:                    "No error",
	SWEndOfFile:                  "End of file reached before reading Ne bytes",
	SWWrongLength:                "Wrong length",
	SWSecurityStatusNotSatisfied: "Security status not satisfied",
	SWConditionsNotSatisfied:     "Conditions of use not satisfied",
	SWCommandNotAllowed:          "Command not allowed (no current EF)",
	SWWrongData:                  "Incorrect parameters in the data field",
	SWFileNotFound:               "File or application not found",
	SWIncorrectP1P2:              "Incorrect parameters P1-P2",
	SWWrongP1P2:                  "Wrong parameters P1-P2",
	SWInsNotSupported:            "Instruction code not supported or invalid",
	SWClaNotSupported:            "Class not supported",
	SWUnknown:                    "No precise diagnosis",
}

// NewStatusWord creates a StatusWord from its two bytes
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the high byte
func (sw StatusWord) SW1() byte {
	return byte(sw >> 8)
}

// SW2 returns the low byte
func (sw StatusWord) SW2() byte {
	return byte(sw)
}

// Bytes returns the big-endian wire form
func (sw StatusWord) Bytes() []byte {
	return []byte{sw.SW1(), sw.SW2()}
}

// IsSuccess returns true for 9000 and 61XX (response bytes still available)
func (sw StatusWord) IsSuccess() bool {
	return sw == SWNoError || sw.SW1() == 0x61
}

// String returns the hex form, e.g. "6982"
func (sw StatusWord) String() string {
	return fmt.Sprintf("%04X", uint16(sw))
}

// Verbose returns a human readable description of the status word
func (sw StatusWord) Verbose() string {
	switch sw.SW1() {
	case 0x61:
		return fmt.Sprintf("[%s] Process completed, %d bytes available", sw, sw.SW2())
	case 0x6C:
		return fmt.Sprintf("[%s] Wrong length, correct Le is %d", sw, sw.SW2())
	}
	if sw.SW1() == 0x63 && sw.SW2()&0xF0 == 0xC0 {
		return fmt.Sprintf("[%s] Warning: counter = %d", sw, sw.SW2()&0x0F)
	}
	if name, ok := statusWordNames[sw]; ok {
		return fmt.Sprintf("[%s] %s", sw, name)
	}
	return fmt.Sprintf("[%s] %s", sw, sw.category())
}

func (sw StatusWord) category() string {
	switch sw.SW1() {
	case 0x62, 0x63:
		return "Warning"
	case 0x64, 0x65, 0x66:
		return "Execution error"
	case 0x67, 0x68, 0x69, 0x6A, 0x6B, 0x6D, 0x6E, 0x6F:
		return "Checking error"
	default:
		return "Unknown status"
	}
}
