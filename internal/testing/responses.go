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

package testing

// TestSE050ATR is the answer to reset of an SE050 in T=1 over I2C mode
var TestSE050ATR = []byte{
	0x00, 0xA0, 0x00, 0x00, 0x03, 0x96, 0x04, 0x03, 0xE8, 0x00, 0xFE, 0x02, 0x0B, 0x03, 0xE8, 0x08,
	0x01, 0x00, 0x00, 0x00, 0x00, 0x64, 0x00, 0x00, 0x0A, 0x4A, 0x43, 0x4F, 0x50, 0x34, 0x20, 0x41,
	0x54, 0x50, 0x4F,
}

// TestContactATR is a contact card ATR as reported by PC/SC readers
var TestContactATR = []byte{0x3B, 0x8A, 0x80, 0x01, 0x80, 0x31, 0xF8, 0x73, 0xF7, 0x41, 0xE0, 0x82, 0x90, 0x00, 0x75}

// BuildSuccessResponse appends 90 00 to data
func BuildSuccessResponse(data []byte) []byte {
	resp := make([]byte, 0, len(data)+2)
	resp = append(resp, data...)
	return append(resp, 0x90, 0x00)
}

// BuildErrorResponse returns a bare status word
func BuildErrorResponse(sw1, sw2 byte) []byte {
	return []byte{sw1, sw2}
}

// BuildSelectCommand builds SELECT by AID with Le=00
func BuildSelectCommand(aid []byte) []byte {
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	return append(cmd, 0x00)
}

// BuildPatternResponse returns n data bytes counting from 0 followed by 90 00
func BuildPatternResponse(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return BuildSuccessResponse(data)
}
