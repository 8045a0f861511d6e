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

package frame

// CRC16 computes the CRC-16/X.25 (ISO/IEC 13239) checksum used by the
// T=1 over I2C block protocol: reflected polynomial 0x8408, initial value
// 0xFFFF, final XOR 0xFFFF.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}

// AppendCRC16 appends the checksum of data, least significant byte first.
func AppendCRC16(data []byte) []byte {
	crc := CRC16(data)
	return append(data, byte(crc), byte(crc>>8))
}

// ValidateCRC16 reports whether the trailing two bytes of block are the
// checksum of the bytes preceding them.
func ValidateCRC16(block []byte) bool {
	if len(block) < 2 {
		return false
	}
	n := len(block) - 2
	crc := CRC16(block[:n])
	return block[n] == byte(crc) && block[n+1] == byte(crc>>8)
}
