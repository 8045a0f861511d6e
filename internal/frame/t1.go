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

import (
	"errors"
	"fmt"
)

// T=1 over I2C block layout: NAD, PCB, LEN, INF[LEN], CRC (LSB first).
const (
	T1HeaderLength = 3
	T1CRCLength    = 2
	T1MaxInf       = 254

	// NADHostToElement addresses blocks sent to the secure element
	NADHostToElement = 0x5A
	// NADElementToHost addresses blocks sent by the secure element
	NADElementToHost = 0xA5
)

// PCB values for S-blocks. Responses set bit 6 of the request value.
const (
	SBlockResync     = 0xC0
	SBlockIFS        = 0xC1
	SBlockAbort      = 0xC2
	SBlockWTX        = 0xC3
	SBlockEndSession = 0xC5
	SBlockChipReset  = 0xC6
	SBlockGetATR     = 0xC7
	SBlockSoftReset  = 0xCF

	SBlockResponse = 0x20
)

// R-block error codes
const (
	RBlockOK       = 0x00
	RBlockCRCError = 0x01
	RBlockOther    = 0x02
)

var (
	// ErrT1Checksum means the block CRC did not match
	ErrT1Checksum = errors.New("T=1 block checksum mismatch")
	// ErrT1Length means the LEN field disagrees with the data
	ErrT1Length = errors.New("T=1 block length invalid")
)

// T1Block is one T=1 protocol block
type T1Block struct {
	INF []byte
	NAD byte
	PCB byte
}

// IBlockPCB builds the PCB of an information block
func IBlockPCB(seq byte, more bool) byte {
	pcb := (seq & 0x01) << 6
	if more {
		pcb |= 0x20
	}
	return pcb
}

// RBlockPCB builds the PCB of a receive-ready block
func RBlockPCB(seq, code byte) byte {
	return 0x80 | (seq&0x01)<<4 | code&0x03
}

// IsIBlock reports whether pcb is an information block
func IsIBlock(pcb byte) bool { return pcb&0x80 == 0 }

// IsRBlock reports whether pcb is a receive-ready block
func IsRBlock(pcb byte) bool { return pcb&0xC0 == 0x80 }

// IsSBlock reports whether pcb is a supervisory block
func IsSBlock(pcb byte) bool { return pcb&0xC0 == 0xC0 }

// ISeq returns N(S) of an I-block
func ISeq(pcb byte) byte { return pcb >> 6 & 0x01 }

// IMore reports whether the chaining bit of an I-block is set
func IMore(pcb byte) bool { return pcb&0x20 != 0 }

// RSeq returns N(R) of an R-block
func RSeq(pcb byte) byte { return pcb >> 4 & 0x01 }

// RCode returns the error code of an R-block
func RCode(pcb byte) byte { return pcb & 0x03 }

// AppendT1Block appends the encoded block, CRC included, to dst
func AppendT1Block(dst []byte, b T1Block) ([]byte, error) {
	if len(b.INF) > T1MaxInf {
		return dst, fmt.Errorf("%w: INF of %d bytes", ErrT1Length, len(b.INF))
	}
	start := len(dst)
	dst = append(dst, b.NAD, b.PCB, byte(len(b.INF)))
	dst = append(dst, b.INF...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc), byte(crc>>8)), nil
}

// ParseT1Header returns the NAD, PCB and INF length of a block header
func ParseT1Header(hdr []byte) (nad, pcb byte, length int) {
	return hdr[0], hdr[1], int(hdr[2])
}

// DecodeT1Block validates and decodes a complete block. INF aliases buf.
func DecodeT1Block(buf []byte) (T1Block, error) {
	if len(buf) < T1HeaderLength+T1CRCLength {
		return T1Block{}, fmt.Errorf("%w: %d bytes", ErrT1Length, len(buf))
	}
	nad, pcb, length := ParseT1Header(buf)
	if len(buf) != T1HeaderLength+length+T1CRCLength {
		return T1Block{}, fmt.Errorf("%w: LEN %d in %d bytes", ErrT1Length, length, len(buf))
	}
	if !ValidateCRC16(buf) {
		return T1Block{}, ErrT1Checksum
	}
	return T1Block{NAD: nad, PCB: pcb, INF: buf[T1HeaderLength : T1HeaderLength+length]}, nil
}
