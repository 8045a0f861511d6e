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

import (
	"errors"
	"sync"

	"github.com/ZaparooProject/go-sebridge/internal/frame"
	"periph.io/x/conn/v3/physic"
)

// VirtualElementAddress is the I2C address the virtual element answers on
const VirtualElementAddress = 0x48

// ErrNACK is returned for transactions the element does not acknowledge
var ErrNACK = errors.New("i2c: NACK")

// VirtualElement simulates an SE05x speaking T=1 over I2C. It implements
// periph's i2c.Bus so drivers can run against it unchanged.
type VirtualElement struct {
	// Handler answers each complete command APDU. Nil answers 90 00.
	Handler func(command []byte) []byte

	ATR []byte

	// Received holds every complete command APDU
	Received [][]byte
	// Blocks holds every block written by the host
	Blocks []frame.T1Block

	out      []byte
	rxChain  []byte
	txChunks [][]byte
	lastSent []byte

	// MaxInf caps the INF size of blocks sent by the element
	MaxInf int
	// WTXRequests is the number of WTX requests sent before each response
	WTXRequests int
	// BusyReads NACKs that many header reads
	BusyReads int

	pendingWTX int
	mu         sync.Mutex
	txSeq      byte

	Present bool
	// CorruptNext flips a CRC bit of the next block sent by the element
	CorruptNext bool
	// Silent stops the element from answering at all
	Silent bool
}

// NewVirtualElement creates a present element answering with atr
func NewVirtualElement(atr []byte) *VirtualElement {
	if atr == nil {
		atr = TestSE050ATR
	}
	return &VirtualElement{
		ATR:     atr,
		MaxInf:  frame.T1MaxInf,
		Present: true,
	}
}

// String implements i2c.Bus
func (*VirtualElement) String() string {
	return "virtual-se05x"
}

// SetSpeed implements i2c.Bus
func (*VirtualElement) SetSpeed(physic.Frequency) error {
	return nil
}

// Tx implements i2c.Bus
func (v *VirtualElement) Tx(addr uint16, w, r []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if addr != VirtualElementAddress || !v.Present {
		return ErrNACK
	}
	if len(w) > 0 {
		v.receive(w)
	}
	if len(r) > 0 {
		if v.BusyReads > 0 {
			v.BusyReads--
			return ErrNACK
		}
		if len(v.out) < len(r) {
			return ErrNACK
		}
		copy(r, v.out)
		v.out = v.out[len(r):]
	}
	return nil
}

// Remove makes the element stop acknowledging
func (v *VirtualElement) Remove() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Present = false
}

// Insert makes the element acknowledge again
func (v *VirtualElement) Insert() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Present = true
}

// Commands returns copies of the received APDUs
func (v *VirtualElement) Commands() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.Received))
	copy(out, v.Received)
	return out
}

func (v *VirtualElement) receive(w []byte) {
	block, err := frame.DecodeT1Block(w)
	if err != nil {
		v.send(frame.RBlockPCB(v.txSeq, frame.RBlockCRCError), nil)
		return
	}
	block.INF = append([]byte(nil), block.INF...)
	v.Blocks = append(v.Blocks, block)
	if v.Silent {
		return
	}

	switch {
	case frame.IsSBlock(block.PCB):
		v.receiveS(block)
	case frame.IsRBlock(block.PCB):
		v.receiveR(block)
	default:
		v.receiveI(block)
	}
}

func (v *VirtualElement) receiveS(block frame.T1Block) {
	switch block.PCB {
	case frame.SBlockSoftReset:
		v.reset()
		v.send(frame.SBlockSoftReset|frame.SBlockResponse, v.ATR)
	case frame.SBlockEndSession:
		v.reset()
		v.send(frame.SBlockEndSession|frame.SBlockResponse, nil)
	case frame.SBlockIFS:
		v.send(frame.SBlockIFS|frame.SBlockResponse, block.INF)
	case frame.SBlockWTX | frame.SBlockResponse:
		v.continueResponse()
	default:
		v.send(frame.RBlockPCB(v.txSeq, frame.RBlockOther), nil)
	}
}

func (v *VirtualElement) receiveR(block frame.T1Block) {
	if frame.RCode(block.PCB) != frame.RBlockOK || frame.RSeq(block.PCB) != v.txSeq {
		v.resend()
		return
	}
	v.sendNextChunk()
}

func (v *VirtualElement) receiveI(block frame.T1Block) {
	v.rxChain = append(v.rxChain, block.INF...)
	if frame.IMore(block.PCB) {
		v.send(frame.RBlockPCB(frame.ISeq(block.PCB)^1, frame.RBlockOK), nil)
		return
	}

	command := v.rxChain
	v.rxChain = nil
	v.Received = append(v.Received, command)

	response := []byte{0x90, 0x00}
	if v.Handler != nil {
		response = v.Handler(command)
	}
	v.txChunks = chunk(response, v.MaxInf)
	v.pendingWTX = v.WTXRequests
	v.continueResponse()
}

func (v *VirtualElement) continueResponse() {
	if v.pendingWTX > 0 {
		v.pendingWTX--
		v.send(frame.SBlockWTX, []byte{0x01})
		return
	}
	v.sendNextChunk()
}

func (v *VirtualElement) sendNextChunk() {
	if len(v.txChunks) == 0 {
		return
	}
	next := v.txChunks[0]
	v.txChunks = v.txChunks[1:]
	v.send(frame.IBlockPCB(v.txSeq, len(v.txChunks) > 0), next)
	v.txSeq ^= 1
}

func (v *VirtualElement) send(pcb byte, inf []byte) {
	encoded, _ := frame.AppendT1Block(nil, frame.T1Block{NAD: frame.NADElementToHost, PCB: pcb, INF: inf})
	v.lastSent = append([]byte(nil), encoded...)
	if v.CorruptNext {
		v.CorruptNext = false
		encoded[len(encoded)-1] ^= 0x01
	}
	v.out = append(v.out, encoded...)
}

func (v *VirtualElement) resend() {
	if v.lastSent != nil {
		v.out = append(v.out, v.lastSent...)
	}
}

func (v *VirtualElement) reset() {
	v.txSeq = 0
	v.rxChain = nil
	v.txChunks = nil
	v.pendingWTX = 0
}

func chunk(data []byte, size int) [][]byte {
	if size <= 0 {
		size = frame.T1MaxInf
	}
	var chunks [][]byte
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}
