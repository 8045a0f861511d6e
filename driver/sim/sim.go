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

// Package sim provides an in-memory secure element hosting an NFC Forum
// Type 4 Tag NDEF application. It lets a bridge run without hardware and
// lets tests inject driver failures.
package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ZaparooProject/go-sebridge/apdu"
	"github.com/hsanjuan/go-ndef"
)

const (
	// FileCC is the capability container file
	FileCC = 0xE103
	// FileNDEF is the NDEF message file
	FileNDEF = 0xE104

	// DefaultNDEFSize is the NDEF file size, NLEN included
	DefaultNDEFSize = 1024

	maxReadLength  = 0x00FF
	maxWriteLength = 0x00FF
)

// NDEFApplicationAID is the Type 4 Tag application identifier
var NDEFApplicationAID = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

// DefaultATR is reported when Config.ATR is empty
var DefaultATR = []byte{0x3B, 0x80, 0x80, 0x01, 0x01}

// ErrRemoved is returned by Connect while the element is removed
var ErrRemoved = errors.New("simulated element removed")

// Config configures the simulated element
type Config struct {
	ATR []byte
	// Message is the initial NDEF message, without the NLEN prefix
	Message  []byte
	NDEFSize int
	ReadOnly bool
}

// Driver implements sebridge.Driver with an in-memory Type 4 Tag
type Driver struct {
	failures map[string]error
	calls    map[string]int
	atr      []byte
	cc       []byte
	ndefFile []byte
	commands [][]byte
	mu       sync.Mutex
	selected uint16
	readOnly bool
	appSel   bool
	powered  bool
	removed  bool
	conn     bool
}

// New creates a simulated element
func New(cfg Config) (*Driver, error) {
	size := cfg.NDEFSize
	if size <= 0 {
		size = DefaultNDEFSize
	}
	if size > 0x7FFF || len(cfg.Message)+2 > size {
		return nil, fmt.Errorf("%w: NDEF message of %d bytes in a %d byte file",
			sebridge.ErrInvalidParameter, len(cfg.Message), size)
	}
	atr := cfg.ATR
	if len(atr) == 0 {
		atr = DefaultATR
	}

	d := &Driver{
		failures: make(map[string]error),
		calls:    make(map[string]int),
		atr:      append([]byte(nil), atr...),
		ndefFile: make([]byte, size),
		readOnly: cfg.ReadOnly,
	}
	binary.BigEndian.PutUint16(d.ndefFile, uint16(len(cfg.Message)))
	copy(d.ndefFile[2:], cfg.Message)
	d.cc = capabilityContainer(size, cfg.ReadOnly)
	return d, nil
}

// NewText creates an element whose NDEF file holds a single text record
func NewText(text string) (*Driver, error) {
	msg, err := ndef.NewTextMessage(text, "en").Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode NDEF text: %w", err)
	}
	return New(Config{Message: msg})
}

// NewURI creates an element whose NDEF file holds a single URI record
func NewURI(uri string) (*Driver, error) {
	msg, err := ndef.NewURIMessage(uri).Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode NDEF URI: %w", err)
	}
	return New(Config{Message: msg})
}

func capabilityContainer(size int, readOnly bool) []byte {
	write := byte(0x00)
	if readOnly {
		write = 0xFF
	}
	return []byte{
		0x00, 0x0F, // CCLEN
		// mapping version 2.0
		0x20,
		byte(maxReadLength >> 8), byte(maxReadLength),
		byte(maxWriteLength >> 8), byte(maxWriteLength),
		0x04, 0x06, // NDEF File Control TLV
		byte(FileNDEF >> 8), byte(FileNDEF & 0xFF),
		byte(size >> 8), byte(size),
		0x00, // read access
		write,
	}
}

// FailOn makes op fail with err until cleared with a nil err. op is one of
// the sebridge.Op* names.
func (d *Driver) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

// Remove makes Connect fail as if the element were absent
func (d *Driver) Remove() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = true
	d.conn = false
}

// Insert undoes Remove
func (d *Driver) Insert() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = false
}

// Powered reports whether the element is powered
func (d *Driver) Powered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powered
}

// CallCount returns how many times op was invoked
func (d *Driver) CallCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Commands returns copies of every command received
func (d *Driver) Commands() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.commands))
	copy(out, d.commands)
	return out
}

// Message returns the current NDEF message
func (d *Driver) Message() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := int(binary.BigEndian.Uint16(d.ndefFile))
	if n > len(d.ndefFile)-2 {
		n = len(d.ndefFile) - 2
	}
	return append([]byte(nil), d.ndefFile[2:2+n]...)
}

func (d *Driver) record(op string) error {
	d.calls[op]++
	return d.failures[op]
}

// PowerOn powers the element
func (d *Driver) PowerOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(sebridge.OpPowerOn); err != nil {
		return err
	}
	d.powered = true
	return nil
}

// PowerOff powers the element down, dropping the session
func (d *Driver) PowerOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(sebridge.OpPowerOff); err != nil {
		return err
	}
	d.powered = false
	d.conn = false
	return nil
}

// InitContext clears sc
func (d *Driver) InitContext(sc *sebridge.SessionContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.record(sebridge.OpInit)
	sc.Reset()
}

// Connect resets the application state and reports the ATR
func (d *Driver) Connect(_ context.Context, sc *sebridge.SessionContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(sebridge.OpConnect); err != nil {
		return err
	}
	if d.removed {
		return fmt.Errorf("%w: %w", sebridge.ErrElementUnavailable, ErrRemoved)
	}
	d.powered = true
	d.conn = true
	d.appSel = false
	d.selected = 0
	return sc.SetATR(d.atr)
}

// Disconnect ends the session
func (d *Driver) Disconnect(_ context.Context, _ *sebridge.SessionContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(sebridge.OpDisconnect); err != nil {
		return err
	}
	d.conn = false
	return nil
}

// Transceive executes command against the NDEF application
func (d *Driver) Transceive(ctx context.Context, command, response []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(sebridge.OpTransceive); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !d.conn {
		return 0, sebridge.ErrNotConnected
	}
	d.commands = append(d.commands, append([]byte(nil), command...))

	rsp := d.execute(command).Bytes()
	if len(rsp) > len(response) {
		return 0, sebridge.ErrResponseTooLarge
	}
	return copy(response, rsp), nil
}

func (d *Driver) execute(raw []byte) *apdu.Response {
	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return apdu.NewResponse(nil, apdu.SWWrongLength)
	}
	if cmd.CLA != 0x00 {
		return apdu.NewResponse(nil, apdu.SWClaNotSupported)
	}

	switch cmd.INS {
	case apdu.InsSelect:
		return d.selectFile(cmd)
	case apdu.InsReadBinary:
		return d.readBinary(cmd)
	case apdu.InsUpdateBinary:
		return d.updateBinary(cmd)
	default:
		return apdu.NewResponse(nil, apdu.SWInsNotSupported)
	}
}

func (d *Driver) selectFile(cmd *apdu.Command) *apdu.Response {
	switch cmd.P1 {
	case 0x04:
		if string(cmd.Data) != string(NDEFApplicationAID) {
			d.appSel = false
			return apdu.NewResponse(nil, apdu.SWFileNotFound)
		}
		d.appSel = true
		d.selected = 0
		return apdu.NewResponse(nil, apdu.SWNoError)
	case 0x00:
		if len(cmd.Data) != 2 {
			return apdu.NewResponse(nil, apdu.SWWrongLength)
		}
		id := binary.BigEndian.Uint16(cmd.Data)
		if !d.appSel || (id != FileCC && id != FileNDEF) {
			return apdu.NewResponse(nil, apdu.SWFileNotFound)
		}
		d.selected = id
		return apdu.NewResponse(nil, apdu.SWNoError)
	default:
		return apdu.NewResponse(nil, apdu.SWIncorrectP1P2)
	}
}

func (d *Driver) file() []byte {
	switch d.selected {
	case FileCC:
		return d.cc
	case FileNDEF:
		return d.ndefFile
	default:
		return nil
	}
}

func (d *Driver) readBinary(cmd *apdu.Command) *apdu.Response {
	file := d.file()
	if file == nil {
		return apdu.NewResponse(nil, apdu.SWCommandNotAllowed)
	}
	offset := int(cmd.P1)<<8 | int(cmd.P2)
	if offset >= len(file) {
		return apdu.NewResponse(nil, apdu.SWWrongP1P2)
	}
	n := cmd.Ne
	if n == 0 || n > maxReadLength {
		n = maxReadLength
	}
	end := min(offset+n, len(file))
	data := file[offset:end]
	if cmd.HasLe && len(data) < n {
		return apdu.NewResponse(data, apdu.SWEndOfFile)
	}
	return apdu.NewResponse(data, apdu.SWNoError)
}

func (d *Driver) updateBinary(cmd *apdu.Command) *apdu.Response {
	if d.selected != FileNDEF {
		return apdu.NewResponse(nil, apdu.SWCommandNotAllowed)
	}
	if d.readOnly {
		return apdu.NewResponse(nil, apdu.SWSecurityStatusNotSatisfied)
	}
	offset := int(cmd.P1)<<8 | int(cmd.P2)
	if len(cmd.Data) == 0 || len(cmd.Data) > maxWriteLength {
		return apdu.NewResponse(nil, apdu.SWWrongLength)
	}
	if offset+len(cmd.Data) > len(d.ndefFile) {
		return apdu.NewResponse(nil, apdu.SWWrongP1P2)
	}
	copy(d.ndefFile[offset:], cmd.Data)
	return apdu.NewResponse(nil, apdu.SWNoError)
}

// Ensure Driver implements sebridge.Driver
var _ sebridge.Driver = (*Driver)(nil)
