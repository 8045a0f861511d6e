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

// Package se05x drives an NXP SE05x secure element over I2C using the
// T=1 over I2C block protocol.
package se05x

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ZaparooProject/go-sebridge/internal/frame"
	"github.com/ZaparooProject/go-sebridge/internal/transport"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the SE05x I2C address
	DefaultAddress = 0x48

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	defaultResponseTimeout = time.Second
	defaultPollInterval    = time.Millisecond
	defaultPowerOnDelay    = 10 * time.Millisecond
	defaultMaxRetransmits  = 3
)

var (
	errUnexpectedBlock = errors.New("unexpected T=1 block")
	errRetransmits     = errors.New("too many T=1 retransmissions")
)

// Pin is the output side of a GPIO pin
type Pin interface {
	Out(l gpio.Level) error
}

// Config configures the I2C link
type Config struct {
	// BusName selects the I2C bus; empty opens the first one
	BusName string
	// EnablePin names a GPIO that powers the element; empty means always on
	EnablePin       string
	Address         uint16
	MaxInf          int
	MaxRetransmits  int
	ResponseTimeout time.Duration
	PollInterval    time.Duration
	PowerOnDelay    time.Duration
}

// DefaultConfig returns the configuration for an SE05x on the first bus
func DefaultConfig() Config {
	return Config{
		Address:         DefaultAddress,
		MaxInf:          frame.T1MaxInf,
		MaxRetransmits:  defaultMaxRetransmits,
		ResponseTimeout: defaultResponseTimeout,
		PollInterval:    defaultPollInterval,
		PowerOnDelay:    defaultPowerOnDelay,
	}
}

// Driver implements sebridge.Driver for the SE05x
type Driver struct {
	dev       *i2c.Dev
	closer    i2c.BusCloser
	enable    Pin
	lastBlock []byte
	cfg       Config
	mu        sync.Mutex
	sendSeq   byte
	recvSeq   byte
	connected bool
	poweredOn bool
}

// New opens the I2C bus and the optional enable pin
func New(cfg Config) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(cfg.BusName)
	if err != nil {
		return nil, sebridge.NewTransportError("open", cfg.BusName,
			fmt.Errorf("%w: %w", sebridge.ErrDeviceNotFound, err), sebridge.ErrorTypePermanent)
	}

	// Ignore error, continue with default speed
	_ = bus.SetSpeed(maxClockFreq)

	var enable Pin
	if cfg.EnablePin != "" {
		pin := gpioreg.ByName(cfg.EnablePin)
		if pin == nil {
			_ = bus.Close()
			return nil, fmt.Errorf("%w: unknown GPIO %q", sebridge.ErrInvalidParameter, cfg.EnablePin)
		}
		enable = pin
	}

	d := NewWithBus(bus, enable, cfg)
	d.closer = bus
	return d, nil
}

// NewWithBus creates a driver on an already opened bus. enable may be nil.
func NewWithBus(bus i2c.Bus, enable Pin, cfg Config) *Driver {
	defaults := DefaultConfig()
	if cfg.Address == 0 {
		cfg.Address = defaults.Address
	}
	if cfg.MaxInf <= 0 || cfg.MaxInf > frame.T1MaxInf {
		cfg.MaxInf = defaults.MaxInf
	}
	if cfg.MaxRetransmits <= 0 {
		cfg.MaxRetransmits = defaults.MaxRetransmits
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaults.ResponseTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &Driver{
		dev:    &i2c.Dev{Addr: cfg.Address, Bus: bus},
		enable: enable,
		cfg:    cfg,
	}
}

// Close releases the I2C bus
func (d *Driver) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// PowerOn drives the enable pin high and waits for the element to boot
func (d *Driver) PowerOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powerOn()
}

func (d *Driver) powerOn() error {
	d.poweredOn = true
	if d.enable == nil {
		return nil
	}
	if err := d.enable.Out(gpio.High); err != nil {
		return fmt.Errorf("enable pin high: %w", err)
	}
	if d.cfg.PowerOnDelay > 0 {
		time.Sleep(d.cfg.PowerOnDelay)
	}
	return nil
}

// PowerOff drives the enable pin low
func (d *Driver) PowerOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connected = false
	d.poweredOn = false
	if d.enable == nil {
		return nil
	}
	if err := d.enable.Out(gpio.Low); err != nil {
		return fmt.Errorf("enable pin low: %w", err)
	}
	return nil
}

// InitContext clears the session context and the block sequence numbers
func (d *Driver) InitContext(sc *sebridge.SessionContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetSequence()
	d.connected = false
	sc.Reset()
}

// Connect soft-resets the T=1 interface and stores the returned ATR
func (d *Driver) Connect(ctx context.Context, sc *sebridge.SessionContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A failed session powers the element off; bring it back first.
	if !d.poweredOn {
		if err := d.powerOn(); err != nil {
			return err
		}
	}

	d.resetSequence()
	atr, err := d.supervisory(ctx, frame.SBlockSoftReset, nil)
	if err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}
	if err := sc.SetATR(atr); err != nil {
		return err
	}
	d.connected = true
	debugf("se05x: connected, ATR %X", atr)
	return nil
}

// Disconnect ends the APDU session
func (d *Driver) Disconnect(ctx context.Context, _ *sebridge.SessionContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connected = false
	if _, err := d.supervisory(ctx, frame.SBlockEndSession, nil); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Transceive sends command as a chain of I-blocks and collects the chained
// response into response.
func (d *Driver) Transceive(ctx context.Context, command, response []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return 0, sebridge.ErrNotConnected
	}
	if err := d.sendChain(ctx, command); err != nil {
		return 0, err
	}
	return d.receiveChain(ctx, response)
}

func (d *Driver) sendChain(ctx context.Context, command []byte) error {
	for len(command) > 0 {
		n := min(len(command), d.cfg.MaxInf)
		more := n < len(command)
		if err := d.writeBlock(frame.IBlockPCB(d.sendSeq, more), command[:n]); err != nil {
			return err
		}
		d.sendSeq ^= 1
		command = command[n:]
		if !more {
			return nil
		}

		// The element acknowledges each chained block with R(N(R) = next N(S)).
		if err := d.awaitAck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) awaitAck(ctx context.Context) error {
	for retries := 0; ; retries++ {
		block, err := d.receive(ctx)
		if err != nil {
			return err
		}
		if !frame.IsRBlock(block.PCB) {
			return fmt.Errorf("%w: PCB 0x%02X while chaining", errUnexpectedBlock, block.PCB)
		}
		if frame.RCode(block.PCB) == frame.RBlockOK && frame.RSeq(block.PCB) == d.sendSeq {
			return nil
		}
		if retries >= d.cfg.MaxRetransmits {
			return errRetransmits
		}
		if err := d.retransmit(); err != nil {
			return err
		}
	}
}

func (d *Driver) receiveChain(ctx context.Context, response []byte) (int, error) {
	n := 0
	retries := 0
	for {
		block, err := d.receive(ctx)
		if err != nil {
			return 0, err
		}

		switch {
		case frame.IsIBlock(block.PCB):
			if frame.ISeq(block.PCB) != d.recvSeq {
				return 0, fmt.Errorf("%w: N(S) %d, expected %d", errUnexpectedBlock, frame.ISeq(block.PCB), d.recvSeq)
			}
			if n+len(block.INF) > len(response) {
				return 0, sebridge.ErrResponseTooLarge
			}
			n += copy(response[n:], block.INF)
			d.recvSeq ^= 1
			if !frame.IMore(block.PCB) {
				return n, nil
			}
			if err := d.writeBlock(frame.RBlockPCB(d.recvSeq, frame.RBlockOK), nil); err != nil {
				return 0, err
			}
		case frame.IsRBlock(block.PCB):
			// The element missed our last block.
			if retries >= d.cfg.MaxRetransmits {
				return 0, errRetransmits
			}
			retries++
			if err := d.retransmit(); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("%w: PCB 0x%02X", errUnexpectedBlock, block.PCB)
		}
	}
}

// supervisory sends an S-block request and returns the INF of its response
func (d *Driver) supervisory(ctx context.Context, request byte, inf []byte) ([]byte, error) {
	if err := d.writeBlock(request, inf); err != nil {
		return nil, err
	}
	for retries := 0; ; retries++ {
		block, err := d.receive(ctx)
		if err != nil {
			return nil, err
		}
		if block.PCB == request|frame.SBlockResponse {
			return append([]byte(nil), block.INF...), nil
		}
		if !frame.IsRBlock(block.PCB) || retries >= d.cfg.MaxRetransmits {
			return nil, fmt.Errorf("%w: PCB 0x%02X", errUnexpectedBlock, block.PCB)
		}
		if err := d.retransmit(); err != nil {
			return nil, err
		}
	}
}

// receive reads the next block, answering WTX requests and asking for
// retransmission of corrupted blocks.
func (d *Driver) receive(ctx context.Context) (frame.T1Block, error) {
	timeout := d.cfg.ResponseTimeout
	for retries := 0; ; {
		block, err := d.readBlock(ctx, timeout)
		timeout = d.cfg.ResponseTimeout

		if errors.Is(err, frame.ErrT1Checksum) || errors.Is(err, frame.ErrT1Length) {
			if retries >= d.cfg.MaxRetransmits {
				return frame.T1Block{}, err
			}
			retries++
			debugf("se05x: %v, requesting retransmission", err)
			if err := d.writeControl(frame.RBlockPCB(d.recvSeq, frame.RBlockCRCError), nil); err != nil {
				return frame.T1Block{}, err
			}
			continue
		}
		if err != nil {
			return frame.T1Block{}, err
		}

		if block.PCB == frame.SBlockWTX {
			multiplier := 1
			if len(block.INF) > 0 && block.INF[0] > 0 {
				multiplier = int(block.INF[0])
			}
			timeout = d.cfg.ResponseTimeout * time.Duration(multiplier)
			debugf("se05x: waiting time extension x%d", multiplier)
			if err := d.writeControl(frame.SBlockWTX|frame.SBlockResponse, block.INF); err != nil {
				return frame.T1Block{}, err
			}
			continue
		}
		return block, nil
	}
}

// readBlock polls for a block header until the element stops NACKing, then
// reads the rest of the block.
func (d *Driver) readBlock(ctx context.Context, timeout time.Duration) (frame.T1Block, error) {
	hdr, err := transport.TimeoutRetry(ctx, timeout, d.cfg.PollInterval,
		func() ([frame.T1HeaderLength]byte, bool, error) {
			var h [frame.T1HeaderLength]byte
			if err := d.dev.Tx(nil, h[:]); err != nil {
				// NACK while the element is busy
				return h, true, nil
			}
			return h, h[0] != frame.NADElementToHost, nil
		})
	if err != nil {
		if errors.Is(err, sebridge.ErrTransportTimeout) {
			return frame.T1Block{}, sebridge.NewTimeoutError("readBlock", d.dev.String())
		}
		return frame.T1Block{}, err
	}

	_, _, length := frame.ParseT1Header(hdr[:])
	buf := make([]byte, frame.T1HeaderLength+length+frame.T1CRCLength)
	copy(buf, hdr[:])
	if err := d.dev.Tx(nil, buf[frame.T1HeaderLength:]); err != nil {
		return frame.T1Block{}, sebridge.NewTransportError("readBlock", d.dev.String(),
			fmt.Errorf("%w: %w", sebridge.ErrTransportRead, err), sebridge.ErrorTypeTransient)
	}
	return frame.DecodeT1Block(buf)
}

func (d *Driver) writeBlock(pcb byte, inf []byte) error {
	encoded, err := frame.AppendT1Block(d.lastBlock[:0], frame.T1Block{NAD: frame.NADHostToElement, PCB: pcb, INF: inf})
	if err != nil {
		return err
	}
	d.lastBlock = encoded
	return d.tx(encoded)
}

// writeControl sends a block without making it the retransmission candidate
func (d *Driver) writeControl(pcb byte, inf []byte) error {
	var buf [frame.T1HeaderLength + 1 + frame.T1CRCLength]byte
	encoded, err := frame.AppendT1Block(buf[:0], frame.T1Block{NAD: frame.NADHostToElement, PCB: pcb, INF: inf})
	if err != nil {
		return err
	}
	return d.tx(encoded)
}

func (d *Driver) retransmit() error {
	debugf("se05x: retransmitting PCB 0x%02X", d.lastBlock[1])
	return d.tx(d.lastBlock)
}

func (d *Driver) tx(encoded []byte) error {
	if err := d.dev.Tx(encoded, nil); err != nil {
		return sebridge.NewTransportError("writeBlock", d.dev.String(),
			fmt.Errorf("%w: %w", sebridge.ErrTransportWrite, err), sebridge.ErrorTypeTransient)
	}
	return nil
}

func (d *Driver) resetSequence() {
	d.sendSeq = 0
	d.recvSeq = 0
}

func debugf(format string, args ...any) {
	if sebridge.DebugEnabled() {
		sebridge.Logger().Debug(fmt.Sprintf(format, args...))
	}
}

// Ensure Driver implements sebridge.Driver
var _ sebridge.Driver = (*Driver)(nil)
