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

// Package uart provides the serial link between the bridge and the host
package uart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ZaparooProject/go-sebridge/internal/transport"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the host link speed
	DefaultBaudRate = 115200

	defaultOpenRetries = 3
	defaultRetryDelay  = 250 * time.Millisecond
)

// Config configures the serial link
type Config struct {
	PortName   string
	BaudRate   int
	OpenRetry  int
	RetryDelay time.Duration
}

// DefaultConfig returns 115200 8N1 on portName
func DefaultConfig(portName string) Config {
	return Config{
		PortName:   portName,
		BaudRate:   DefaultBaudRate,
		OpenRetry:  defaultOpenRetries,
		RetryDelay: defaultRetryDelay,
	}
}

// opener matches serial.Open
type opener func(name string, mode *serial.Mode) (serial.Port, error)

// Transport implements sebridge.Transport over a serial port. Reads block
// until at least one byte arrives; Close unblocks them.
type Transport struct {
	port     serial.Port
	portName string
	mu       sync.Mutex
	closed   bool
}

// New opens portName with the default configuration
func New(portName string) (*Transport, error) {
	return Open(context.Background(), DefaultConfig(portName))
}

// Open opens the port described by cfg, retrying while the device is busy
func Open(ctx context.Context, cfg Config) (*Transport, error) {
	return open(ctx, cfg, serial.Open)
}

func open(ctx context.Context, cfg Config, openFn opener) (*Transport, error) {
	if cfg.PortName == "" {
		return nil, fmt.Errorf("%w: empty port name", sebridge.ErrInvalidParameter)
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	retry := transport.RetryConfig{
		Description: "open",
		MaxRetries:  cfg.OpenRetry,
		RetryDelay:  cfg.RetryDelay,
	}

	var lastErr error
	port, err := transport.WithRetry(ctx, retry, func() (serial.Port, bool, error) {
		p, openErr := openFn(cfg.PortName, mode)
		if openErr == nil {
			return p, false, nil
		}
		lastErr = openErr
		if isPortBusy(openErr) {
			return nil, true, nil
		}
		return nil, false, openErr
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, sebridge.NewTransportError("open", cfg.PortName,
			fmt.Errorf("%w: %w", sebridge.ErrDeviceNotFound, lastErr), sebridge.ErrorTypePermanent)
	}

	// No read timeout: the bridge waits for the host indefinitely.
	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		_ = port.Close()
		return nil, sebridge.NewTransportError("open", cfg.PortName, err, sebridge.ErrorTypePermanent)
	}
	_ = port.ResetInputBuffer()

	return newTransport(port, cfg.PortName), nil
}

func newTransport(port serial.Port, portName string) *Transport {
	return &Transport{port: port, portName: portName}
}

func isPortBusy(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortBusy
	}
	return false
}

// Read reads available bytes from the host
func (t *Transport) Read(p []byte) (int, error) {
	if t.port == nil {
		return 0, sebridge.NewTransportError("read", t.portName, sebridge.ErrTransportClosed, sebridge.ErrorTypePermanent)
	}
	n, err := t.port.Read(p)
	if err != nil {
		if t.isClosed() {
			return n, sebridge.NewTransportError("read", t.portName, sebridge.ErrTransportClosed, sebridge.ErrorTypePermanent)
		}
		return n, sebridge.NewTransportError("read", t.portName,
			fmt.Errorf("%w: %w", sebridge.ErrTransportRead, err), sebridge.ErrorTypePermanent)
	}
	if n == 0 && len(p) > 0 {
		// go.bug.st/serial returns 0, nil on timeout, after Close, or when the
		// port goes away
		return 0, sebridge.NewTransportError("read", t.portName, sebridge.ErrTransportClosed, sebridge.ErrorTypePermanent)
	}
	return n, nil
}

// Write sends p to the host
func (t *Transport) Write(p []byte) (int, error) {
	if t.port == nil {
		return 0, sebridge.NewTransportError("write", t.portName, sebridge.ErrTransportClosed, sebridge.ErrorTypePermanent)
	}
	n, err := t.port.Write(p)
	if err != nil {
		return n, sebridge.NewTransportError("write", t.portName,
			fmt.Errorf("%w: %w", sebridge.ErrTransportWrite, err), sebridge.ErrorTypePermanent)
	}
	return n, nil
}

// Sync waits until all written bytes have been transmitted
func (t *Transport) Sync() error {
	if t.port == nil {
		return sebridge.ErrTransportClosed
	}
	if err := t.port.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w", t.portName, err)
	}
	return nil
}

// Close closes the port, unblocking a pending Read
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.port == nil {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.portName, err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// IsConnected returns true if the port is open
func (t *Transport) IsConnected() bool {
	return t.port != nil && !t.isClosed()
}

// PortName returns the device path
func (t *Transport) PortName() string {
	return t.portName
}

// Type returns the transport type
func (*Transport) Type() sebridge.TransportType {
	return sebridge.TransportUART
}

// Ensure Transport implements the bridge interfaces
var (
	_ sebridge.Transport = (*Transport)(nil)
	_ sebridge.Syncer    = (*Transport)(nil)
)
