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

// Package pcsc forwards APDUs to a card in a PC/SC reader, so a bridge can
// front any contact or contactless card instead of a soldered element.
package pcsc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ebfe/scard"
)

// Config selects the reader and how the card is shared
type Config struct {
	// Reader is matched as a substring of the reader name; empty picks the
	// first reader
	Reader string
	// Disposition is applied to the card on Disconnect
	Disposition scard.Disposition
	Share       scard.ShareMode
	Protocol    scard.Protocol
}

// DefaultConfig shares the card with other applications and leaves it
// powered on disconnect
func DefaultConfig() Config {
	return Config{
		Disposition: scard.LeaveCard,
		Share:       scard.ShareShared,
		Protocol:    scard.ProtocolAny,
	}
}

type smartCard interface {
	Status() (*scard.CardStatus, error)
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

type cardContext interface {
	ListReaders() ([]string, error)
	Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (smartCard, error)
	Release() error
}

type scardContext struct {
	*scard.Context
}

func (c scardContext) Connect(reader string, mode scard.ShareMode, proto scard.Protocol) (smartCard, error) {
	card, err := c.Context.Connect(reader, mode, proto)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func establish() (cardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return scardContext{ctx}, nil
}

// Driver implements sebridge.Driver over PC/SC
type Driver struct {
	establish func() (cardContext, error)
	ctx       cardContext
	card      smartCard
	reader    string
	cfg       Config
	mu        sync.Mutex
}

// New creates a driver; the PC/SC context is established on PowerOn
func New(cfg Config) *Driver {
	return &Driver{establish: establish, cfg: cfg}
}

// ListReaders returns the names of the attached readers
func ListReaders() ([]string, error) {
	ctx, err := establish()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}
	defer func() { _ = ctx.Release() }()
	return ctx.ListReaders()
}

// Reader returns the name of the reader of the current card
func (d *Driver) Reader() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reader
}

// PowerOn establishes the PC/SC context
func (d *Driver) PowerOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureContext()
}

// PowerOff powers the card down and releases the PC/SC context
func (d *Driver) PowerOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	if d.card != nil {
		if err := d.card.Disconnect(scard.UnpowerCard); err != nil {
			firstErr = fmt.Errorf("unpower card: %w", err)
		}
		d.card = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Release(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release PC/SC context: %w", err)
		}
		d.ctx = nil
	}
	return firstErr
}

// InitContext clears sc
func (*Driver) InitContext(sc *sebridge.SessionContext) {
	sc.Reset()
}

// Connect connects to the card in the configured reader and reads its ATR
func (d *Driver) Connect(_ context.Context, sc *sebridge.SessionContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureContext(); err != nil {
		return err
	}
	if d.card != nil {
		_ = d.card.Disconnect(scard.LeaveCard)
		d.card = nil
	}

	reader, err := d.selectReader()
	if err != nil {
		return err
	}

	card, err := d.ctx.Connect(reader, d.cfg.Share, d.cfg.Protocol)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %w", sebridge.ErrElementUnavailable, reader, err)
	}
	status, err := card.Status()
	if err != nil {
		_ = card.Disconnect(scard.LeaveCard)
		return fmt.Errorf("card status: %w", err)
	}
	if err := sc.SetATR(status.Atr); err != nil {
		_ = card.Disconnect(scard.LeaveCard)
		return err
	}

	d.card = card
	d.reader = reader
	return nil
}

// Disconnect releases the card with the configured disposition
func (d *Driver) Disconnect(_ context.Context, _ *sebridge.SessionContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.card == nil {
		return nil
	}
	card := d.card
	d.card = nil
	if err := card.Disconnect(d.cfg.Disposition); err != nil {
		return fmt.Errorf("disconnect card: %w", err)
	}
	return nil
}

// Transceive transmits command and copies the response into response
func (d *Driver) Transceive(ctx context.Context, command, response []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.card == nil {
		return 0, sebridge.ErrNotConnected
	}
	rsp, err := d.card.Transmit(command)
	if err != nil {
		return 0, fmt.Errorf("transmit: %w", err)
	}
	if len(rsp) > len(response) {
		return 0, sebridge.ErrResponseTooLarge
	}
	return copy(response, rsp), nil
}

func (d *Driver) ensureContext() error {
	if d.ctx != nil {
		return nil
	}
	ctx, err := d.establish()
	if err != nil {
		return fmt.Errorf("%w: establish PC/SC context: %w", sebridge.ErrElementUnavailable, err)
	}
	d.ctx = ctx
	return nil
}

func (d *Driver) selectReader() (string, error) {
	readers, err := d.ctx.ListReaders()
	if err != nil {
		return "", fmt.Errorf("%w: list readers: %w", sebridge.ErrDeviceNotFound, err)
	}
	for _, r := range readers {
		if d.cfg.Reader == "" || strings.Contains(r, d.cfg.Reader) {
			return r, nil
		}
	}
	if d.cfg.Reader != "" {
		return "", fmt.Errorf("%w: no reader matching %q", sebridge.ErrDeviceNotFound, d.cfg.Reader)
	}
	return "", fmt.Errorf("%w: no readers", sebridge.ErrDeviceNotFound)
}

// Ensure Driver implements sebridge.Driver
var _ sebridge.Driver = (*Driver)(nil)
