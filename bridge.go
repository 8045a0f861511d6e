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

package sebridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// BridgeState reports what the supervising loop is doing
type BridgeState int32

const (
	// BridgeIdle means Serve has not started
	BridgeIdle BridgeState = iota
	// BridgeReceiving means the bridge is blocked reading a packet
	BridgeReceiving
	// BridgeProcessing means a packet is being handled by the session
	BridgeProcessing
	// BridgeSending means a reply is being written
	BridgeSending
	// BridgeFaulted means a framing violation or fatal transport error
	// stopped the bridge. There is no recovery from this state.
	BridgeFaulted
	// BridgeStopped means Serve returned without a fault
	BridgeStopped
)

// String returns the state name
func (s BridgeState) String() string {
	switch s {
	case BridgeIdle:
		return "idle"
	case BridgeReceiving:
		return "receiving"
	case BridgeProcessing:
		return "processing"
	case BridgeSending:
		return "sending"
	case BridgeFaulted:
		return "faulted"
	case BridgeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("BridgeState(%d)", int32(s))
	}
}

// BridgeStats tracks operational counters
type BridgeStats struct {
	Transactions    int64 // Packets read and processed
	Replies         int64 // Reply packets written
	Delays          int64 // Host requested delays served
	ElementFailures int64 // Secure element operations folded into 6982
	FramingFaults   int64 // Framing violations (at most one per Serve)
}

// Bridge runs the receive, process, send loop between a host transport and a
// secure element driver.
//
// Thread Safety: Serve and Transact must be called from a single goroutine.
// State and Stats may be read concurrently.
type Bridge struct {
	transport    Transport
	driver       Driver
	session      *Session
	config       *BridgeConfig
	in           Packet
	out          Packet
	state        atomic.Int32
	transactions atomic.Int64
	replies      atomic.Int64
	delays       atomic.Int64
	faults       atomic.Int64
}

// NewBridge creates a bridge serving transport with driver
func NewBridge(transport Transport, driver Driver, opts ...Option) (*Bridge, error) {
	if transport == nil || driver == nil {
		return nil, fmt.Errorf("%w: transport and driver are required", ErrInvalidParameter)
	}

	config := DefaultBridgeConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	session := config.Session
	if session == nil {
		session = NewSession(driver, config.SessionOptions...)
	}

	return &Bridge{
		transport: transport,
		driver:    driver,
		session:   session,
		config:    config,
	}, nil
}

// Session returns the session driven by the bridge
func (b *Bridge) Session() *Session {
	return b.session
}

// State returns the current loop state
func (b *Bridge) State() BridgeState {
	return BridgeState(b.state.Load())
}

// Stats returns a snapshot of the bridge counters
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Transactions:    b.transactions.Load(),
		Replies:         b.replies.Load(),
		Delays:          b.delays.Load(),
		ElementFailures: b.session.ElementFailures(),
		FramingFaults:   b.faults.Load(),
	}
}

// Serve powers the element on and handles transactions until ctx is
// cancelled or a transaction fails. A framing violation puts the bridge in
// the BridgeFaulted state and is returned as a *FramingError; the caller is
// expected to stop using the transport. Cancelling ctx does not interrupt a
// blocked read: close the transport to unblock it.
func (b *Bridge) Serve(ctx context.Context) error {
	if b.config.PowerOnAtStart {
		if err := b.driver.PowerOn(); err != nil {
			debugf("secure element power on failed: %v", err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			b.setState(BridgeStopped)
			return err
		}

		if err := b.Transact(ctx); err != nil {
			if b.State() != BridgeFaulted && ctx.Err() != nil {
				b.setState(BridgeStopped)
				return ctx.Err()
			}
			return err
		}
	}
}

// Transact runs a single receive, process, send transaction.
func (b *Bridge) Transact(ctx context.Context) error {
	if b.State() == BridgeFaulted {
		return fmt.Errorf("bridge faulted: %w", ErrTransportClosed)
	}

	b.setState(BridgeReceiving)
	setIndicator(b.config.RX, true)
	err := ReadPacket(b.transport, &b.in)
	setIndicator(b.config.RX, false)
	if err != nil {
		return b.fail(err)
	}
	syncTransport(b.transport)
	b.trace(Inbound, &b.in)

	b.setState(BridgeProcessing)
	b.transactions.Add(1)
	reply, err := b.session.Process(ctx, &b.in, &b.out)
	if err != nil {
		return b.fail(err)
	}
	if !reply {
		b.delays.Add(1)
		return nil
	}

	b.setState(BridgeSending)
	setIndicator(b.config.TX, true)
	err = WritePacket(b.transport, &b.out)
	setIndicator(b.config.TX, false)
	if err != nil {
		return b.fail(err)
	}
	syncTransport(b.transport)
	b.replies.Add(1)
	b.trace(Outbound, &b.out)
	return nil
}

// fail records a failed transaction. Fatal errors latch the faulted state
// with both indicators lit so an operator can tell it from normal traffic.
func (b *Bridge) fail(err error) error {
	if !IsFatal(err) {
		b.setState(BridgeStopped)
		return err
	}

	b.setState(BridgeFaulted)
	var fe *FramingError
	if errors.As(err, &fe) {
		b.faults.Add(1)
	}
	setIndicator(b.config.RX, true)
	setIndicator(b.config.TX, true)
	Logger().Error("host link fault, bridge halted", "error", err)
	return err
}

func (b *Bridge) trace(dir Direction, p *Packet) {
	if b.config.Trace != nil {
		b.config.Trace(dir, p)
	}
	debugf("%s %s", dir, p)
}

func (b *Bridge) setState(s BridgeState) {
	b.state.Store(int32(s))
}
