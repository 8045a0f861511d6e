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

import "fmt"

// BridgeConfig contains configuration options for the Bridge
type BridgeConfig struct {
	// RX is lit while the bridge waits for and reads a packet
	RX Indicator
	// TX is lit while the bridge writes a reply
	TX Indicator
	// Trace, when set, observes every packet read or written
	Trace TraceFunc
	// Session, when set, is driven instead of a new one. It lets successive
	// bridges over different host connections keep one secure element
	// session. SessionOptions are ignored in that case.
	Session *Session
	// SessionOptions are passed to the Session
	SessionOptions []SessionOption
	// PowerOnAtStart powers the element once before the first transaction
	PowerOnAtStart bool
}

// DefaultBridgeConfig returns default bridge configuration
func DefaultBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		RX:             nopIndicator{},
		TX:             nopIndicator{},
		PowerOnAtStart: true,
	}
}

// Direction tells a TraceFunc which way a packet travelled
type Direction int

const (
	// Inbound packets come from the host
	Inbound Direction = iota
	// Outbound packets are replies to the host
	Outbound
)

// String returns the direction name
func (d Direction) String() string {
	if d == Inbound {
		return "host->bridge"
	}
	return "bridge->host"
}

// TraceFunc observes packets. The packet must not be retained.
type TraceFunc func(dir Direction, p *Packet)

// Option is a functional option for configuring a Bridge
type Option func(*BridgeConfig) error

// WithIndicators sets the receive and send indicators. Nil leaves an
// indicator unset.
func WithIndicators(rx, tx Indicator) Option {
	return func(c *BridgeConfig) error {
		if rx != nil {
			c.RX = rx
		}
		if tx != nil {
			c.TX = tx
		}
		return nil
	}
}

// WithTrace installs a packet observer
func WithTrace(fn TraceFunc) Option {
	return func(c *BridgeConfig) error {
		c.Trace = fn
		return nil
	}
}

// WithSessionOptions forwards options to the Session
func WithSessionOptions(opts ...SessionOption) Option {
	return func(c *BridgeConfig) error {
		c.SessionOptions = append(c.SessionOptions, opts...)
		return nil
	}
}

// WithSession drives an existing session. Bridges sharing a session must not
// serve concurrently.
func WithSession(s *Session) Option {
	return func(c *BridgeConfig) error {
		if s == nil {
			return fmt.Errorf("%w: nil session", ErrInvalidParameter)
		}
		c.Session = s
		return nil
	}
}

// WithoutPowerOn skips powering the element when Serve starts, for drivers
// whose power is managed elsewhere.
func WithoutPowerOn() Option {
	return func(c *BridgeConfig) error {
		c.PowerOnAtStart = false
		return nil
	}
}
