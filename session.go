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
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-sebridge/apdu"
	"github.com/ZaparooProject/go-sebridge/internal/frame"
)

// SessionState is the logical state of the secure element session:
// either Disconnected or Connected.
type SessionState interface {
	String() string
	sessionState()
}

// Disconnected means no logical session is active. APDUs are still handed to
// the driver, which decides whether it can answer.
type Disconnected struct{}

func (Disconnected) sessionState() {}

// String returns the state name
func (Disconnected) String() string { return "disconnected" }

// Connected means a session is established.
type Connected struct {
	ATR        []byte
	StatusWord apdu.StatusWord
}

func (Connected) sessionState() {}

// String returns the state name
func (Connected) String() string { return "connected" }

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSleeper replaces the function used to suspend for host requested
// delays. Tests use it to observe the requested duration.
func WithSleeper(sleep func(time.Duration)) SessionOption {
	return func(s *Session) {
		s.sleep = sleep
	}
}

// Session interprets inbound packets against the secure element session
// lifecycle and produces reply packets. It is not safe for concurrent use;
// one transaction runs to completion before the next begins.
type Session struct {
	driver   Driver
	state    SessionState
	sleep    func(time.Duration)
	sctx     SessionContext
	command  [MaxPayload]byte
	response [MaxPayload]byte
	failures atomic.Int64
}

// NewSession creates a Session in the Disconnected state
func NewSession(driver Driver, opts ...SessionOption) *Session {
	s := &Session{
		driver: driver,
		state:  Disconnected{},
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	driver.InitContext(&s.sctx)
	return s
}

// State returns the current session state
func (s *Session) State() SessionState {
	return s.state
}

// ElementFailures returns how many secure element operations have failed
func (s *Session) ElementFailures() int64 {
	return s.failures.Load()
}

// Process handles one inbound packet and fills out with the reply. It
// reports whether a reply must be sent: the delay request produces none.
// Secure element failures are folded into status words and never returned;
// the only error is a packet whose kind is not valid.
func (s *Session) Process(ctx context.Context, in, out *Packet) (bool, error) {
	switch in.Kind {
	case KindWaitForCard:
		s.waitForCard(ctx, out)
		return true, nil
	case KindAPDUData:
		payload := in.Payload()
		if len(payload) > 0 && payload[0] == frame.DelayMarker {
			s.delay(payload)
			return false, nil
		}
		s.exchange(ctx, payload, out)
		return true, nil
	case KindCloseConnection:
		s.closeConnection(ctx, out)
		return true, nil
	default:
		return false, &FramingError{Op: "process", Kind: byte(in.Kind), Length: in.Len(), Err: ErrUnknownPacketKind}
	}
}

func (s *Session) waitForCard(ctx context.Context, out *Packet) {
	s.driver.InitContext(&s.sctx)
	s.state = Disconnected{}

	if err := s.driver.Connect(ctx, &s.sctx); err != nil {
		s.failures.Add(1)
		debugf("secure element connect failed: %v", err)
		if perr := s.driver.PowerOff(); perr != nil {
			debugf("secure element power off failed: %v", perr)
		}
		_ = out.Set(KindWaitForCard, frame.StatusUnavailable())
		return
	}

	atr := append([]byte(nil), s.sctx.ATR()...)
	s.state = Connected{ATR: atr}
	_ = out.Set(KindWaitForCard, atr)
	debugf("secure element connected, ATR % X", atr)
}

// delay suspends for the big-endian value in payload bytes 2-3, read as
// microseconds and truncated to whole milliseconds. Missing bytes read as zero.
func (s *Session) delay(payload []byte) {
	var raw [4]byte
	copy(raw[:], payload)
	micros := int(raw[2])<<8 | int(raw[3])
	d := time.Duration(micros/1000) * time.Millisecond
	debugf("host requested delay of %v", d)
	s.sleep(d)
}

func (s *Session) exchange(ctx context.Context, payload []byte, out *Packet) {
	n := copy(s.command[:], payload)
	command := s.command[:n]

	body, sw := s.transceive(ctx, command)
	s.sctx.StatusWord = sw
	if c, ok := s.state.(Connected); ok {
		c.StatusWord = sw
		s.state = c
	}

	_ = out.Set(KindAPDUData, body)
	_ = out.appendPayload(sw.SW1(), sw.SW2())
}

// transceive returns the response body and status word, or an empty body and
// 6982 when the element cannot answer.
func (s *Session) transceive(ctx context.Context, command []byte) ([]byte, apdu.StatusWord) {
	if len(command) == 0 {
		debugln("APDU dropped: empty command")
		return nil, apdu.SWSecurityStatusNotSatisfied
	}

	n, err := s.driver.Transceive(ctx, command, s.response[:])
	switch {
	case err != nil:
		debugf("secure element transceive failed: %v", err)
	case n < 2:
		err = ErrResponseTooShort
	case n > MaxPayload:
		err = ErrResponseTooLarge
	}
	if err != nil {
		s.failures.Add(1)
		debugf("APDU failed: %v", err)
		return nil, apdu.SWSecurityStatusNotSatisfied
	}

	return s.response[:n-2], apdu.NewStatusWord(s.response[n-2], s.response[n-1])
}

func (s *Session) closeConnection(ctx context.Context, out *Packet) {
	err := s.driver.Disconnect(ctx, &s.sctx)
	s.state = Disconnected{}
	if err != nil {
		s.failures.Add(1)
		debugf("secure element disconnect failed: %v", err)
		_ = out.Set(KindCloseConnection, frame.StatusUnavailable())
		return
	}
	_ = out.Set(KindCloseConnection, frame.StatusOK())
}
