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
	"bytes"
	"context"
	"sync"
	"time"
)

// Driver operation names used by MockDriver call counts and errors
const (
	OpPowerOn    = "PowerOn"
	OpPowerOff   = "PowerOff"
	OpInit       = "InitContext"
	OpConnect    = "Connect"
	OpDisconnect = "Disconnect"
	OpTransceive = "Transceive"
)

// MockDriver is a configurable Driver for tests.
type MockDriver struct {
	errors       map[string]error
	calls        map[string]int
	ResponseFunc func(command []byte) ([]byte, error)
	ATR          []byte
	Response     []byte
	commands     [][]byte
	mu           sync.Mutex
}

// NewMockDriver creates a mock driver that connects with atr
func NewMockDriver(atr []byte) *MockDriver {
	return &MockDriver{
		ATR:    atr,
		errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetError makes op fail with err; a nil err clears it
func (m *MockDriver) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, op)
		return
	}
	m.errors[op] = err
}

// SetResponse configures a fixed transceive response, status word included
func (m *MockDriver) SetResponse(response []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Response = response
	m.ResponseFunc = nil
}

// SetResponseFunc configures a dynamic transceive response
func (m *MockDriver) SetResponseFunc(fn func(command []byte) ([]byte, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponseFunc = fn
	m.Response = nil
}

// GetCallCount returns how many times op was invoked
func (m *MockDriver) GetCallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Commands returns copies of every command passed to Transceive
func (m *MockDriver) Commands() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.commands))
	copy(out, m.commands)
	return out
}

func (m *MockDriver) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.errors[op]
}

// PowerOn records the call
func (m *MockDriver) PowerOn() error {
	return m.record(OpPowerOn)
}

// PowerOff records the call
func (m *MockDriver) PowerOff() error {
	return m.record(OpPowerOff)
}

// InitContext resets sc
func (m *MockDriver) InitContext(sc *SessionContext) {
	_ = m.record(OpInit)
	sc.Reset()
}

// Connect stores the configured ATR in sc
func (m *MockDriver) Connect(_ context.Context, sc *SessionContext) error {
	if err := m.record(OpConnect); err != nil {
		return err
	}
	return sc.SetATR(m.ATR)
}

// Disconnect records the call
func (m *MockDriver) Disconnect(_ context.Context, _ *SessionContext) error {
	return m.record(OpDisconnect)
}

// Transceive returns the configured response
func (m *MockDriver) Transceive(_ context.Context, command, response []byte) (int, error) {
	if err := m.record(OpTransceive); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.commands = append(m.commands, append([]byte(nil), command...))
	fn := m.ResponseFunc
	resp := m.Response
	m.mu.Unlock()

	if fn != nil {
		var err error
		if resp, err = fn(command); err != nil {
			return 0, err
		}
	}
	if len(resp) > len(response) {
		return 0, ErrResponseTooLarge
	}
	return copy(response, resp), nil
}

// MockStream is an in-memory Transport. Reads are served from a preloaded
// input, at most ChunkSize bytes per call to exercise short reads. Writes
// are collected.
type MockStream struct {
	input     *bytes.Reader
	output    bytes.Buffer
	writes    []int
	ChunkSize int
	ShortBy   int // When > 0, every write reports ShortBy fewer bytes
	syncs     int
	mu        sync.Mutex
	closed    bool
}

// NewMockStream creates a stream that will yield input to readers
func NewMockStream(input []byte) *MockStream {
	return &MockStream{input: bytes.NewReader(input)}
}

// Read implements io.Reader
func (s *MockStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrTransportClosed
	}
	if s.ChunkSize > 0 && len(p) > s.ChunkSize {
		p = p[:s.ChunkSize]
	}
	return s.input.Read(p)
}

// Write implements io.Writer
func (s *MockStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrTransportClosed
	}
	n := len(p)
	if s.ShortBy > 0 {
		n -= s.ShortBy
		if n < 0 {
			n = 0
		}
	}
	s.output.Write(p[:n])
	s.writes = append(s.writes, n)
	return n, nil
}

// Written returns everything written so far
func (s *MockStream) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.output.Bytes()...)
}

// WriteSizes returns the size of each Write call
func (s *MockStream) WriteSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.writes...)
}

// Sync implements Syncer
func (s *MockStream) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	return nil
}

// SyncCount returns how many times Sync was called
func (s *MockStream) SyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs
}

// Close implements Transport
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Type returns TransportMock
func (*MockStream) Type() TransportType {
	return TransportMock
}

// RecordingIndicator remembers every state it was set to
type RecordingIndicator struct {
	states []bool
	mu     sync.Mutex
}

// Set records on
func (r *RecordingIndicator) Set(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, on)
	return nil
}

// States returns the recorded states in order
func (r *RecordingIndicator) States() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

// RecordingSleeper captures requested delays without sleeping
type RecordingSleeper struct {
	delays []time.Duration
	mu     sync.Mutex
}

// Sleep records d
func (r *RecordingSleeper) Sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

// Delays returns the recorded durations
func (r *RecordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}
