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
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ZaparooProject/go-sebridge/apdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePackets(t *testing.T, packets ...*Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range packets {
		require.NoError(t, WritePacket(&buf, p))
	}
	return buf.Bytes()
}

func mustPacket(t *testing.T, kind Kind, payload []byte) *Packet {
	t.Helper()
	p, err := NewPacket(kind, payload)
	require.NoError(t, err)
	return p
}

func TestNewBridge_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewBridge(nil, NewMockDriver(nil))
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewBridge(NewMockStream(nil), nil)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestBridge_SharedSession(t *testing.T) {
	t.Parallel()

	driver := NewMockDriver([]byte{0xA1, 0xA2})
	driver.SetResponse([]byte{0x6F, 0x00, 0x90, 0x00})

	first, err := NewBridge(NewMockStream(encodePackets(t, mustPacket(t, KindWaitForCard, nil))), driver)
	require.NoError(t, err)
	require.NoError(t, first.Transact(context.Background()))

	stream := NewMockStream(encodePackets(t,
		mustPacket(t, KindAPDUData, []byte{0x00, 0xA4, 0x04, 0x00, 0x00}),
	))
	second, err := NewBridge(stream, driver, WithSession(first.Session()))
	require.NoError(t, err)
	require.Same(t, first.Session(), second.Session())

	// the second host connection finds the session the first one opened
	connected, ok := second.Session().State().(Connected)
	require.True(t, ok)
	assert.Equal(t, []byte{0xA1, 0xA2}, connected.ATR)

	require.NoError(t, second.Transact(context.Background()))
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x04, 0x6F, 0x00, 0x90, 0x00}, stream.Written())
	assert.Equal(t, 1, driver.GetCallCount(OpConnect))

	_, err = NewBridge(NewMockStream(nil), driver, WithSession(nil))
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestBridge_Serve_Session(t *testing.T) {
	t.Parallel()

	input := encodePackets(t,
		mustPacket(t, KindWaitForCard, nil),
		mustPacket(t, KindAPDUData, []byte{0x00, 0xA4, 0x04, 0x00, 0x00}),
		mustPacket(t, KindAPDUData, []byte{0xFF, 0x00, 0x03, 0xE8}),
		mustPacket(t, KindCloseConnection, nil),
	)
	stream := NewMockStream(input)
	stream.ChunkSize = 2

	driver := NewMockDriver([]byte{0xA1, 0xA2})
	driver.SetResponse([]byte{0x6F, 0x00, 0x90, 0x00})
	sleeper := &RecordingSleeper{}

	bridge, err := NewBridge(stream, driver, WithSessionOptions(WithSleeper(sleeper.Sleep)))
	require.NoError(t, err)

	err = bridge.Serve(context.Background())
	require.Error(t, err, "Serve stops when the stream ends")
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.False(t, IsFatal(err))
	assert.Equal(t, BridgeStopped, bridge.State())

	want := encodePackets(t,
		mustPacket(t, KindWaitForCard, []byte{0xA1, 0xA2}),
		mustPacket(t, KindAPDUData, []byte{0x6F, 0x00, 0x90, 0x00}),
		mustPacket(t, KindCloseConnection, []byte{0x90, 0x00}),
	)
	assert.Equal(t, want, stream.Written())
	assert.Equal(t, []time.Duration{time.Millisecond}, sleeper.Delays())
	assert.Equal(t, 1, driver.GetCallCount(OpPowerOn), "element is powered once at start")

	stats := bridge.Stats()
	assert.Equal(t, int64(4), stats.Transactions)
	assert.Equal(t, int64(3), stats.Replies)
	assert.Equal(t, int64(1), stats.Delays)
	assert.Equal(t, int64(0), stats.FramingFaults)
}

func TestBridge_Serve_FramingFault(t *testing.T) {
	t.Parallel()

	input := append(encodePackets(t, mustPacket(t, KindWaitForCard, nil)), 0x07, 0x00, 0x00, 0x00)
	// a valid packet after the bad header must never be processed
	input = append(input, encodePackets(t, mustPacket(t, KindCloseConnection, nil))...)
	stream := NewMockStream(input)
	driver := NewMockDriver([]byte{0x3B, 0x00})
	rx, tx := &RecordingIndicator{}, &RecordingIndicator{}

	bridge, err := NewBridge(stream, driver, WithIndicators(rx, tx))
	require.NoError(t, err)

	err = bridge.Serve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPacketKind)
	assert.True(t, IsFatal(err))

	var fe *FramingError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, byte(0x07), fe.Kind)

	assert.Equal(t, BridgeFaulted, bridge.State())
	assert.Equal(t, int64(1), bridge.Stats().FramingFaults)
	assert.Equal(t, 0, driver.GetCallCount(OpDisconnect))

	// both indicators latch on in the faulted state
	rxStates, txStates := rx.States(), tx.States()
	assert.True(t, rxStates[len(rxStates)-1])
	assert.True(t, txStates[len(txStates)-1])

	// no resynchronization
	err = bridge.Transact(context.Background())
	require.Error(t, err)
	assert.Equal(t, BridgeFaulted, bridge.State())
}

func TestBridge_Serve_OversizedLength(t *testing.T) {
	t.Parallel()

	stream := NewMockStream([]byte{0x01, 0x00, 0x03, 0x85})
	bridge, err := NewBridge(stream, NewMockDriver(nil))
	require.NoError(t, err)

	err = bridge.Serve(context.Background())
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, BridgeFaulted, bridge.State())
	assert.Empty(t, stream.Written())
}

func TestBridge_Transact_Indicators(t *testing.T) {
	t.Parallel()

	stream := NewMockStream(encodePackets(t, mustPacket(t, KindCloseConnection, nil)))
	rx, tx := &RecordingIndicator{}, &RecordingIndicator{}
	bridge, err := NewBridge(stream, NewMockDriver(nil), WithIndicators(rx, tx))
	require.NoError(t, err)

	require.NoError(t, bridge.Transact(context.Background()))

	assert.Equal(t, []bool{true, false}, rx.States())
	assert.Equal(t, []bool{true, false}, tx.States())
	assert.Equal(t, 2, stream.SyncCount(), "sync after receive and after send")
}

func TestBridge_Transact_Trace(t *testing.T) {
	t.Parallel()

	stream := NewMockStream(encodePackets(t, mustPacket(t, KindWaitForCard, nil)))
	var seen []string
	trace := func(dir Direction, p *Packet) {
		seen = append(seen, dir.String()+" "+p.Kind.String())
	}
	bridge, err := NewBridge(stream, NewMockDriver([]byte{0x3B}), WithTrace(trace))
	require.NoError(t, err)

	require.NoError(t, bridge.Transact(context.Background()))
	assert.Equal(t, []string{"host->bridge WaitForCard", "bridge->host WaitForCard"}, seen)
}

func TestBridge_Serve_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bridge, err := NewBridge(NewMockStream(nil), NewMockDriver(nil), WithoutPowerOn())
	require.NoError(t, err)

	err = bridge.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BridgeStopped, bridge.State())
}

// pipeTransport adapts one end of a net.Pipe to Transport
type pipeTransport struct {
	net.Conn
}

func (pipeTransport) Type() TransportType { return TransportMock }

func TestBridge_WithClient(t *testing.T) {
	t.Parallel()

	hostEnd, bridgeEnd := net.Pipe()
	driver := NewMockDriver([]byte{0x3B, 0x8F, 0x80, 0x01})
	driver.SetResponseFunc(func(command []byte) ([]byte, error) {
		if command[1] == 0xA4 {
			return []byte{0x6F, 0x00, 0x90, 0x00}, nil
		}
		return []byte{0x6D, 0x00}, nil
	})
	sleeper := &RecordingSleeper{}

	bridge, err := NewBridge(pipeTransport{bridgeEnd}, driver, WithSessionOptions(WithSleeper(sleeper.Sleep)))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- bridge.Serve(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewClient(hostEnd)

	atr, err := client.WaitForCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x3B, 0x8F, 0x80, 0x01}, atr)

	data, sw, err := client.Transmit(ctx, []byte{0x00, 0xA4, 0x04, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x6F, 0x00}, data)
	assert.Equal(t, apdu.SWNoError, sw)

	_, sw, err = client.Transmit(ctx, []byte{0x00, 0x01, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, apdu.SWInsNotSupported, sw)

	require.NoError(t, client.Delay(ctx, 2000))

	sw, err = client.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, apdu.SWNoError, sw)

	// close only releases the logical session; APDUs still reach the driver
	data, sw, err = client.Transmit(ctx, []byte{0x00, 0xA4, 0x04, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x6F, 0x00}, data)
	assert.Equal(t, apdu.SWNoError, sw)
	assert.Equal(t, 3, driver.GetCallCount(OpTransceive))

	require.NoError(t, hostEnd.Close())
	select {
	case err := <-done:
		require.Error(t, err)
		assert.False(t, IsFatal(err))
	case <-ctx.Done():
		t.Fatal("bridge did not stop after the host closed the link")
	}
	assert.Equal(t, []time.Duration{2 * time.Millisecond}, sleeper.Delays())
}

func TestClient_WaitForCard_Unavailable(t *testing.T) {
	t.Parallel()

	hostEnd, bridgeEnd := net.Pipe()
	driver := NewMockDriver(nil)
	driver.SetError(OpConnect, errMockFailure)
	bridge, err := NewBridge(pipeTransport{bridgeEnd}, driver)
	require.NoError(t, err)

	go func() { _ = bridge.Serve(context.Background()) }()
	defer func() { _ = hostEnd.Close() }()

	_, err = NewClient(hostEnd).WaitForCard(context.Background())
	assert.ErrorIs(t, err, ErrCardUnavailable)
}

func TestClient_Transmit_RejectsDelayMarker(t *testing.T) {
	t.Parallel()

	client := NewClient(NewMockStream(nil))
	_, _, err := client.Transmit(context.Background(), []byte{0xFF, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, _, err = client.Transmit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestClient_UnexpectedReplyKind(t *testing.T) {
	t.Parallel()

	stream := NewMockStream(encodePackets(t, mustPacket(t, KindWaitForCard, []byte{0x90, 0x00})))
	_, err := NewClient(stream).Close(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}
