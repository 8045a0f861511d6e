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

package pcsc

import (
	"context"
	"errors"
	"testing"

	sebridge "github.com/ZaparooProject/go-sebridge"
	testutil "github.com/ZaparooProject/go-sebridge/internal/testing"
	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errNoCard       = errors.New("scard: no smart card")
	errNoService    = errors.New("scard: service not available")
	errTransmitFail = errors.New("scard: card removed")
)

type fakeCard struct {
	transmitErr  error
	response     []byte
	atr          []byte
	commands     [][]byte
	dispositions []scard.Disposition
}

func (c *fakeCard) Status() (*scard.CardStatus, error) {
	return &scard.CardStatus{Atr: c.atr}, nil
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) {
	c.commands = append(c.commands, append([]byte(nil), cmd...))
	if c.transmitErr != nil {
		return nil, c.transmitErr
	}
	return c.response, nil
}

func (c *fakeCard) Disconnect(d scard.Disposition) error {
	c.dispositions = append(c.dispositions, d)
	return nil
}

type fakeContext struct {
	connectErr error
	card       *fakeCard
	connected  string
	readers    []string
	releases   int
}

func (c *fakeContext) ListReaders() ([]string, error) {
	return c.readers, nil
}

func (c *fakeContext) Connect(reader string, _ scard.ShareMode, _ scard.Protocol) (smartCard, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	c.connected = reader
	return c.card, nil
}

func (c *fakeContext) Release() error {
	c.releases++
	return nil
}

func newTestDriver(cfg Config, fc *fakeContext) *Driver {
	d := New(cfg)
	d.establish = func() (cardContext, error) { return fc, nil }
	return d
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		readers: []string{"ACS ACR1252 1S CL Reader PICC 0", "Identiv uTrust 2700 R Smart Card Reader 0"},
		card: &fakeCard{
			atr:      testutil.TestContactATR,
			response: []byte{0x6F, 0x00, 0x90, 0x00},
		},
	}
}

func TestConnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		reader     string
		wantReader string
		wantErr    error
	}{
		{name: "first reader", wantReader: "ACS ACR1252 1S CL Reader PICC 0"},
		{name: "matching reader", reader: "uTrust", wantReader: "Identiv uTrust 2700 R Smart Card Reader 0"},
		{name: "no match", reader: "Gemalto", wantErr: sebridge.ErrDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			cfg.Reader = tt.reader
			fc := newFakeContext()
			d := newTestDriver(cfg, fc)

			var sc sebridge.SessionContext
			d.InitContext(&sc)
			err := d.Connect(context.Background(), &sc)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, sc.ATR())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantReader, fc.connected)
			assert.Equal(t, tt.wantReader, d.Reader())
			assert.Equal(t, testutil.TestContactATR, sc.ATR())
		})
	}
}

func TestConnect_Failures(t *testing.T) {
	t.Parallel()

	t.Run("no card", func(t *testing.T) {
		t.Parallel()
		fc := newFakeContext()
		fc.connectErr = errNoCard
		d := newTestDriver(DefaultConfig(), fc)

		var sc sebridge.SessionContext
		err := d.Connect(context.Background(), &sc)
		require.ErrorIs(t, err, sebridge.ErrElementUnavailable)
		assert.ErrorIs(t, err, errNoCard)
	})

	t.Run("no readers", func(t *testing.T) {
		t.Parallel()
		fc := newFakeContext()
		fc.readers = nil
		d := newTestDriver(DefaultConfig(), fc)

		var sc sebridge.SessionContext
		assert.ErrorIs(t, d.Connect(context.Background(), &sc), sebridge.ErrDeviceNotFound)
	})

	t.Run("no service", func(t *testing.T) {
		t.Parallel()
		d := New(DefaultConfig())
		d.establish = func() (cardContext, error) { return nil, errNoService }

		assert.ErrorIs(t, d.PowerOn(), errNoService)
		var sc sebridge.SessionContext
		assert.ErrorIs(t, d.Connect(context.Background(), &sc), sebridge.ErrElementUnavailable)
	})
}

func TestTransceive(t *testing.T) {
	t.Parallel()

	fc := newFakeContext()
	d := newTestDriver(DefaultConfig(), fc)

	response := make([]byte, sebridge.MaxPayload)
	_, err := d.Transceive(context.Background(), []byte{0x00, 0xA4, 0x04, 0x00}, response)
	require.ErrorIs(t, err, sebridge.ErrNotConnected)

	var sc sebridge.SessionContext
	require.NoError(t, d.Connect(context.Background(), &sc))

	n, err := d.Transceive(context.Background(), []byte{0x00, 0xA4, 0x04, 0x00}, response)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x6F, 0x00, 0x90, 0x00}, response[:n])
	assert.Equal(t, [][]byte{{0x00, 0xA4, 0x04, 0x00}}, fc.card.commands)

	_, err = d.Transceive(context.Background(), []byte{0x00}, make([]byte, 2))
	require.ErrorIs(t, err, sebridge.ErrResponseTooLarge)

	fc.card.transmitErr = errTransmitFail
	_, err = d.Transceive(context.Background(), []byte{0x00}, response)
	require.ErrorIs(t, err, errTransmitFail)
}

func TestDisconnectAndPowerOff(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Disposition = scard.ResetCard
	fc := newFakeContext()
	d := newTestDriver(cfg, fc)

	require.NoError(t, d.PowerOn())
	var sc sebridge.SessionContext
	require.NoError(t, d.Connect(context.Background(), &sc))
	require.NoError(t, d.Disconnect(context.Background(), &sc))
	require.NoError(t, d.Disconnect(context.Background(), &sc), "disconnect without a card is a no-op")

	require.NoError(t, d.Connect(context.Background(), &sc))
	require.NoError(t, d.PowerOff())

	assert.Equal(t, []scard.Disposition{scard.ResetCard, scard.UnpowerCard}, fc.card.dispositions)
	assert.Equal(t, 1, fc.releases)
}

func TestSessionWithReader(t *testing.T) {
	t.Parallel()

	fc := newFakeContext()
	fc.card.transmitErr = errTransmitFail
	session := sebridge.NewSession(newTestDriver(DefaultConfig(), fc))

	in, err := sebridge.NewPacket(sebridge.KindWaitForCard, nil)
	require.NoError(t, err)
	var out sebridge.Packet
	reply, err := session.Process(context.Background(), in, &out)
	require.NoError(t, err)
	require.True(t, reply)
	assert.Equal(t, testutil.TestContactATR, out.Payload())

	in, err = sebridge.NewPacket(sebridge.KindAPDUData, []byte{0x00, 0xB0, 0x00, 0x00})
	require.NoError(t, err)
	_, err = session.Process(context.Background(), in, &out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x69, 0x82}, out.Payload())
	assert.Equal(t, int64(1), session.ElementFailures())
}
