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

package uart

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-sebridge/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

var errEnumerate = errors.New("enumeration failed")

func testPorts() []*enumerator.PortDetails {
	return []*enumerator.PortDetails{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2e8a", PID: "000a", SerialNumber: "E6614C311B"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "55d3"},
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM1", IsUSB: true, VID: "1234", PID: "5678"},
	}
}

func newTestDetector(responding map[string]bool, probed *[]string) *detector {
	return &detector{
		list: func() ([]*enumerator.PortDetails, error) { return testPorts(), nil },
		probe: func(_ context.Context, path string, _ time.Duration) bool {
			*probed = append(*probed, path)
			return responding[path]
		},
	}
}

func TestDetect_Passive(t *testing.T) {
	t.Parallel()

	var probed []string
	d := newTestDetector(nil, &probed)
	opts := detection.DefaultOptions()
	opts.Mode = detection.Passive

	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	assert.Empty(t, probed)
	require.Len(t, devices, 4)

	assert.Equal(t, "Raspberry Pi RP2040 CDC", devices[0].Name)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Equal(t, "2E8A:000A", devices[0].Metadata["vidpid"])
	assert.Equal(t, "E6614C311B", devices[0].Metadata["serial"])
	assert.Equal(t, detection.Low, devices[2].Confidence)
}

func TestDetect_Safe(t *testing.T) {
	t.Parallel()

	var probed []string
	d := newTestDetector(map[string]bool{"/dev/ttyACM1": true, "/dev/ttyUSB0": true}, &probed)
	opts := detection.DefaultOptions()
	opts.IgnorePaths = []string{"/dev/ttyS0"}

	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)

	// The blocklisted CH343 is never probed
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyACM1"}, probed)

	require.Len(t, devices, 2)
	assert.Equal(t, "/dev/ttyACM0", devices[0].Path)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Equal(t, "/dev/ttyACM1", devices[1].Path)
	assert.Equal(t, detection.High, devices[1].Confidence)
	assert.Equal(t, "close-connection", devices[1].Metadata["probe"])
}

func TestDetect_Errors(t *testing.T) {
	t.Parallel()

	d := &detector{list: func() ([]*enumerator.PortDetails, error) { return nil, errEnumerate }}
	opts := detection.DefaultOptions()
	_, err := d.Detect(context.Background(), &opts)
	require.ErrorIs(t, err, errEnumerate)

	d = &detector{list: func() ([]*enumerator.PortDetails, error) { return nil, nil }}
	_, err = d.Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply []byte
		want  bool
	}{
		{name: "idle bridge", reply: []byte{0x03, 0x00, 0x00, 0x02, 0x90, 0x00}, want: true},
		{name: "bridge without element", reply: []byte{0x03, 0x00, 0x00, 0x02, 0x69, 0x82}, want: true},
		{name: "wrong kind", reply: []byte{0x01, 0x00, 0x00, 0x02, 0x90, 0x00}, want: false},
		{name: "garbage", reply: []byte("AT+OK\r\n"), want: false},
		{name: "silent", reply: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var written bytes.Buffer
			got := probe(&written, bytes.NewReader(tt.reply))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00}, written.Bytes())
		})
	}
}
