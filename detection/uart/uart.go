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

// Package uart finds bridges on serial ports
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ZaparooProject/go-sebridge/detection"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// KnownBridges maps VID:PID pairs of USB serial chips bridges ship with to
// a description
var KnownBridges = map[string]string{
	"2E8A:000A": "Raspberry Pi RP2040 CDC",
	"303A:1001": "Espressif USB JTAG/serial",
	"10C4:EA60": "Silicon Labs CP210x",
	"0403:6001": "FTDI FT232R",
	"1A86:7523": "WCH CH340",
}

type (
	lister func() ([]*enumerator.PortDetails, error)
	prober func(ctx context.Context, path string, timeout time.Duration) bool
)

// detector implements detection.Detector for serial ports
type detector struct {
	list  lister
	probe prober
}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{list: enumerator.GetDetailedPortsList, probe: probeBridge}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(sebridge.TransportUART)
}

// Detect lists serial ports and, unless passive, probes them with a
// CloseConnection packet
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range ports {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
			continue
		}

		vidpid := ""
		if port.IsUSB {
			vidpid = detection.FormatVIDPID(port.VID, port.PID)
		}
		device := detection.DeviceInfo{
			Transport:  d.Transport(),
			Path:       port.Name,
			Name:       port.Name,
			Confidence: detection.Low,
			Metadata:   map[string]string{},
		}
		if vidpid != "" {
			device.Metadata["vidpid"] = vidpid
			if port.SerialNumber != "" {
				device.Metadata["serial"] = port.SerialNumber
			}
			if desc, ok := KnownBridges[vidpid]; ok {
				device.Name = desc
				device.Confidence = detection.Medium
			}
		}

		if opts.Mode != detection.Passive && !detection.IsBlocked(vidpid, opts.Blocklist) {
			if d.probe(ctx, port.Name, opts.Timeout) {
				device.Confidence = detection.High
				device.Metadata["probe"] = "close-connection"
			}
		}

		// Plain serial ports that did not answer are noise
		if device.Confidence == detection.Low && opts.Mode != detection.Passive {
			continue
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

var errProbeTimeout = errors.New("probe timed out")

// timeoutReader turns the 0, nil reads of an expired serial timeout into an
// error so the codec stops waiting
type timeoutReader struct {
	port serial.Port
}

func (r timeoutReader) Read(p []byte) (int, error) {
	n, err := r.port.Read(p)
	if err == nil && n == 0 {
		return 0, errProbeTimeout
	}
	return n, err
}

// probeBridge sends CloseConnection and accepts either status word reply.
// CloseConnection leaves an idle bridge idle.
func probeBridge(ctx context.Context, path string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return false
	}

	port, err := serial.Open(path, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return false
	}
	defer func() { _ = port.Close() }()
	if err := port.SetReadTimeout(timeout); err != nil {
		return false
	}
	_ = port.ResetInputBuffer()

	return probe(port, timeoutReader{port})
}

func probe(w io.Writer, r io.Reader) bool {
	request, err := sebridge.NewPacket(sebridge.KindCloseConnection, nil)
	if err != nil {
		return false
	}
	if err := sebridge.WritePacket(w, request); err != nil {
		return false
	}

	var reply sebridge.Packet
	if err := sebridge.ReadPacket(r, &reply); err != nil {
		return false
	}
	return reply.Kind == sebridge.KindCloseConnection && reply.Len() == 2
}
