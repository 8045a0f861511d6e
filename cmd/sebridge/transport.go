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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ZaparooProject/go-sebridge/detection"
	// Import the serial detector to register it
	_ "github.com/ZaparooProject/go-sebridge/detection/uart"
	"github.com/ZaparooProject/go-sebridge/transport/quic"
	"github.com/ZaparooProject/go-sebridge/transport/uart"
)

const autoPort = "auto"

// resolvePort returns the configured port, detecting one for "auto"
func resolvePort(ctx context.Context, port string) (string, error) {
	if port != autoPort {
		return port, nil
	}

	opts := detection.DefaultOptions()
	opts.Mode = detection.Passive
	opts.Transports = []string{string(sebridge.TransportUART)}

	devices, err := detection.DetectAllContext(ctx, &opts)
	if err != nil {
		return "", fmt.Errorf("auto-detect serial port: %w", err)
	}
	for _, d := range devices {
		if d.Confidence >= detection.Medium {
			slog.Info("auto-detected host link", "port", d.Path, "device", d.Name)
			return d.Path, nil
		}
	}
	return "", fmt.Errorf("auto-detect serial port: %w", detection.ErrNoDevicesFound)
}

// serveUART runs one bridge on the serial link until it fails
func serveUART(ctx context.Context, cfg *config, driver sebridge.Driver, opts []sebridge.Option) error {
	port, err := resolvePort(ctx, *cfg.port)
	if err != nil {
		return err
	}

	uartCfg := uart.DefaultConfig(port)
	uartCfg.BaudRate = *cfg.baud
	transport, err := uart.Open(ctx, uartCfg)
	if err != nil {
		return err
	}
	defer func() { _ = transport.Close() }()
	release := closeOnDone(ctx, transport)
	defer release()

	bridge, err := sebridge.NewBridge(transport, driver, opts...)
	if err != nil {
		return err
	}
	slog.Info("bridge ready", "port", port, "baud", uartCfg.BaudRate)

	err = bridge.Serve(ctx)
	logStats(bridge)
	return err
}

// serveQUIC serves hosts one at a time. A framing fault only ends the
// offending connection.
func serveQUIC(ctx context.Context, addr string, driver sebridge.Driver, opts []sebridge.Option) error {
	listener, err := quic.Listen(addr, nil)
	if err != nil {
		return err
	}
	release := closeOnDone(ctx, listener)
	defer release()
	defer func() { _ = listener.Close() }()
	slog.Info("bridge listening", "quic", listener.Addr().String())

	// The element is powered once for the whole process.
	if err := driver.PowerOn(); err != nil {
		slog.Warn("secure element power on failed", "error", err)
	}
	// One session for the process lifetime: a host that reconnects finds the
	// element as the previous host left it.
	session := sebridge.NewSession(driver)
	opts = append(opts, sebridge.WithoutPowerOn(), sebridge.WithSession(session))

	for {
		transport, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		slog.Info("host connected", "remote", transport.RemoteAddr())

		err = serveConn(ctx, transport, driver, opts)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case sebridge.IsFatal(err):
			slog.Warn("host link framing fault, dropping connection", "remote", transport.RemoteAddr(), "error", err)
		case errors.Is(err, sebridge.ErrTransportClosed), errors.Is(err, sebridge.ErrTransportRead):
			slog.Info("host disconnected", "remote", transport.RemoteAddr())
		case err != nil:
			slog.Warn("host connection ended", "remote", transport.RemoteAddr(), "error", err)
		}
	}
}

func serveConn(ctx context.Context, transport *quic.Transport, driver sebridge.Driver, opts []sebridge.Option) error {
	defer func() { _ = transport.Close() }()
	release := closeOnDone(ctx, transport)
	defer release()

	bridge, err := sebridge.NewBridge(transport, driver, opts...)
	if err != nil {
		return err
	}
	err = bridge.Serve(ctx)
	logStats(bridge)
	return err
}
