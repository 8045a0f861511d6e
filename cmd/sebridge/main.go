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

// Command sebridge exposes a secure element to a host over a serial or QUIC
// link, speaking the sebridge packet protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/lmittmann/tint"
)

const (
	exitOK    = 0
	exitError = 1
	// exitFault reports an unrecoverable host link framing fault
	exitFault = 2
)

type config struct {
	port      *string
	quicAddr  *string
	driver    *string
	i2cBus    *string
	enablePin *string
	reader    *string
	ledRX     *string
	ledTX     *string
	ndefText  *string
	baud      *int
	ledLow    *bool
	debug     *bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*config, error) {
	cfg := &config{
		port: fs.String("port", "auto",
			"Serial port of the host link (e.g., /dev/ttyACM0 or COM3), or \"auto\" to detect"),
		baud:     fs.Int("baud", 115200, "Serial baud rate"),
		quicAddr: fs.String("quic", "", "Serve the host link over QUIC on this address instead of a serial port"),
		driver:   fs.String("driver", "se05x", "Secure element driver: se05x, pcsc or sim"),
		i2cBus:   fs.String("i2c-bus", "", "I2C bus of the SE05x (default: first bus)"),
		enablePin: fs.String("enable-pin", "",
			"GPIO powering the SE05x (e.g., GPIO22). Leave empty if always powered"),
		reader:   fs.String("reader", "", "PC/SC reader name substring (default: first reader)"),
		ledRX:    fs.String("led-rx", "", "GPIO of the receive LED"),
		ledTX:    fs.String("led-tx", "", "GPIO of the transmit LED"),
		ledLow:   fs.Bool("led-active-low", false, "LEDs light when their pin is low"),
		ndefText: fs.String("ndef-text", "Hello from sebridge", "Text record served by the sim driver"),
		debug:    fs.Bool("debug", false, "Enable debug output"),
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch *cfg.driver {
	case driverSE05x, driverPCSC, driverSim:
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", sebridge.ErrInvalidParameter, *cfg.driver)
	}
	if *cfg.baud <= 0 {
		return nil, fmt.Errorf("%w: baud rate %d", sebridge.ErrInvalidParameter, *cfg.baud)
	}
	return cfg, nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)
	sebridge.SetLogger(logger)
	sebridge.SetDebugEnabled(debug)
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitError)
	}
	setupLogging(*cfg.debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config) int {
	driver, closeDriver, err := newDriver(cfg)
	if err != nil {
		slog.Error("failed to open secure element driver", "driver", *cfg.driver, "error", err)
		return exitError
	}
	defer closeDriver()

	opts, closeLEDs, err := bridgeOptions(cfg)
	if err != nil {
		slog.Error("failed to open indicators", "error", err)
		return exitError
	}
	defer closeLEDs()

	if *cfg.quicAddr != "" {
		err = serveQUIC(ctx, *cfg.quicAddr, driver, opts)
	} else {
		err = serveUART(ctx, cfg, driver, opts)
	}
	return exitCode(ctx, err)
}

func exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return exitOK
	case sebridge.IsFatal(err):
		slog.Error("host link framing fault", "error", err)
		return exitFault
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		slog.Info("shutting down")
		return exitOK
	default:
		slog.Error("bridge stopped", "error", err)
		return exitError
	}
}

// closeOnDone closes c when ctx ends, unblocking a Serve stuck in Read
func closeOnDone(ctx context.Context, c interface{ Close() error }) (release func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func logStats(bridge *sebridge.Bridge) {
	stats := bridge.Stats()
	slog.Info("bridge statistics",
		"transactions", stats.Transactions,
		"replies", stats.Replies,
		"delays", stats.Delays,
		"element_failures", stats.ElementFailures,
		"framing_faults", stats.FramingFaults)
}
