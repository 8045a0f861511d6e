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

// Command seprobe drives a sebridge from the host side: it waits for the
// secure element, sends APDUs and prints the replies.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ZaparooProject/go-sebridge/apdu"
	"github.com/ZaparooProject/go-sebridge/transport/quic"
	"github.com/ZaparooProject/go-sebridge/transport/uart"
	"github.com/lmittmann/tint"
)

// hexList collects repeated -apdu flags
type hexList [][]byte

func (h *hexList) String() string {
	parts := make([]string, 0, len(*h))
	for _, b := range *h {
		parts = append(parts, strings.ToUpper(hex.EncodeToString(b)))
	}
	return strings.Join(parts, ",")
}

func (h *hexList) Set(value string) error {
	cleaned := strings.NewReplacer(" ", "", ":", "").Replace(value)
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return fmt.Errorf("invalid APDU %q: %w", value, err)
	}
	if len(b) == 0 {
		return fmt.Errorf("%w: empty APDU", sebridge.ErrInvalidParameter)
	}
	*h = append(*h, b)
	return nil
}

type config struct {
	port     *string
	quicAddr *string
	apdus    hexList
	baud     *int
	delay    *uint
	timeout  *time.Duration
	close    *bool
	debug    *bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*config, error) {
	cfg := &config{
		port:     fs.String("port", "", "Serial port of the bridge (e.g., /dev/ttyUSB0 or COM3)"),
		baud:     fs.Int("baud", 115200, "Serial baud rate"),
		quicAddr: fs.String("quic", "", "Connect to a bridge serving QUIC on this address"),
		delay:    fs.Uint("delay", 0, "Ask the bridge to pause this many microseconds after the APDUs"),
		timeout:  fs.Duration("timeout", 10*time.Second, "Overall timeout"),
		close:    fs.Bool("close", true, "Close the element session when done"),
		debug:    fs.Bool("debug", false, "Enable debug output"),
	}
	fs.Var(&cfg.apdus, "apdu", "Command APDU in hex; may be repeated")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if (*cfg.port == "") == (*cfg.quicAddr == "") {
		return nil, fmt.Errorf("%w: exactly one of -port or -quic is required", sebridge.ErrInvalidParameter)
	}
	if *cfg.delay > 0xFFFF {
		return nil, fmt.Errorf("%w: delay %d exceeds 65535", sebridge.ErrInvalidParameter, *cfg.delay)
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))
	slog.SetDefault(logger)
	sebridge.SetLogger(logger)
	sebridge.SetDebugEnabled(*cfg.debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, *cfg.timeout)

	transport, err := connect(ctx, cfg)
	if err != nil {
		cancel()
		stop()
		slog.Error("failed to connect to bridge", "error", err)
		os.Exit(1)
	}

	err = run(ctx, transport, cfg, os.Stdout)
	_ = transport.Close()
	cancel()
	stop()
	if err != nil {
		slog.Error("probe failed", "error", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg *config) (sebridge.Transport, error) {
	if *cfg.quicAddr != "" {
		return quic.Dial(ctx, *cfg.quicAddr, nil)
	}
	uartCfg := uart.DefaultConfig(*cfg.port)
	uartCfg.BaudRate = *cfg.baud
	return uart.Open(ctx, uartCfg)
}

// run performs one probe session against the bridge on rw
func run(ctx context.Context, rw io.ReadWriter, cfg *config, out io.Writer) error {
	client := sebridge.NewClient(rw)

	atr, err := client.WaitForCard(ctx)
	if errors.Is(err, sebridge.ErrCardUnavailable) {
		_, _ = fmt.Fprintln(out, "Secure element unavailable (6982)")
		return err
	}
	if err != nil {
		return fmt.Errorf("wait for card: %w", err)
	}
	_, _ = fmt.Fprintf(out, "ATR: % X\n", atr)

	for _, cmd := range cfg.apdus {
		printCommand(out, cmd)
		data, sw, err := client.Transmit(ctx, cmd)
		if err != nil {
			return fmt.Errorf("transmit: %w", err)
		}
		printResponse(out, data, sw)
	}

	if *cfg.delay > 0 {
		if err := client.Delay(ctx, uint16(*cfg.delay)); err != nil {
			return fmt.Errorf("delay: %w", err)
		}
		_, _ = fmt.Fprintf(out, "Delay: %d us requested\n", *cfg.delay)
	}

	if *cfg.close {
		sw, err := client.Close(ctx)
		if err != nil {
			return fmt.Errorf("close: %w", err)
		}
		_, _ = fmt.Fprintf(out, "Close: %s\n", sw.Verbose())
	}
	return nil
}

func printCommand(out io.Writer, raw []byte) {
	if cmd, err := apdu.ParseCommand(raw); err == nil {
		_, _ = fmt.Fprintf(out, "> %s\n", cmd.String())
		return
	}
	_, _ = fmt.Fprintf(out, "> % X\n", raw)
}

func printResponse(out io.Writer, data []byte, sw apdu.StatusWord) {
	_, _ = fmt.Fprintf(out, "< %s\n", sw.Verbose())
	if len(data) == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "  %s\n", strings.ReplaceAll(apdu.Describe(data), "\n", "\n  "))
}
