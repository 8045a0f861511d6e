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
	"fmt"
	"log/slog"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ZaparooProject/go-sebridge/driver/pcsc"
	"github.com/ZaparooProject/go-sebridge/driver/se05x"
	"github.com/ZaparooProject/go-sebridge/driver/sim"
	"github.com/ZaparooProject/go-sebridge/indicator/gpio"
)

const (
	driverSE05x = "se05x"
	driverPCSC  = "pcsc"
	driverSim   = "sim"
)

// newDriver opens the driver named by cfg
func newDriver(cfg *config) (sebridge.Driver, func(), error) {
	switch *cfg.driver {
	case driverSE05x:
		seCfg := se05x.DefaultConfig()
		seCfg.BusName = *cfg.i2cBus
		seCfg.EnablePin = *cfg.enablePin
		d, err := se05x.New(seCfg)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using SE05x over I2C", "bus", *cfg.i2cBus, "enable_pin", *cfg.enablePin)
		return d, func() { _ = d.Close() }, nil
	case driverPCSC:
		pcCfg := pcsc.DefaultConfig()
		pcCfg.Reader = *cfg.reader
		d := pcsc.New(pcCfg)
		slog.Info("using PC/SC reader", "reader", *cfg.reader)
		return d, func() { _ = d.PowerOff() }, nil
	case driverSim:
		d, err := sim.NewText(*cfg.ndefText)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using simulated element", "ndef_text", *cfg.ndefText)
		return d, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown driver %q", sebridge.ErrInvalidParameter, *cfg.driver)
	}
}

// bridgeOptions builds the indicator and trace options
func bridgeOptions(cfg *config) ([]sebridge.Option, func(), error) {
	opts := []sebridge.Option{sebridge.WithTrace(tracePacket)}

	var rx, tx sebridge.Indicator
	if *cfg.ledRX != "" {
		led, err := gpio.Open(*cfg.ledRX, *cfg.ledLow)
		if err != nil {
			return nil, nil, err
		}
		rx = led
	}
	if *cfg.ledTX != "" {
		led, err := gpio.Open(*cfg.ledTX, *cfg.ledLow)
		if err != nil {
			return nil, nil, err
		}
		tx = led
	}
	if rx != nil || tx != nil {
		opts = append(opts, sebridge.WithIndicators(rx, tx))
	}

	// LEDs are left lit after a fault; turn them off on a clean exit.
	release := func() {
		for _, ind := range []sebridge.Indicator{rx, tx} {
			if ind != nil {
				_ = ind.Set(false)
			}
		}
	}
	return opts, release, nil
}
