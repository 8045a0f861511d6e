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

// Package gpio drives the bridge activity LEDs from GPIO pins
package gpio

import (
	"fmt"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pin is the output side of a GPIO pin
type Pin interface {
	Out(l gpio.Level) error
}

// LED is an indicator on a GPIO pin
type LED struct {
	pin       Pin
	name      string
	activeLow bool
}

// Open initializes the host drivers and returns the LED on the named pin
// (for example "GPIO17"). The LED starts off.
func Open(name string, activeLow bool) (*LED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: unknown GPIO %q", sebridge.ErrInvalidParameter, name)
	}
	led := New(pin, name, activeLow)
	if err := led.Set(false); err != nil {
		return nil, err
	}
	return led, nil
}

// New wraps an already resolved pin
func New(pin Pin, name string, activeLow bool) *LED {
	return &LED{pin: pin, name: name, activeLow: activeLow}
}

// Set lights the LED when on is true
func (l *LED) Set(on bool) error {
	level := gpio.Level(on != l.activeLow)
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("set %s: %w", l.name, err)
	}
	return nil
}

// String returns the pin name
func (l *LED) String() string {
	return l.name
}

// Ensure LED implements sebridge.Indicator
var _ sebridge.Indicator = (*LED)(nil)
