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

// Indicator is a binary status output, such as an LED. The bridge drives one
// while waiting for a packet and another while sending a reply.
type Indicator interface {
	Set(on bool) error
}

// IndicatorFunc adapts a function to the Indicator interface
type IndicatorFunc func(on bool) error

// Set calls f(on)
func (f IndicatorFunc) Set(on bool) error {
	return f(on)
}

type nopIndicator struct{}

func (nopIndicator) Set(bool) error { return nil }

func setIndicator(ind Indicator, on bool) {
	if err := ind.Set(on); err != nil {
		debugf("indicator update failed: %v", err)
	}
}
