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
	"log/slog"

	sebridge "github.com/ZaparooProject/go-sebridge"
	"github.com/ZaparooProject/go-sebridge/apdu"
)

// tracePacket logs every packet at debug level with its APDU decoded
func tracePacket(dir sebridge.Direction, p *sebridge.Packet) {
	if !sebridge.DebugEnabled() {
		return
	}
	slog.Debug("packet", traceAttrs(dir, p)...)
}

func traceAttrs(dir sebridge.Direction, p *sebridge.Packet) []any {
	attrs := []any{"dir", dir.String(), "kind", p.Kind.String(), "length", p.Len()}
	if p.Kind != sebridge.KindAPDUData || p.Len() == 0 {
		return attrs
	}

	payload := p.Payload()
	if dir == sebridge.Inbound {
		if payload[0] == 0xFF {
			return append(attrs, "delay", "requested")
		}
		if cmd, err := apdu.ParseCommand(payload); err == nil {
			return append(attrs, "command", cmd.String())
		}
		return attrs
	}

	resp, err := apdu.ParseResponse(payload)
	if err != nil {
		return attrs
	}
	attrs = append(attrs, "sw", resp.SW.Verbose())
	if len(resp.Data) > 0 {
		attrs = append(attrs, "data", apdu.Describe(resp.Data))
	}
	return attrs
}
