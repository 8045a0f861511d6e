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

package apdu

import "fmt"

// Response is a response APDU (R-APDU): data followed by a status word.
type Response struct {
	Data []byte
	SW   StatusWord
}

// ParseResponse splits raw into data and the trailing status word.
// Data aliases raw.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}
	n := len(raw) - 2
	return &Response{Data: raw[:n], SW: NewStatusWord(raw[n], raw[n+1])}, nil
}

// NewResponse builds a response from data and a status word
func NewResponse(data []byte, sw StatusWord) *Response {
	return &Response{Data: data, SW: sw}
}

// Bytes returns data followed by SW1 SW2
func (r *Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.SW.SW1(), r.SW.SW2())
}

// String returns a short description for traces
func (r *Response) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.SW.Verbose())
}
