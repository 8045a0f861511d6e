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

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// Describe renders response data as an indented BER-TLV tree when it decodes
// cleanly, and as plain hex otherwise. Used for debug traces of FCI and
// GET DATA responses.
func Describe(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if !looksLikeTLV(data[0]) {
		return strings.ToUpper(hex.EncodeToString(data))
	}
	packets, err := bertlv.Decode(data)
	if err != nil || len(packets) == 0 {
		return strings.ToUpper(hex.EncodeToString(data))
	}

	var sb strings.Builder
	describeTLVs(&sb, packets, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func describeTLVs(sb *strings.Builder, packets []bertlv.TLV, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, p := range packets {
		if len(p.TLVs) > 0 {
			_, _ = fmt.Fprintf(sb, "%s%s\n", indent, strings.ToUpper(p.Tag))
			describeTLVs(sb, p.TLVs, depth+1)
			continue
		}
		_, _ = fmt.Fprintf(sb, "%s%s [%d] %s\n", indent, strings.ToUpper(p.Tag), len(p.Value),
			strings.ToUpper(hex.EncodeToString(p.Value)))
	}
}

// looksLikeTLV rejects leading bytes that are never a tag in ISO 7816 data
// objects, so arbitrary binary is not forced through the decoder.
func looksLikeTLV(first byte) bool {
	return first != 0x00 && first != 0xFF
}
