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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()
	aid := []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

	tests := []struct {
		want    *Command
		wantErr error
		name    string
		raw     []byte
	}{
		{
			name: "case 1",
			raw:  []byte{0x00, 0x70, 0x80, 0x01},
			want: &Command{CLA: 0x00, INS: 0x70, P1: 0x80, P2: 0x01},
		},
		{
			name: "case 2 short with Le 00",
			raw:  []byte{0x00, 0xB0, 0x00, 0x00, 0x00},
			want: &Command{INS: InsReadBinary, Ne: 256, HasLe: true},
		},
		{
			name: "case 3 short",
			raw:  []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03},
			want: &Command{INS: InsSelect, P2: 0x0C, Data: []byte{0xE1, 0x03}},
		},
		{
			name: "case 4 short",
			raw:  append(append([]byte{0x00, 0xA4, 0x04, 0x00, 0x07}, aid...), 0x00),
			want: &Command{INS: InsSelect, P1: 0x04, Data: aid, Ne: 256, HasLe: true},
		},
		{
			name: "case 2 extended",
			raw:  []byte{0x00, 0xB0, 0x00, 0x00, 0x00, 0x01, 0x2C},
			want: &Command{INS: InsReadBinary, Ne: 300, HasLe: true},
		},
		{
			name: "case 4 extended",
			raw:  []byte{0x80, 0xCA, 0x00, 0x00, 0x00, 0x00, 0x01, 0xAA, 0x00, 0x00},
			want: &Command{CLA: 0x80, INS: InsGetData, Data: []byte{0xAA}, Ne: 65536, HasLe: true},
		},
		{
			name:    "header too short",
			raw:     []byte{0x00, 0xA4, 0x04},
			wantErr: ErrCommandTooShort,
		},
		{
			name:    "Lc larger than body",
			raw:     []byte{0x00, 0xA4, 0x04, 0x00, 0x05, 0x01},
			wantErr: ErrInvalidLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCommand(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseCommand() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ParseCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommandBytes(t *testing.T) {
	t.Parallel()
	raws := [][]byte{
		{0x00, 0x70, 0x80, 0x01},
		{0x00, 0xB0, 0x00, 0x02, 0x0F},
		{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x04},
		{0x00, 0xA4, 0x04, 0x00, 0x02, 0xA0, 0x00, 0x00},
		{0x00, 0xB0, 0x00, 0x00, 0x00, 0x01, 0x2C},
	}

	for _, raw := range raws {
		cmd, err := ParseCommand(raw)
		if err != nil {
			t.Fatalf("ParseCommand(% X) error: %v", raw, err)
		}
		if diff := cmp.Diff(raw, cmd.Bytes()); diff != "" {
			t.Errorf("Bytes() mismatch for % X (-want +got):\n%s", raw, diff)
		}
	}
}
