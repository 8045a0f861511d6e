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

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-sebridge/apdu"
)

// MaxATRLength bounds the answer-to-reset kept in a SessionContext.
const MaxATRLength = 64

// SessionContext is the live secure element session handed to a Driver.
type SessionContext struct {
	atr        [MaxATRLength]byte
	atrLength  int
	StatusWord apdu.StatusWord
}

// Reset returns the context to its empty state, discarding any ATR.
func (sc *SessionContext) Reset() {
	sc.atrLength = 0
	sc.StatusWord = 0
}

// SetATR stores the answer-to-reset reported by the element on connect.
func (sc *SessionContext) SetATR(atr []byte) error {
	if len(atr) > MaxATRLength {
		return fmt.Errorf("%w: ATR of %d bytes exceeds %d", ErrInvalidParameter, len(atr), MaxATRLength)
	}
	sc.atrLength = copy(sc.atr[:], atr)
	return nil
}

// ATR returns the stored answer-to-reset. The slice aliases the context.
func (sc *SessionContext) ATR() []byte {
	return sc.atr[:sc.atrLength]
}

// Driver is the secure element collaborator driven by the Session.
//
// Disconnect releases the logical session only. It does not guarantee the
// physical link is torn down or the element powered off.
type Driver interface {
	// PowerOn powers the element. Idempotent.
	PowerOn() error

	// PowerOff removes power from the element. Idempotent.
	PowerOff() error

	// InitContext resets sc to its empty state
	InitContext(sc *SessionContext)

	// Connect establishes a session and stores the ATR in sc
	Connect(ctx context.Context, sc *SessionContext) error

	// Disconnect releases the logical session
	Disconnect(ctx context.Context, sc *SessionContext) error

	// Transceive sends command and writes the full response, status word
	// included, into response. The caller sizes response to MaxPayload;
	// the returned count is the number of bytes used.
	Transceive(ctx context.Context, command, response []byte) (int, error)
}
