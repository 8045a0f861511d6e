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

/*
Package sebridge bridges a host computer to a secure element chip over a
framed serial protocol.

The host sees a contact smart card reader: it sends WaitForCard to power up
a session and receive the ATR, ApduData packets carrying command APDUs, and
CloseConnection to release the session. The bridge forwards APDUs to a
secure element Driver and folds every driver failure into the ISO 7816
status word 69 82, so the host always receives a well formed card response.

Wire format (big-endian):

	byte 0:    kind      (0x00 WaitForCard, 0x01 ApduData, 0x03 CloseConnection)
	byte 1:    reserved  (0x00 on send, ignored on receive)
	bytes 2-3: length    (0..900)
	bytes 4..: payload

An ApduData payload starting with 0xFF is a delay request: bytes 2-3 hold a
duration in microseconds, applied in whole milliseconds. It never reaches
the secure element and is not answered.

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-sebridge"
	    "github.com/ZaparooProject/go-sebridge/driver/se05x"
	    "github.com/ZaparooProject/go-sebridge/transport/uart"
	)

	transport, err := uart.New("/dev/ttyACM0")
	if err != nil {
	    log.Fatal(err)
	}
	defer transport.Close()

	driver, err := se05x.New(se05x.DefaultConfig())
	if err != nil {
	    log.Fatal(err)
	}

	bridge, err := sebridge.NewBridge(transport, driver)
	if err != nil {
	    log.Fatal(err)
	}

	if err := bridge.Serve(ctx); sebridge.IsFatal(err) {
	    log.Fatalf("host link fault: %v", err)
	}

Drivers:

  - se05x: NXP SE05x over I2C (T=1 block protocol)
  - pcsc: any card in a PC/SC reader
  - sim: in-memory element hosting an NFC Forum Type 4 NDEF application

Error Handling:

Framing violations (unknown kind, length above 900) and short writes are
fatal. The byte stream cannot be resynchronized, so Serve returns the error
and the bridge stays in the BridgeFaulted state:

	if errors.Is(err, sebridge.ErrUnknownPacketKind) {
	    // host sent garbage, reopen the link
	}

Thread Safety:

A Bridge handles one transaction at a time on the goroutine calling Serve.
Reads have no timeout; close the transport to stop a blocked Serve.
*/
package sebridge
