// go-cardwatch
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-cardwatch.
//
// go-cardwatch is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-cardwatch is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-cardwatch; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

/*
Package cardwatch identifies contactless smart cards on a reader and reports
when they arrive, leave or change.

The engine answers one question per tick: what card, if any, is on the
reader right now, and did that just change? It does not decide what to do
with the card; history, MQTT publishing and metrics live in their own
packages and consume the engine's events.

Identification tries the PC/SC GET DATA UID command (FF CA 00 00 00), then
the GlobalPlatform CPLC command (80 CA 9F 7F 00), and finally falls back to
the ATR itself. ATR-derived identities are marked with SourceATRFallback
because ATRs are shared by every card of a model.

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-cardwatch"
	    "github.com/ZaparooProject/go-cardwatch/pcsc"
	)

	backend, err := pcsc.New()
	if err != nil {
	    log.Fatal(err)
	}
	defer backend.Close()

	engine, err := cardwatch.New(backend,
	    cardwatch.WithMaxAttempts(3),
	    cardwatch.WithIgnoredReaders("*SAM*"),
	)
	if err != nil {
	    log.Fatal(err)
	}

	ticker := time.NewTicker(time.Second)
	for range ticker.C {
	    ev := engine.Sample(ctx)
	    switch ev.Kind {
	    case cardwatch.EventInserted:
	        fmt.Printf("card %s (%s)\n", ev.Card.UIDHex(), ev.Card.Type)
	    case cardwatch.EventRemoved:
	        fmt.Println("card removed")
	    }
	}

The polling package wraps this loop with manual scans and event sinks.

Error Handling:

Failures are values. Absence of a card is not an error event; device
unavailability and exhausted reads are reported as EventError and carry an
*Error whose Kind can be checked:

	if errors.Is(ev.Err, cardwatch.ErrCardReadExhausted) {
	    // warn the user and keep ticking
	}

Thread Safety:

Sample calls are serialized by the engine. A Backend is owned by one engine;
no other component may open sessions on the same reader while it runs.
*/
package cardwatch
