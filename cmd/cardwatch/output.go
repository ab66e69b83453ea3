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

package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
	"github.com/ZaparooProject/go-cardwatch/history"
	"github.com/ZaparooProject/go-cardwatch/tagops"
)

const timeLayout = "2006-01-02 15:04:05"

// Output prints command results. It is also the watch command's console
// sink.
type Output struct {
	w  io.Writer
	mu sync.Mutex
}

// NewOutput creates an output writing to w
func NewOutput(w io.Writer) *Output {
	return &Output{w: w}
}

// Printf writes a formatted line
func (o *Output) Printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = fmt.Fprintf(o.w, format, args...)
}

// HandleEvent implements polling.Sink
func (o *Output) HandleEvent(_ context.Context, ev cardwatch.Event) error {
	o.Event(ev)
	return nil
}

// Event prints one sample result
func (o *Output) Event(ev cardwatch.Event) {
	at := ev.At.Local().Format(timeLayout)
	switch ev.Kind {
	case cardwatch.EventInserted:
		o.Printf("%s CARD: %s on %s\n", at, describe(ev.Card), ev.Reader)
	case cardwatch.EventSwapped:
		o.Printf("%s CARD: %s replaced %s on %s\n", at, describe(ev.Card), ev.Previous.UIDHex(), ev.Reader)
	case cardwatch.EventRemoved:
		o.Printf("%s REMOVED: %s from %s\n", at, ev.Previous.UIDHex(), ev.Reader)
	case cardwatch.EventUnchanged:
		if ev.Card == nil {
			o.Printf("%s no card on %s\n", at, ev.Reader)
			return
		}
		o.Printf("%s CARD: %s on %s\n", at, describe(ev.Card), ev.Reader)
	case cardwatch.EventError:
		o.Printf("%s ERROR: %v\n", at, ev.Err)
	}
}

func describe(card *cardwatch.CardIdentity) string {
	if card == nil {
		return "-"
	}
	s := fmt.Sprintf("%s (%s)", card.UIDHex(), card.Type)
	if !card.Confident() {
		s += " [ATR only, not unique]"
	}
	return s
}

// Readers prints attached reader labels
func (o *Output) Readers(readers []string) {
	if len(readers) == 0 {
		o.Printf("No readers found.\n")
		return
	}
	for i, r := range readers {
		o.Printf("%d: %s\n", i, r)
	}
}

// NDEF prints decoded records
func (o *Output) NDEF(content *tagops.Content) {
	if len(content.Records) == 0 {
		o.Printf("Empty NDEF message.\n")
		return
	}
	o.Printf("Found %d record(s)\n", len(content.Records))
	for i, r := range content.Records {
		o.Printf("  %d: [%s] %s\n", i+1, r.Type, r.Value)
	}
}

func (o *Output) table(header string, rows func(tw *tabwriter.Writer)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, header)
	rows(tw)
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// Cards prints the card history
func (o *Output) Cards(cards []history.Card) {
	if len(cards) == 0 {
		o.Printf("No cards found in the history.\n")
		return
	}
	o.table("UID\tNAME\tTYPE\tSEEN\tFIRST SEEN\tLAST SEEN", func(tw *tabwriter.Writer) {
		for _, c := range cards {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				c.UID, orDash(c.Name), c.CardType, c.SeenCount, formatTime(c.FirstSeen), formatTime(c.LastSeen))
		}
	})
}

// Sightings prints the sighting log
func (o *Output) Sightings(sightings []history.Sighting) {
	if len(sightings) == 0 {
		o.Printf("No sightings found.\n")
		return
	}
	o.table("AT\tEVENT\tUID\tREADER", func(tw *tabwriter.Writer) {
		for _, s := range sightings {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", formatTime(s.At), s.Event, s.UID, s.Reader)
		}
	})
}

// Locations prints locations
func (o *Output) Locations(locations []history.Location) {
	if len(locations) == 0 {
		o.Printf("No locations defined.\n")
		return
	}
	o.table("NAME\tDESCRIPTION", func(tw *tabwriter.Writer) {
		for _, l := range locations {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", l.Name, orDash(l.Description))
		}
	})
}

// Assignments prints the cards assigned to a location
func (o *Output) Assignments(assignments []history.Assignment) {
	if len(assignments) == 0 {
		o.Printf("No cards assigned.\n")
		return
	}
	o.table("UID\tLEVEL\tASSIGNED", func(tw *tabwriter.Writer) {
		for _, a := range assignments {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", a.UID, a.Level, formatTime(a.AssignedAt))
		}
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
