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

package cardwatch

import "time"

// EventKind is the transition reported by one sample.
type EventKind int

const (
	EventUnchanged EventKind = iota
	EventInserted
	EventRemoved
	// EventSwapped replaces a removal followed by an insertion when the UID
	// on the reader changes between two samples.
	EventSwapped
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventUnchanged:
		return "unchanged"
	case EventInserted:
		return "inserted"
	case EventRemoved:
		return "removed"
	case EventSwapped:
		return "swapped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the outcome of one Sample call.
type Event struct {
	At time.Time
	// Err is set for EventError. It is an *Error of kind
	// KindDeviceUnavailable or KindCardReadExhausted, or the context error
	// when the sample was abandoned.
	Err error
	// Card is the inserted card for EventInserted and EventSwapped, and the
	// card still on the reader for EventUnchanged (nil when idle).
	Card *CardIdentity
	// Previous is the card that left the reader for EventRemoved and
	// EventSwapped.
	Previous *CardIdentity
	Reader   string
	Kind     EventKind
}

// ErrorKind returns the kind of Err, or KindUnknown
func (e Event) ErrorKind() ErrorKind {
	return KindOf(e.Err)
}

// IsTransition returns true for Inserted, Removed and Swapped events
func (e Event) IsTransition() bool {
	switch e.Kind {
	case EventInserted, EventRemoved, EventSwapped:
		return true
	default:
		return false
	}
}

// PresenceState is what the engine believes is on the reader.
type PresenceState struct {
	Since      time.Time
	LastSample time.Time
	Current    *CardIdentity
}

// Present returns true when a card is confirmed on the reader
func (s PresenceState) Present() bool {
	return s.Current != nil
}

func (s *PresenceState) transitionToPresent(id *CardIdentity, now time.Time) {
	s.Current = id
	s.Since = now
}

func (s *PresenceState) transitionToIdle(now time.Time) {
	if s.Current == nil {
		return
	}
	s.Current = nil
	s.Since = now
}
