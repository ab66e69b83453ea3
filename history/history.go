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

// Package history keeps a record of the cards seen by a reader: one row per
// card with first and last sighting, an append-only sighting log, and named
// locations cards can be assigned to.
//
// Assignments are bookkeeping. Nothing in this package decides whether a
// card may open anything.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency is the carrier frequency recorded for every card; all supported
// readers are ISO 14443 devices.
const Frequency = "13.56 MHz"

// DefaultAccessLevel is used by AssignCard when level is zero
const DefaultAccessLevel = 1

// Sighting event names
const (
	EventInserted = "inserted"
	EventRemoved  = "removed"
)

// Store errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("store closed")
)

// Card is one physical card, keyed by its upper-case hex UID.
type Card struct {
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	UID       string    `json:"uid"`
	Name      string    `json:"name,omitempty"`
	CardType  string    `json:"card_type"`
	Source    string    `json:"source"`
	Frequency string    `json:"frequency"`
	SeenCount int       `json:"seen_count"`
}

// Sighting is one arrival or departure of a card.
type Sighting struct {
	At     time.Time `json:"at"`
	ID     string    `json:"id"`
	UID    string    `json:"uid"`
	Event  string    `json:"event"`
	Reader string    `json:"reader"`
}

// Observation is what RecordSighting is told about a card event.
type Observation struct {
	At       time.Time
	UID      string
	CardType string
	Source   string
	Reader   string
	Event    string
}

// Validate checks the observation has a UID and a known event
func (o Observation) Validate() error {
	if o.UID == "" {
		return errors.Join(ErrInvalidInput, errors.New("observation without uid"))
	}
	if o.Event != EventInserted && o.Event != EventRemoved {
		return errors.Join(ErrInvalidInput, errors.New("unknown event "+o.Event))
	}
	return nil
}

// ValidateLocationName rejects blank location names
func ValidateLocationName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: blank location name", ErrInvalidInput)
	}
	return nil
}

// Location is a named place cards can be assigned to.
type Location struct {
	CreatedAt   time.Time `json:"created_at"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// Assignment links a card to a location with an access level.
type Assignment struct {
	AssignedAt time.Time `json:"assigned_at"`
	Location   string    `json:"location"`
	UID        string    `json:"uid"`
	Level      int       `json:"level"`
}

// Store persists card history.
//
// RecordSighting creates the card on its first inserted sighting and bumps
// SeenCount on every later one; removals only append to the log. Sightings
// are returned newest first; an empty uid lists all cards and a limit of
// zero or less means no limit.
type Store interface {
	RecordSighting(ctx context.Context, obs Observation) (Sighting, error)
	Card(ctx context.Context, uid string) (Card, error)
	Cards(ctx context.Context) ([]Card, error)
	Sightings(ctx context.Context, uid string, limit int) ([]Sighting, error)
	SetCardName(ctx context.Context, uid, name string) error
	PutLocation(ctx context.Context, loc Location) error
	Locations(ctx context.Context) ([]Location, error)
	AssignCard(ctx context.Context, location, uid string, level int) error
	CardsAt(ctx context.Context, location string) ([]Assignment, error)
	Close() error
}
