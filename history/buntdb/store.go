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

// Package buntdb implements history.Store on an embedded buntdb key-value
// file. Values are JSON documents; sightings are keyed by timestamp so key
// order is time order.
package buntdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"

	"github.com/ZaparooProject/go-cardwatch/history"
)

// MemoryPath opens a store that is never written to disk
const MemoryPath = ":memory:"

const sightingsByUID = "sightings_uid"

// Store implements history.Store
type Store struct {
	db  *buntdb.DB
	now func() time.Time
	// seq orders sightings that share a timestamp
	seq atomic.Uint64
}

var _ history.Store = (*Store)(nil)

// Open opens or creates the database file at path
func Open(path string) (*Store, error) {
	if path == "" {
		path = MemoryPath
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open buntdb %s: %w", path, err)
	}
	if err := db.CreateIndex(sightingsByUID, "sighting:*", buntdb.IndexJSON("uid")); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sighting index: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		if errors.Is(err, buntdb.ErrDatabaseClosed) {
			return nil
		}
		return fmt.Errorf("close buntdb: %w", err)
	}
	return nil
}

func cardKey(uid string) string {
	return "card:" + uid
}

func sightingKey(at time.Time, seq uint64, id string) string {
	return fmt.Sprintf("sighting:%020d:%010d:%s", at.UnixNano(), seq, id)
}

func locationKey(name string) string {
	return "location:" + name
}

func assignmentKey(location, uid string) string {
	return "assign:" + location + ":" + uid
}

// validName rejects names that would break key patterns
func validName(name string) error {
	if err := history.ValidateLocationName(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, ":*?") {
		return fmt.Errorf("%w: name %q", history.ErrInvalidInput, name)
	}
	return nil
}

// RecordSighting implements history.Store
func (s *Store) RecordSighting(ctx context.Context, obs history.Observation) (history.Sighting, error) {
	if err := ctx.Err(); err != nil {
		return history.Sighting{}, err
	}
	if err := obs.Validate(); err != nil {
		return history.Sighting{}, err
	}
	at := obs.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	sighting := history.Sighting{
		ID:     uuid.NewString(),
		UID:    obs.UID,
		Event:  obs.Event,
		Reader: obs.Reader,
		At:     at,
	}

	err := s.db.Update(func(tx *buntdb.Tx) error {
		if obs.Event == history.EventInserted {
			if err := upsertCard(tx, obs, at); err != nil {
				return err
			}
		}
		return setJSON(tx, sightingKey(at, s.seq.Add(1), sighting.ID), sighting)
	})
	if err != nil {
		return history.Sighting{}, fmt.Errorf("record sighting: %w", err)
	}
	return sighting, nil
}

func upsertCard(tx *buntdb.Tx, obs history.Observation, at time.Time) error {
	var card history.Card
	found, err := getJSON(tx, cardKey(obs.UID), &card)
	if err != nil {
		return err
	}
	if !found {
		card = history.Card{
			UID:       obs.UID,
			Frequency: history.Frequency,
			FirstSeen: at,
		}
	}
	card.CardType = obs.CardType
	card.Source = obs.Source
	card.LastSeen = at
	card.SeenCount++
	return setJSON(tx, cardKey(obs.UID), card)
}

// Card implements history.Store
func (s *Store) Card(ctx context.Context, uid string) (history.Card, error) {
	if err := ctx.Err(); err != nil {
		return history.Card{}, err
	}
	var card history.Card
	err := s.db.View(func(tx *buntdb.Tx) error {
		found, err := getJSON(tx, cardKey(uid), &card)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("card %s: %w", uid, history.ErrNotFound)
		}
		return nil
	})
	return card, err
}

// Cards implements history.Store. Cards are ordered by last sighting,
// newest first.
func (s *Store) Cards(ctx context.Context) ([]history.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cards []history.Card
	err := s.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys("card:*", func(_, value string) bool {
			var card history.Card
			if decodeErr = json.Unmarshal([]byte(value), &card); decodeErr != nil {
				return false
			}
			cards = append(cards, card)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].LastSeen.After(cards[j].LastSeen)
	})
	return cards, nil
}

// Sightings implements history.Store
func (s *Store) Sightings(ctx context.Context, uid string, limit int) ([]history.Sighting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sightings []history.Sighting
	err := s.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		collect := func(_, value string) bool {
			var sighting history.Sighting
			if decodeErr = json.Unmarshal([]byte(value), &sighting); decodeErr != nil {
				return false
			}
			sightings = append(sightings, sighting)
			return limit <= 0 || len(sightings) < limit
		}

		var err error
		if uid == "" {
			err = tx.DescendKeys("sighting:*", collect)
		} else {
			pivot, mErr := json.Marshal(map[string]string{"uid": uid})
			if mErr != nil {
				return mErr
			}
			err = tx.DescendEqual(sightingsByUID, string(pivot), collect)
		}
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, fmt.Errorf("list sightings: %w", err)
	}
	return sightings, nil
}

// SetCardName implements history.Store
func (s *Store) SetCardName(ctx context.Context, uid, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		var card history.Card
		found, err := getJSON(tx, cardKey(uid), &card)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("card %s: %w", uid, history.ErrNotFound)
		}
		card.Name = name
		return setJSON(tx, cardKey(uid), card)
	})
}

// PutLocation implements history.Store. An existing location keeps its
// creation time and gets the new description.
func (s *Store) PutLocation(ctx context.Context, loc history.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validName(loc.Name); err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		var existing history.Location
		found, err := getJSON(tx, locationKey(loc.Name), &existing)
		if err != nil {
			return err
		}
		switch {
		case found:
			loc.CreatedAt = existing.CreatedAt
		case loc.CreatedAt.IsZero():
			loc.CreatedAt = s.now().UTC()
		}
		return setJSON(tx, locationKey(loc.Name), loc)
	})
}

// Locations implements history.Store. Locations are ordered by name.
func (s *Store) Locations(ctx context.Context) ([]history.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var locations []history.Location
	err := s.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys("location:*", func(_, value string) bool {
			var loc history.Location
			if decodeErr = json.Unmarshal([]byte(value), &loc); decodeErr != nil {
				return false
			}
			locations = append(locations, loc)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locations, nil
}

// AssignCard implements history.Store. Reassigning updates the level.
func (s *Store) AssignCard(ctx context.Context, location, uid string, level int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if level == 0 {
		level = history.DefaultAccessLevel
	}
	if level < 0 {
		return fmt.Errorf("%w: access level %d", history.ErrInvalidInput, level)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(locationKey(location)); err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("location %s: %w", location, history.ErrNotFound)
			}
			return err
		}
		if _, err := tx.Get(cardKey(uid)); err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("card %s: %w", uid, history.ErrNotFound)
			}
			return err
		}
		return setJSON(tx, assignmentKey(location, uid), history.Assignment{
			Location:   location,
			UID:        uid,
			Level:      level,
			AssignedAt: s.now().UTC(),
		})
	})
}

// CardsAt implements history.Store. Assignments are ordered by UID.
func (s *Store) CardsAt(ctx context.Context, location string) ([]history.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validName(location); err != nil {
		return nil, err
	}
	var assignments []history.Assignment
	err := s.db.View(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(locationKey(location)); err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("location %s: %w", location, history.ErrNotFound)
			}
			return err
		}
		var decodeErr error
		err := tx.AscendKeys(assignmentKey(location, "*"), func(_, value string) bool {
			var a history.Assignment
			if decodeErr = json.Unmarshal([]byte(value), &a); decodeErr != nil {
				return false
			}
			assignments = append(assignments, a)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func getJSON(tx *buntdb.Tx, key string, v any) (bool, error) {
	value, err := tx.Get(key)
	if errors.Is(err, buntdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(tx *buntdb.Tx, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, _, err := tx.Set(key, string(data), nil); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
