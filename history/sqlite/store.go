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

// Package sqlite implements history.Store on SQLite through the pure-Go
// modernc.org/sqlite driver. Writes go through a single worker goroutine;
// reads use the pool directly.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ZaparooProject/go-cardwatch/history"
)

// Store implements history.Store
type Store struct {
	db     *sql.DB
	writer *worker
	now    func() time.Time
	once   sync.Once
}

var _ history.Store = (*Store)(nil)

// Open opens the database at path, creating its directory and applying
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", history.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, writer: newWorker(db), now: time.Now}, nil
}

// Close stops the writer and closes the database. It is safe to call more
// than once.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.writer.close()
		if cErr := s.db.Close(); cErr != nil {
			err = fmt.Errorf("close sqlite: %w", cErr)
		}
	})
	return err
}

func toMs(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// RecordSighting implements history.Store
func (s *Store) RecordSighting(ctx context.Context, obs history.Observation) (history.Sighting, error) {
	if err := obs.Validate(); err != nil {
		return history.Sighting{}, err
	}
	at := obs.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC().Truncate(time.Millisecond)

	sighting := history.Sighting{
		ID:     uuid.NewString(),
		UID:    obs.UID,
		Event:  obs.Event,
		Reader: obs.Reader,
		At:     at,
	}

	err := s.writer.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if obs.Event == history.EventInserted {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO cards(uid, card_type, source, frequency, first_seen_ms, last_seen_ms, seen_count)
VALUES (?, ?, ?, ?, ?, ?, 1)
ON CONFLICT(uid) DO UPDATE SET
  card_type    = excluded.card_type,
  source       = excluded.source,
  last_seen_ms = excluded.last_seen_ms,
  seen_count   = cards.seen_count + 1;
`, obs.UID, obs.CardType, obs.Source, history.Frequency, toMs(at), toMs(at)); err != nil {
				return fmt.Errorf("RecordSighting upsert card: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO sightings(id, uid, event, reader, at_ms) VALUES (?, ?, ?, ?, ?);
`, sighting.ID, sighting.UID, sighting.Event, sighting.Reader, toMs(at)); err != nil {
			return fmt.Errorf("RecordSighting insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return history.Sighting{}, err
	}
	return sighting, nil
}

const cardColumns = `uid, name, card_type, source, frequency, first_seen_ms, last_seen_ms, seen_count`

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (history.Card, error) {
	var (
		card        history.Card
		first, last int64
	)
	err := row.Scan(&card.UID, &card.Name, &card.CardType, &card.Source, &card.Frequency, &first, &last, &card.SeenCount)
	if err != nil {
		return history.Card{}, err
	}
	card.FirstSeen = fromMs(first)
	card.LastSeen = fromMs(last)
	return card, nil
}

// Card implements history.Store
func (s *Store) Card(ctx context.Context, uid string) (history.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE uid = ?;`, uid)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Card{}, fmt.Errorf("card %s: %w", uid, history.ErrNotFound)
	}
	if err != nil {
		return history.Card{}, fmt.Errorf("Card query: %w", err)
	}
	return card, nil
}

// Cards implements history.Store. Cards are ordered by last sighting,
// newest first.
func (s *Store) Cards(ctx context.Context) ([]history.Card, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY last_seen_ms DESC, uid;`)
	if err != nil {
		return nil, fmt.Errorf("Cards query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cards []history.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("Cards scan: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Cards rows: %w", err)
	}
	return cards, nil
}

// Sightings implements history.Store
func (s *Store) Sightings(ctx context.Context, uid string, limit int) ([]history.Sighting, error) {
	if limit <= 0 {
		limit = -1
	}

	var (
		rows *sql.Rows
		err  error
	)
	if uid == "" {
		rows, err = s.db.QueryContext(ctx, `
SELECT id, uid, event, reader, at_ms FROM sightings
ORDER BY at_ms DESC, seq DESC LIMIT ?;`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
SELECT id, uid, event, reader, at_ms FROM sightings WHERE uid = ?
ORDER BY at_ms DESC, seq DESC LIMIT ?;`, uid, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("Sightings query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sightings []history.Sighting
	for rows.Next() {
		var (
			sg history.Sighting
			at int64
		)
		if err := rows.Scan(&sg.ID, &sg.UID, &sg.Event, &sg.Reader, &at); err != nil {
			return nil, fmt.Errorf("Sightings scan: %w", err)
		}
		sg.At = fromMs(at)
		sightings = append(sightings, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Sightings rows: %w", err)
	}
	return sightings, nil
}

// SetCardName implements history.Store
func (s *Store) SetCardName(ctx context.Context, uid, name string) error {
	return s.writer.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE cards SET name = ? WHERE uid = ?;`, name, uid)
		if err != nil {
			return fmt.Errorf("SetCardName: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("SetCardName rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("card %s: %w", uid, history.ErrNotFound)
		}
		return nil
	})
}

// PutLocation implements history.Store. An existing location keeps its
// creation time and gets the new description.
func (s *Store) PutLocation(ctx context.Context, loc history.Location) error {
	if err := history.ValidateLocationName(loc.Name); err != nil {
		return err
	}
	created := loc.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	return s.writer.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO locations(name, description, created_at_ms) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET description = excluded.description;
`, loc.Name, loc.Description, toMs(created)); err != nil {
			return fmt.Errorf("PutLocation: %w", err)
		}
		return nil
	})
}

// Locations implements history.Store. Locations are ordered by name.
func (s *Store) Locations(ctx context.Context) ([]history.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description, created_at_ms FROM locations ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("Locations query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var locations []history.Location
	for rows.Next() {
		var (
			loc     history.Location
			created int64
		)
		if err := rows.Scan(&loc.Name, &loc.Description, &created); err != nil {
			return nil, fmt.Errorf("Locations scan: %w", err)
		}
		loc.CreatedAt = fromMs(created)
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Locations rows: %w", err)
	}
	return locations, nil
}

func exists(ctx context.Context, tx *sql.Tx, query string, arg any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AssignCard implements history.Store. Reassigning updates the level.
func (s *Store) AssignCard(ctx context.Context, location, uid string, level int) error {
	if level == 0 {
		level = history.DefaultAccessLevel
	}
	if level < 0 {
		return fmt.Errorf("%w: access level %d", history.ErrInvalidInput, level)
	}
	assigned := s.now()

	return s.writer.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM locations WHERE name = ?;`, location)
		if err != nil {
			return fmt.Errorf("AssignCard location: %w", err)
		}
		if !ok {
			return fmt.Errorf("location %s: %w", location, history.ErrNotFound)
		}
		ok, err = exists(ctx, tx, `SELECT 1 FROM cards WHERE uid = ?;`, uid)
		if err != nil {
			return fmt.Errorf("AssignCard card: %w", err)
		}
		if !ok {
			return fmt.Errorf("card %s: %w", uid, history.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO assignments(location, uid, level, assigned_at_ms) VALUES (?, ?, ?, ?)
ON CONFLICT(location, uid) DO UPDATE SET level = excluded.level, assigned_at_ms = excluded.assigned_at_ms;
`, location, uid, level, toMs(assigned)); err != nil {
			return fmt.Errorf("AssignCard insert: %w", err)
		}
		return nil
	})
}

// CardsAt implements history.Store. Assignments are ordered by UID.
func (s *Store) CardsAt(ctx context.Context, location string) ([]history.Assignment, error) {
	var known int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM locations WHERE name = ?;`, location).Scan(&known)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("location %s: %w", location, history.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("CardsAt location: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT location, uid, level, assigned_at_ms FROM assignments WHERE location = ? ORDER BY uid;
`, location)
	if err != nil {
		return nil, fmt.Errorf("CardsAt query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []history.Assignment
	for rows.Next() {
		var (
			a  history.Assignment
			at int64
		)
		if err := rows.Scan(&a.Location, &a.UID, &a.Level, &at); err != nil {
			return nil, fmt.Errorf("CardsAt scan: %w", err)
		}
		a.AssignedAt = fromMs(at)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("CardsAt rows: %w", err)
	}
	return assignments, nil
}
