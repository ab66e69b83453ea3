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

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-cardwatch/history"
	"github.com/ZaparooProject/go-cardwatch/history/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) history.Store {
		return openTestStore(t)
	})
}

func TestOpen_EmptyPath(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), "")
	assert.ErrorIs(t, err, history.ErrInvalidInput)
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations;`).Scan(&count))
	ms, err := loadMigrations()
	require.NoError(t, err)
	assert.Equal(t, len(ms), count)
}

func TestParseVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{name: "0001_init.sql", want: 1},
		{name: "0012_add_index.sql", want: 12},
		{name: "0000_base.sql", want: 0},
		{name: "init.sql", wantErr: true},
		{name: "abc_init.sql", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseVersion(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_MillisecondPrecision(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	defer func() { _ = s.Close() }()

	at := time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC)
	sighting, err := s.RecordSighting(context.Background(), history.Observation{
		At: at, UID: "01", Event: history.EventInserted,
	})
	require.NoError(t, err)

	stored, err := s.Sightings(context.Background(), "01", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, sighting.ID, stored[0].ID)
	assert.True(t, sighting.At.Equal(stored[0].At))
	assert.Equal(t, 123000000, stored[0].At.Nanosecond())
}

func TestWorker_ClosedRejectsWork(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	require.NoError(t, s.Close())

	err := s.writer.do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, errWorkerClosed)
}

func TestWorker_RollsBackOnError(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	err := s.writer.do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO locations(name, created_at_ms) VALUES ('Lab', 0);`); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	locs, err := s.Locations(ctx)
	require.NoError(t, err)
	assert.Empty(t, locs)
}
