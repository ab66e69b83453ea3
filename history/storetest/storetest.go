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

// Package storetest is a conformance suite run against every history.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-cardwatch/history"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) history.Store

var base = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

// Run executes the suite
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s history.Store)
	}{
		{name: "RecordCreatesCard", fn: testRecordCreatesCard},
		{name: "RepeatSightingsBumpCount", fn: testRepeatSightings},
		{name: "RemovalOnlyLogs", fn: testRemovalOnlyLogs},
		{name: "SightingsNewestFirst", fn: testSightingsOrder},
		{name: "SameInstantKeepsOrder", fn: testSameInstant},
		{name: "InvalidObservation", fn: testInvalidObservation},
		{name: "CardsOrderedByLastSeen", fn: testCardsOrder},
		{name: "SetCardName", fn: testSetCardName},
		{name: "Locations", fn: testLocations},
		{name: "Assignments", fn: testAssignments},
		{name: "Close", fn: testClose},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func inserted(uid string, at time.Time) history.Observation {
	return history.Observation{
		At:       at,
		UID:      uid,
		CardType: "MIFARE Classic 1K",
		Source:   "direct_uid",
		Reader:   "Reader 0",
		Event:    history.EventInserted,
	}
}

func removed(uid string, at time.Time) history.Observation {
	obs := inserted(uid, at)
	obs.Event = history.EventRemoved
	return obs
}

func testRecordCreatesCard(t *testing.T, s history.Store) {
	ctx := context.Background()
	sighting, err := s.RecordSighting(ctx, inserted("AABBCCDD", base))
	require.NoError(t, err)
	assert.NotEmpty(t, sighting.ID)
	assert.Equal(t, "AABBCCDD", sighting.UID)
	assert.Equal(t, history.EventInserted, sighting.Event)
	assert.True(t, base.Equal(sighting.At))

	card, err := s.Card(ctx, "AABBCCDD")
	require.NoError(t, err)
	assert.Equal(t, "AABBCCDD", card.UID)
	assert.Equal(t, "MIFARE Classic 1K", card.CardType)
	assert.Equal(t, "direct_uid", card.Source)
	assert.Equal(t, history.Frequency, card.Frequency)
	assert.Equal(t, 1, card.SeenCount)
	assert.True(t, base.Equal(card.FirstSeen))
	assert.True(t, base.Equal(card.LastSeen))

	_, err = s.Card(ctx, "00000000")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func testRepeatSightings(t *testing.T, s history.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.RecordSighting(ctx, inserted("AABBCCDD", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	obs := inserted("AABBCCDD", base.Add(time.Hour))
	obs.Source = "atr_fallback"
	_, err := s.RecordSighting(ctx, obs)
	require.NoError(t, err)

	card, err := s.Card(ctx, "AABBCCDD")
	require.NoError(t, err)
	assert.Equal(t, 4, card.SeenCount)
	assert.True(t, base.Equal(card.FirstSeen))
	assert.True(t, base.Add(time.Hour).Equal(card.LastSeen))
	assert.Equal(t, "atr_fallback", card.Source)
}

func testRemovalOnlyLogs(t *testing.T, s history.Store) {
	ctx := context.Background()
	_, err := s.RecordSighting(ctx, inserted("AABBCCDD", base))
	require.NoError(t, err)
	_, err = s.RecordSighting(ctx, removed("AABBCCDD", base.Add(time.Minute)))
	require.NoError(t, err)

	card, err := s.Card(ctx, "AABBCCDD")
	require.NoError(t, err)
	assert.Equal(t, 1, card.SeenCount)
	assert.True(t, base.Equal(card.LastSeen))

	_, err = s.RecordSighting(ctx, removed("11223344", base))
	require.NoError(t, err)
	_, err = s.Card(ctx, "11223344")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func testSightingsOrder(t *testing.T, s history.Store) {
	ctx := context.Background()
	record := []history.Observation{
		inserted("AA", base),
		removed("AA", base.Add(1*time.Second)),
		inserted("BB", base.Add(2*time.Second)),
		removed("BB", base.Add(3*time.Second)),
		inserted("AA", base.Add(4*time.Second)),
	}
	for _, obs := range record {
		_, err := s.RecordSighting(ctx, obs)
		require.NoError(t, err)
	}

	all, err := s.Sightings(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].At.After(all[i].At), "sightings must be newest first")
	}

	aa, err := s.Sightings(ctx, "AA", 0)
	require.NoError(t, err)
	require.Len(t, aa, 3)
	assert.Equal(t, history.EventInserted, aa[0].Event)
	assert.True(t, base.Add(4*time.Second).Equal(aa[0].At))
	assert.Equal(t, history.EventRemoved, aa[1].Event)

	limited, err := s.Sightings(ctx, "AA", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := s.Sightings(ctx, "CC", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSameInstant(t *testing.T, s history.Store) {
	ctx := context.Background()
	_, err := s.RecordSighting(ctx, inserted("AA", base))
	require.NoError(t, err)
	_, err = s.RecordSighting(ctx, removed("AA", base.Add(time.Second)))
	require.NoError(t, err)
	_, err = s.RecordSighting(ctx, inserted("BB", base.Add(time.Second)))
	require.NoError(t, err)

	all, err := s.Sightings(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BB", all[0].UID)
	assert.Equal(t, "AA", all[1].UID)
}

func testInvalidObservation(t *testing.T, s history.Store) {
	ctx := context.Background()
	_, err := s.RecordSighting(ctx, inserted("", base))
	require.ErrorIs(t, err, history.ErrInvalidInput)

	obs := inserted("AA", base)
	obs.Event = "tapped"
	_, err = s.RecordSighting(ctx, obs)
	require.ErrorIs(t, err, history.ErrInvalidInput)
}

func testCardsOrder(t *testing.T, s history.Store) {
	ctx := context.Background()
	empty, err := s.Cards(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i, uid := range []string{"01", "02", "03"} {
		_, err := s.RecordSighting(ctx, inserted(uid, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err = s.RecordSighting(ctx, inserted("01", base.Add(time.Hour)))
	require.NoError(t, err)

	cards, err := s.Cards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, "01", cards[0].UID)
	assert.Equal(t, "03", cards[1].UID)
	assert.Equal(t, "02", cards[2].UID)
}

func testSetCardName(t *testing.T, s history.Store) {
	ctx := context.Background()
	_, err := s.RecordSighting(ctx, inserted("AABBCCDD", base))
	require.NoError(t, err)

	require.NoError(t, s.SetCardName(ctx, "AABBCCDD", "Office badge"))
	card, err := s.Card(ctx, "AABBCCDD")
	require.NoError(t, err)
	assert.Equal(t, "Office badge", card.Name)

	_, err = s.RecordSighting(ctx, inserted("AABBCCDD", base.Add(time.Minute)))
	require.NoError(t, err)
	card, err = s.Card(ctx, "AABBCCDD")
	require.NoError(t, err)
	assert.Equal(t, "Office badge", card.Name, "sightings keep the name")

	assert.ErrorIs(t, s.SetCardName(ctx, "FFFF", "x"), history.ErrNotFound)
}

func testLocations(t *testing.T, s history.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutLocation(ctx, history.Location{Name: "Lab", Description: "Ground floor"}))
	require.NoError(t, s.PutLocation(ctx, history.Location{Name: "Front door"}))

	locs, err := s.Locations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "Front door", locs[0].Name)
	assert.Equal(t, "Lab", locs[1].Name)
	assert.Equal(t, "Ground floor", locs[1].Description)
	created := locs[1].CreatedAt
	assert.False(t, created.IsZero())

	require.NoError(t, s.PutLocation(ctx, history.Location{Name: "Lab", Description: "Moved upstairs"}))
	locs, err = s.Locations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "Moved upstairs", locs[1].Description)
	assert.True(t, created.Equal(locs[1].CreatedAt))

	assert.ErrorIs(t, s.PutLocation(ctx, history.Location{Name: "  "}), history.ErrInvalidInput)
}

func testAssignments(t *testing.T, s history.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutLocation(ctx, history.Location{Name: "Lab"}))
	require.NoError(t, s.PutLocation(ctx, history.Location{Name: "Garage"}))
	_, err := s.RecordSighting(ctx, inserted("BB", base))
	require.NoError(t, err)
	_, err = s.RecordSighting(ctx, inserted("AA", base))
	require.NoError(t, err)

	require.NoError(t, s.AssignCard(ctx, "Lab", "BB", 0))
	require.NoError(t, s.AssignCard(ctx, "Lab", "AA", 2))
	require.NoError(t, s.AssignCard(ctx, "Garage", "AA", 1))
	require.NoError(t, s.AssignCard(ctx, "Lab", "AA", 3))

	lab, err := s.CardsAt(ctx, "Lab")
	require.NoError(t, err)
	require.Len(t, lab, 2)
	assert.Equal(t, "AA", lab[0].UID)
	assert.Equal(t, 3, lab[0].Level)
	assert.Equal(t, "BB", lab[1].UID)
	assert.Equal(t, history.DefaultAccessLevel, lab[1].Level)
	assert.Equal(t, "Lab", lab[1].Location)

	garage, err := s.CardsAt(ctx, "Garage")
	require.NoError(t, err)
	assert.Len(t, garage, 1)

	assert.ErrorIs(t, s.AssignCard(ctx, "Attic", "AA", 1), history.ErrNotFound)
	assert.ErrorIs(t, s.AssignCard(ctx, "Lab", "CC", 1), history.ErrNotFound)
	assert.ErrorIs(t, s.AssignCard(ctx, "Lab", "AA", -1), history.ErrInvalidInput)
	_, err = s.CardsAt(ctx, "Attic")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func testClose(t *testing.T, s history.Store) {
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
