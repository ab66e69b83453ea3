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

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

// Recorder turns engine events into sightings. It implements polling.Sink.
type Recorder struct {
	store Store
	log   logrus.FieldLogger
}

// NewRecorder creates a recorder writing to store. A nil logger uses the
// standard logger.
func NewRecorder(store Store, log logrus.FieldLogger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{store: store, log: log}
}

// HandleEvent records inserted, removed and swapped events. A swap is
// written as the removal of the previous card followed by the insertion of
// the new one. Other events are ignored.
func (r *Recorder) HandleEvent(ctx context.Context, ev cardwatch.Event) error {
	switch ev.Kind {
	case cardwatch.EventInserted:
		return r.record(ctx, ev, ev.Card, EventInserted)
	case cardwatch.EventRemoved:
		return r.record(ctx, ev, ev.Previous, EventRemoved)
	case cardwatch.EventSwapped:
		if err := r.record(ctx, ev, ev.Previous, EventRemoved); err != nil {
			return err
		}
		return r.record(ctx, ev, ev.Card, EventInserted)
	case cardwatch.EventUnchanged, cardwatch.EventError:
		return nil
	default:
		return nil
	}
}

func (r *Recorder) record(ctx context.Context, ev cardwatch.Event, card *cardwatch.CardIdentity, event string) error {
	if card == nil {
		return nil
	}

	s, err := r.store.RecordSighting(ctx, ObservationFor(card, event, ev.At))
	if err != nil {
		return fmt.Errorf("record %s sighting of %s: %w", event, card.UIDHex(), err)
	}
	r.log.WithFields(logrus.Fields{
		"uid":      s.UID,
		"event":    s.Event,
		"sighting": s.ID,
	}).Debug("sighting recorded")
	return nil
}

// ObservationFor builds an observation from a card identity
func ObservationFor(card *cardwatch.CardIdentity, event string, at time.Time) Observation {
	return Observation{
		At:       at,
		UID:      card.UIDHex(),
		CardType: card.Type.String(),
		Source:   card.Source.String(),
		Reader:   card.Reader,
		Event:    event,
	}
}
