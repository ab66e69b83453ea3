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

package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

// Payload is the JSON document published for each event.
type Payload struct {
	Event       string `json:"event"`
	Reader      string `json:"reader"`
	UID         string `json:"uid"`
	CardType    string `json:"card_type"`
	Source      string `json:"source"`
	PreviousUID string `json:"previous_uid"`
	Error       string `json:"error"`
	At          string `json:"at"`
}

// NewPayload renders an event. For a removal the departed card fills the
// card fields.
func NewPayload(ev cardwatch.Event) Payload {
	p := Payload{
		Event:  ev.Kind.String(),
		Reader: ev.Reader,
		At:     ev.At.UTC().Format(time.RFC3339),
	}

	card := ev.Card
	if ev.Kind == cardwatch.EventRemoved {
		card = ev.Previous
	}
	if card != nil {
		p.UID = card.UIDHex()
		p.CardType = card.Type.String()
		p.Source = card.Source.String()
	}
	if ev.Kind == cardwatch.EventSwapped && ev.Previous != nil {
		p.PreviousUID = ev.Previous.UIDHex()
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}

// Encode marshals the payload
func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode mqtt payload: %w", err)
	}
	return data, nil
}
