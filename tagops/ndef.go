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

// Package tagops reads NDEF content from NFC Forum Type 2 cards
// (MIFARE Ultralight, NTAG) through a PC/SC reader.
//
// Reads use the PC/SC READ BINARY pseudo-APDU (FF B0 00 <page> 10), which
// returns four pages per exchange starting at the given page. NDEF is best
// effort: cards without an NDEF TLV, and cards that reject READ BINARY,
// yield an error without affecting presence tracking.
package tagops

import (
	"context"
	"errors"
	"fmt"
	"time"

	ndef "github.com/hsanjuan/go-ndef"
	"github.com/status-im/keycard-go/apdu"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

const (
	firstUserPage = 4
	pagesPerRead  = 4
	bytesPerRead  = 16
	// maxUserBytes is the user memory of an NTAG216, the largest Type 2
	// card in common use.
	maxUserBytes = 888

	// DefaultReadTimeout is the budget for one READ BINARY exchange
	DefaultReadTimeout = 250 * time.Millisecond
)

// ErrReadRejected is returned when the card answers READ BINARY with a
// non-success status word.
var ErrReadRejected = errors.New("read binary rejected")

// Transmitter sends one APDU to a card. *cardwatch.Session implements it.
type Transmitter interface {
	Transmit(ctx context.Context, cmd []byte, budget time.Duration) ([]byte, error)
}

// Record is one decoded NDEF record.
type Record struct {
	Type  string
	Value string
	TNF   byte
}

// Content is the NDEF message read from a card.
type Content struct {
	Message *ndef.Message
	Raw     []byte
	Records []Record
}

// Text returns the value of the first text record
func (c *Content) Text() (string, bool) {
	for _, r := range c.Records {
		if r.Type == "T" {
			return r.Value, true
		}
	}
	return "", false
}

// ReadBinaryCommand builds READ BINARY for 16 bytes starting at page
func ReadBinaryCommand(page uint8) []byte {
	cmd := apdu.NewCommand(0xFF, 0xB0, 0x00, page, nil)
	cmd.SetLe(bytesPerRead)
	b, err := cmd.Serialize()
	if err != nil {
		panic(fmt.Sprintf("serialize read binary: %v", err))
	}
	return b
}

// ReadNDEF reads user memory page by page until the NDEF TLV is complete
// and decodes it. A budget of zero uses DefaultReadTimeout.
func ReadNDEF(ctx context.Context, card Transmitter, budget time.Duration) (*Content, error) {
	if budget <= 0 {
		budget = DefaultReadTimeout
	}

	var mem []byte
	for page := firstUserPage; len(mem) < maxUserBytes; page += pagesPerRead {
		chunk, err := readPages(ctx, card, uint8(page), budget)
		if err != nil {
			return nil, err
		}
		mem = append(mem, chunk...)

		payload, res, err := scanTLV(mem)
		if err != nil {
			return nil, err
		}
		switch res {
		case tlvFound:
			return Decode(payload)
		case tlvAbsent:
			return nil, ErrNoNDEF
		case tlvIncomplete:
		}
	}
	return nil, fmt.Errorf("%w: no terminator in %d bytes", ErrNoNDEF, len(mem))
}

func readPages(ctx context.Context, card Transmitter, page uint8, budget time.Duration) ([]byte, error) {
	raw, err := card.Transmit(ctx, ReadBinaryCommand(page), budget)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	resp, err := cardwatch.ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: page %d status %04X", ErrReadRejected, page, resp.SW)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: page %d returned no data", ErrReadRejected, page)
	}
	return resp.Data, nil
}

// Decode parses a raw NDEF message. An empty message, as found on freshly
// formatted cards, decodes to no records.
func Decode(raw []byte) (*Content, error) {
	if len(raw) == 0 {
		return &Content{}, nil
	}

	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("decode ndef: %w", err)
	}

	content := &Content{
		Message: msg,
		Raw:     append([]byte(nil), raw...),
		Records: make([]Record, 0, len(msg.Records)),
	}
	for _, r := range msg.Records {
		rec := Record{TNF: r.TNF(), Type: r.Type()}
		if payload, err := r.Payload(); err == nil && payload != nil {
			rec.Value = payload.String()
		}
		content.Records = append(content.Records, rec)
	}
	return content, nil
}

// EncodeText builds a single text record message, the layout written by
// common tag writers
func EncodeText(text string) ([]byte, error) {
	data, err := ndef.NewTextMessage(text, "en").Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode ndef: %w", err)
	}
	return data, nil
}
