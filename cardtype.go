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

import (
	"bytes"
	"time"
)

// atrPreviewLen is the number of ATR bytes kept for unknown cards.
const atrPreviewLen = 8

// Family identifies a card family.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyJCOP3
	FamilyJCOP241
	FamilyJCOP24
	FamilyJCOP3SECID
	FamilyDESFire
	FamilyMIFAREClassic
	FamilyUltralight
)

// ResponseClass groups card families by how quickly they answer commands.
type ResponseClass int

const (
	ResponseFast ResponseClass = iota
	ResponseDefault
	ResponseSlow
)

// CardType is the classifier's verdict for one ATR.
type CardType struct {
	Name       string
	ATRPreview string
	Family     Family
	Class      ResponseClass
}

// Known returns false for cards that matched no table entry
func (c CardType) Known() bool {
	return c.Family != FamilyUnknown
}

func (c CardType) String() string {
	if c.Known() {
		return c.Name
	}
	if c.ATRPreview == "" {
		return "Unknown"
	}
	return "Unknown (" + c.ATRPreview + ")"
}

type atrPrefix struct {
	name   string
	prefix []byte
	family Family
	class  ResponseClass
}

// PC/SC part 3 storage card ATR header, followed by the two-byte card name.
var pcscStorageHeader = []byte{
	0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03,
}

func storagePrefix(name0, name1 byte) []byte {
	p := append([]byte(nil), pcscStorageHeader...)
	return append(p, name0, name1)
}

// atrTable is matched in order and the first hit wins. The JCOP 3 two-byte
// prefixes stay on top; JCOP 2.4.1 must precede its own prefix JCOP 2.4.
var atrTable = []atrPrefix{
	{name: "JCOP 3 (J3R200)", prefix: []byte{0x3B, 0xF8}, family: FamilyJCOP3, class: ResponseDefault},
	{name: "JCOP 3 (J3R200)", prefix: []byte{0x3B, 0x88}, family: FamilyJCOP3, class: ResponseDefault},
	{
		name:   "JCOP 2.4.1",
		prefix: []byte{0x3B, 0x8A, 0x80, 0x01, 0x4A, 0x43, 0x4F, 0x50, 0x32, 0x34, 0x31},
		family: FamilyJCOP241,
		class:  ResponseDefault,
	},
	{
		name:   "JCOP 2.4",
		prefix: []byte{0x3B, 0x8A, 0x80, 0x01, 0x4A, 0x43, 0x4F, 0x50, 0x32, 0x34},
		family: FamilyJCOP24,
		class:  ResponseDefault,
	},
	{
		name:   "JCOP 3 SECID",
		prefix: []byte{0x3B, 0x8B, 0x80, 0x01, 0x4A, 0x43, 0x4F, 0x50, 0x33, 0x53},
		family: FamilyJCOP3SECID,
		class:  ResponseDefault,
	},
	{
		name:   "MIFARE DESFire",
		prefix: []byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80},
		family: FamilyDESFire,
		class:  ResponseDefault,
	},
	{name: "MIFARE Classic 1K", prefix: storagePrefix(0x00, 0x01), family: FamilyMIFAREClassic, class: ResponseFast},
	{name: "MIFARE Classic 4K", prefix: storagePrefix(0x00, 0x02), family: FamilyMIFAREClassic, class: ResponseFast},
	{name: "MIFARE Ultralight / NTAG", prefix: storagePrefix(0x00, 0x03), family: FamilyUltralight, class: ResponseFast},
}

// Classify maps an ATR to a card type. It never fails: unmatched ATRs give
// an Unknown type carrying a hex preview of the first bytes.
func Classify(atr []byte) CardType {
	for _, entry := range atrTable {
		if bytes.HasPrefix(atr, entry.prefix) {
			return CardType{
				Name:   entry.name,
				Family: entry.family,
				Class:  entry.class,
			}
		}
	}

	preview := atr
	if len(preview) > atrPreviewLen {
		preview = preview[:atrPreviewLen]
	}
	return CardType{
		Name:       "Unknown",
		ATRPreview: EncodeUID(preview),
		Family:     FamilyUnknown,
		Class:      ResponseSlow,
	}
}

// Timeouts is the per-exchange time budget for each response class.
type Timeouts struct {
	Fast    time.Duration
	Default time.Duration
	Slow    time.Duration
}

// DefaultTimeouts returns the default exchange budgets
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Fast:    250 * time.Millisecond,
		Default: 500 * time.Millisecond,
		Slow:    1500 * time.Millisecond,
	}
}

// For returns the budget for a card type
func (t Timeouts) For(ct CardType) time.Duration {
	switch ct.Class {
	case ResponseFast:
		return t.Fast
	case ResponseDefault:
		return t.Default
	case ResponseSlow:
		return t.Slow
	default:
		return t.Slow
	}
}

// Validate checks that every budget is positive
func (t Timeouts) Validate() error {
	if t.Fast <= 0 || t.Default <= 0 || t.Slow <= 0 {
		return ErrInvalidOption
	}
	return nil
}
