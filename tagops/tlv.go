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

package tagops

import (
	"errors"
	"fmt"
)

// TLV block types found in NFC Forum Type 2 user memory
const (
	tlvNull       = 0x00
	tlvLockCtrl   = 0x01
	tlvMemoryCtrl = 0x02
	tlvNDEF       = 0x03
	tlvTerminator = 0xFE
	tlvLongLength = 0xFF
)

// MaxMessageSize caps the NDEF message length accepted from a card
const MaxMessageSize = 868

var (
	// ErrNoNDEF is returned when the card's user memory holds no NDEF TLV
	ErrNoNDEF = errors.New("no NDEF message on card")

	// ErrMalformedTLV is returned for TLV structures that cannot be parsed
	ErrMalformedTLV = errors.New("malformed TLV")
)

type tlvResult int

const (
	// tlvIncomplete means the data ends inside a TLV or before a
	// terminator; more memory must be read.
	tlvIncomplete tlvResult = iota
	tlvFound
	tlvAbsent
)

// scanTLV walks the TLV blocks in data and returns the value of the first
// NDEF TLV.
func scanTLV(data []byte) ([]byte, tlvResult, error) {
	i := 0
	for i < len(data) {
		typ := data[i]
		switch typ {
		case tlvNull:
			i++
			continue
		case tlvTerminator:
			return nil, tlvAbsent, nil
		}

		length, header, ok := tlvLength(data[i+1:])
		if !ok {
			return nil, tlvIncomplete, nil
		}
		if length > MaxMessageSize {
			return nil, tlvAbsent, fmt.Errorf("%w: type %02X length %d", ErrMalformedTLV, typ, length)
		}

		start := i + 1 + header
		end := start + length
		if end > len(data) {
			return nil, tlvIncomplete, nil
		}
		if typ == tlvNDEF {
			return data[start:end], tlvFound, nil
		}
		i = end
	}
	return nil, tlvIncomplete, nil
}

// tlvLength decodes a one or three byte TLV length field.
func tlvLength(b []byte) (length, header int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	if b[0] != tlvLongLength {
		return int(b[0]), 1, true
	}
	if len(b) < 3 {
		return 0, 0, false
	}
	return int(b[1])<<8 | int(b[2]), 3, true
}

// FindNDEFTLV returns the NDEF message held in a complete dump of Type 2
// user memory. A dump that ends before an NDEF or terminator TLV is
// reported as malformed.
func FindNDEFTLV(data []byte) ([]byte, error) {
	payload, res, err := scanTLV(data)
	if err != nil {
		return nil, err
	}
	switch res {
	case tlvFound:
		return payload, nil
	case tlvIncomplete:
		if len(data) == 0 {
			return nil, ErrNoNDEF
		}
		return nil, fmt.Errorf("%w: truncated after %d bytes", ErrMalformedTLV, len(data))
	default:
		return nil, ErrNoNDEF
	}
}
