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

// Package testing holds canned ATRs and card responses shared by tests.
package testing

// Sample ATRs as reported by PC/SC readers
var (
	// ATRJCOP3 is a JCOP 3 J3R200 contactless ATR
	ATRJCOP3 = []byte{0x3B, 0xF8, 0x80, 0x01, 0x80, 0x31, 0x80, 0x65, 0xB0, 0x85}

	// ATRJCOP241 carries the "JCOP241" historical bytes
	ATRJCOP241 = []byte{0x3B, 0x8A, 0x80, 0x01, 0x4A, 0x43, 0x4F, 0x50, 0x32, 0x34, 0x31, 0x52, 0x33}

	// ATRJCOP24 carries the "JCOP24" historical bytes followed by a
	// non-"1" byte
	ATRJCOP24 = []byte{0x3B, 0x8A, 0x80, 0x01, 0x4A, 0x43, 0x4F, 0x50, 0x32, 0x34, 0x32, 0x52}

	// ATRJCOP3SECID is a JCOP 3 SECID ATR
	ATRJCOP3SECID = []byte{0x3B, 0x8B, 0x80, 0x01, 0x4A, 0x43, 0x4F, 0x50, 0x33, 0x53, 0x45, 0x43}

	// ATRDESFire is the MIFARE DESFire EV1 ATR
	ATRDESFire = []byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80}

	// ATRClassic1K is the PC/SC part 3 ATR for MIFARE Classic 1K
	ATRClassic1K = []byte{
		0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00,
		0x03, 0x06, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x6A,
	}

	// ATRClassic4K is the PC/SC part 3 ATR for MIFARE Classic 4K
	ATRClassic4K = []byte{
		0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00,
		0x03, 0x06, 0x03, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x69,
	}

	// ATRUltralight is the PC/SC part 3 ATR for MIFARE Ultralight / NTAG
	ATRUltralight = []byte{
		0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00,
		0x03, 0x06, 0x03, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x68,
	}

	// ATRUnknown matches no known family
	ATRUnknown = []byte{0x3B, 0x6E, 0x00, 0x00, 0x80, 0x31, 0x80, 0x66, 0xB0, 0x84, 0x12}
)

// Sample UIDs
var (
	TestUID4 = []byte{0xAA, 0xBB, 0xCC, 0xDD}
	TestUID7 = []byte{0x04, 0xAB, 0xCD, 0xEF, 0x12, 0x34, 0x56}
)

// Status words
const (
	SWSuccess          = 0x9000
	SWFunctionNotSupp  = 0x6A81
	SWInsNotSupported  = 0x6D00
	SWWrongParameters  = 0x6B00
	SWConditionsNotMet = 0x6985
)

// BuildResponse appends a status word to data
func BuildResponse(data []byte, sw uint16) []byte {
	out := append([]byte(nil), data...)
	return append(out, byte(sw>>8), byte(sw))
}

// BuildCPLC creates a GET DATA CPLC response payload (tag 9F 7F, 42 bytes)
// with the given fabricator, IC serial number and batch identifier.
func BuildCPLC(fabricator [2]byte, serial [4]byte, batch [2]byte) []byte {
	value := make([]byte, 42)
	copy(value[0:2], fabricator[:])
	copy(value[2:4], []byte{0x50, 0x03}) // IC type
	copy(value[12:16], serial[:])
	copy(value[16:18], batch[:])
	out := []byte{0x9F, 0x7F, byte(len(value))}
	return append(out, value...)
}

// BuildType2Pages lays an NDEF message out as NFC Forum Type 2 user memory
// starting at page 4: TLV 03 <len> <message> FE, padded to whole pages.
func BuildType2Pages(message []byte) []byte {
	mem := []byte{0x03, byte(len(message))}
	mem = append(mem, message...)
	mem = append(mem, 0xFE)
	for len(mem)%4 != 0 {
		mem = append(mem, 0x00)
	}
	return mem
}
