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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/status-im/keycard-go/apdu"
)

// Status word high byte signalling success.
const sw1Success = 0x90

// CPLC (Card Production Life Cycle) layout offsets, relative to the start of
// the CPLC value.
const (
	cplcTag0          = 0x9F
	cplcTag1          = 0x7F
	cplcFabricatorEnd = 2
	cplcSerialStart   = 12
	cplcBatchEnd      = 18
)

var (
	// getUIDCommand is the PC/SC part 3 GET DATA pseudo-APDU: FF CA 00 00 00
	getUIDCommand = newLeCommand(0xFF, 0xCA, 0x00, 0x00)
	// getCPLCCommand is the GlobalPlatform GET DATA for CPLC: 80 CA 9F 7F 00
	getCPLCCommand = newLeCommand(0x80, 0xCA, 0x9F, 0x7F)
)

func newLeCommand(cla, ins, p1, p2 uint8) *apdu.Command {
	cmd := apdu.NewCommand(cla, ins, p1, p2, nil)
	cmd.SetLe(0)
	return cmd
}

// DirectUIDCommand returns the serialized direct UID command.
func DirectUIDCommand() []byte {
	return mustSerialize(getUIDCommand)
}

// VendorUIDCommand returns the serialized vendor (CPLC) command.
func VendorUIDCommand() []byte {
	return mustSerialize(getCPLCCommand)
}

func mustSerialize(cmd *apdu.Command) []byte {
	b, err := cmd.Serialize()
	if err != nil {
		panic(fmt.Sprintf("serialize apdu: %v", err))
	}
	return b
}

// Response is a parsed card response.
type Response struct {
	Data []byte
	SW   uint16
}

// SW1 returns the high byte of the status word
func (r *Response) SW1() byte {
	return byte(r.SW >> 8)
}

// OK reports whether the status word signals success
func (r *Response) OK() bool {
	return r.SW1() == sw1Success
}

// ParseResponse splits a raw response into payload and status word.
func ParseResponse(raw []byte) (*Response, error) {
	resp, err := apdu.ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return &Response{Data: resp.Data, SW: resp.Sw}, nil
}

// uidFromCPLC extracts fabricator, IC serial number and batch identifier
// from a CPLC response. Payloads that are not a CPLC TLV are returned as is.
func uidFromCPLC(data []byte) []byte {
	if len(data) < 3 || data[0] != cplcTag0 || data[1] != cplcTag1 {
		return data
	}
	value := data[3:]
	if int(data[2]) < len(value) {
		value = value[:data[2]]
	}
	if len(value) < cplcBatchEnd {
		return data
	}

	uid := make([]byte, 0, cplcFabricatorEnd+cplcBatchEnd-cplcSerialStart)
	uid = append(uid, value[:cplcFabricatorEnd]...)
	uid = append(uid, value[cplcSerialStart:cplcBatchEnd]...)
	return uid
}

// EncodeUID renders UID bytes as upper-case hex without separators.
func EncodeUID(uid []byte) string {
	return strings.ToUpper(hex.EncodeToString(uid))
}

// DecodeUID parses a hex UID. Spaces and colons between bytes are accepted.
func DecodeUID(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return nil, ErrEmptyUID
	}
	uid, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode uid %q: %w", s, err)
	}
	return uid, nil
}
