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

package pcsc

import (
	"errors"

	"github.com/ebfe/scard"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

var errClosed = errors.New("pcsc context released")

// mapError classifies a PC/SC failure by its return code.
func mapError(op, reader string, err error) error {
	var code scard.Error
	if !errors.As(err, &code) {
		return cardwatch.NewTransmissionError(op, reader, err, true)
	}

	switch code {
	case scard.ErrNoSmartcard, scard.ErrRemovedCard:
		return cardwatch.NewError(op, reader, cardwatch.KindNoCardPresent, err)
	case scard.ErrNoReadersAvailable, scard.ErrUnknownReader, scard.ErrReaderUnavailable,
		scard.ErrSharingViolation, scard.ErrNoService, scard.ErrServiceStopped:
		return cardwatch.NewError(op, reader, cardwatch.KindDeviceUnavailable, err)
	case scard.ErrTimeout:
		e := cardwatch.NewTransmissionError(op, reader, err, false)
		e.Timeout = true
		return e
	case scard.ErrResetCard:
		return cardwatch.NewTransmissionError(op, reader, err, false)
	default:
		return cardwatch.NewTransmissionError(op, reader, err, true)
	}
}
