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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per ErrorKind. Use errors.Is against these rather
// than inspecting messages.
var (
	ErrNoCardPresent     = errors.New("no card present")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrTransmission      = errors.New("transmission failed")
	ErrCardReadExhausted = errors.New("card read exhausted")
)

// Usage errors
var (
	ErrSessionActive  = errors.New("reader session already active")
	ErrSessionClosed  = errors.New("reader session closed")
	ErrInvalidOption  = errors.New("invalid option")
	ErrNoBackend      = errors.New("no reader backend configured")
	ErrEmptyUID       = errors.New("empty uid")
	ErrMalformedReply = errors.New("malformed card response")
)

// ErrorKind classifies a failure at the point where it happens.
type ErrorKind int

const (
	// KindUnknown is never produced by this package; it is what KindOf
	// returns for foreign errors.
	KindUnknown ErrorKind = iota
	// KindNoCardPresent is the expected "reader is empty" outcome.
	KindNoCardPresent
	// KindDeviceUnavailable means no usable reader could be opened.
	KindDeviceUnavailable
	// KindTransmission is a single failed command exchange.
	KindTransmission
	// KindCardReadExhausted means a card was present but every attempt to
	// read it failed.
	KindCardReadExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoCardPresent:
		return "no_card_present"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindTransmission:
		return "transmission"
	case KindCardReadExhausted:
		return "card_read_exhausted"
	case KindUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindNoCardPresent:
		return ErrNoCardPresent
	case KindDeviceUnavailable:
		return ErrDeviceUnavailable
	case KindTransmission:
		return ErrTransmission
	case KindCardReadExhausted:
		return ErrCardReadExhausted
	case KindUnknown:
		return nil
	default:
		return nil
	}
}

// Error is the error type produced by readers, the resolver and the engine.
type Error struct {
	Err    error
	Op     string
	Reader string
	Kind   ErrorKind
	// Attempts is set for KindCardReadExhausted.
	Attempts int
	// Fatal marks a transmission error that ended the current attempt
	// (connection lost, card gone). Non-fatal errors fall through to the
	// next identification strategy.
	Fatal bool
	// Timeout marks a transmission that ran past its budget.
	Timeout bool
}

// NewError creates an Error of the given kind.
func NewError(op, reader string, kind ErrorKind, err error) *Error {
	return &Error{
		Op:     op,
		Reader: reader,
		Kind:   kind,
		Err:    err,
	}
}

// NewTransmissionError creates a KindTransmission error.
func NewTransmissionError(op, reader string, err error, fatal bool) *Error {
	return &Error{
		Op:     op,
		Reader: reader,
		Kind:   KindTransmission,
		Err:    err,
		Fatal:  fatal,
	}
}

// NewTimeoutError creates a non-fatal transmission error for an exchange
// that exceeded its budget.
func NewTimeoutError(op, reader string) *Error {
	return &Error{
		Op:      op,
		Reader:  reader,
		Kind:    KindTransmission,
		Err:     errors.New("exchange timed out"),
		Timeout: true,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		_, _ = b.WriteString(e.Op)
		if e.Reader != "" {
			_, _ = fmt.Fprintf(&b, " on %s", e.Reader)
		}
		_, _ = b.WriteString(": ")
	}
	_, _ = b.WriteString(e.Kind.String())
	if e.Kind == KindCardReadExhausted && e.Attempts > 0 {
		_, _ = fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		_, _ = fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the ErrorKind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNoCardPresent):
		return KindNoCardPresent
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrCardReadExhausted):
		return KindCardReadExhausted
	case errors.Is(err, ErrTransmission):
		return KindTransmission
	default:
		return KindUnknown
	}
}

// IsFatal reports whether err ends an identification attempt. Anything that
// is not a non-fatal transmission error does.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindTransmission {
		return e.Fatal
	}
	return true
}
