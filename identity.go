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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZaparooProject/go-cardwatch/internal/retry"
)

// DefaultMaxAttempts is the number of identification attempts made per
// sample before giving up with ErrCardReadExhausted.
const DefaultMaxAttempts = 3

// Source records which strategy produced a card's UID.
type Source int

const (
	SourceUnknown Source = iota
	// SourceDirectUID is the PC/SC GET DATA UID command.
	SourceDirectUID
	// SourceVendorCommand is the GlobalPlatform CPLC command.
	SourceVendorCommand
	// SourceATRFallback means the ATR itself stands in for the UID. ATRs are
	// not unique across cards of the same model.
	SourceATRFallback
)

func (s Source) String() string {
	switch s {
	case SourceDirectUID:
		return "direct_uid"
	case SourceVendorCommand:
		return "vendor_command"
	case SourceATRFallback:
		return "atr_fallback"
	case SourceUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// ParseSource is the inverse of Source.String
func ParseSource(s string) Source {
	switch s {
	case "direct_uid":
		return SourceDirectUID
	case "vendor_command":
		return SourceVendorCommand
	case "atr_fallback":
		return SourceATRFallback
	default:
		return SourceUnknown
	}
}

// CardIdentity is the result of one successful identification. It is never
// mutated; a different UID is a different identity.
type CardIdentity struct {
	Reader string
	UID    []byte
	ATR    []byte
	Type   CardType
	Source Source
}

// UIDHex returns the UID as upper-case hex
func (c *CardIdentity) UIDHex() string {
	return EncodeUID(c.UID)
}

// Confident is false for identities derived from the ATR fallback
func (c *CardIdentity) Confident() bool {
	return c.Source == SourceDirectUID || c.Source == SourceVendorCommand
}

// SameCard reports whether both identities carry the same UID
func (c *CardIdentity) SameCard(other *CardIdentity) bool {
	if c == nil || other == nil {
		return false
	}
	return bytes.Equal(c.UID, other.UID)
}

func (c *CardIdentity) String() string {
	return fmt.Sprintf("%s [%s, %s]", c.UIDHex(), c.Type, c.Source)
}

// ResolverConfig configures identification.
type ResolverConfig struct {
	Logger      logrus.FieldLogger
	Timeouts    Timeouts
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultResolverConfig returns the default resolver configuration
func DefaultResolverConfig() *ResolverConfig {
	return &ResolverConfig{
		Logger:      logrus.StandardLogger(),
		Timeouts:    DefaultTimeouts(),
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  20 * time.Millisecond,
	}
}

type uidStrategy struct {
	extract func([]byte) []byte
	name    string
	command []byte
	source  Source
}

// Resolver extracts a CardIdentity from an open session, trying the direct
// UID command, then the vendor command, then the ATR itself.
type Resolver struct {
	config     *ResolverConfig
	strategies []uidStrategy
}

// NewResolver creates a resolver. A nil config selects the defaults.
func NewResolver(config *ResolverConfig) *Resolver {
	if config == nil {
		config = DefaultResolverConfig()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Resolver{
		config: config,
		strategies: []uidStrategy{
			{
				name:    "direct uid",
				command: DirectUIDCommand(),
				source:  SourceDirectUID,
				extract: func(b []byte) []byte { return b },
			},
			{
				name:    "vendor cplc",
				command: VendorUIDCommand(),
				source:  SourceVendorCommand,
				extract: uidFromCPLC,
			},
		},
	}
}

// Resolve identifies the card on the session's reader.
//
// It returns ErrNoCardPresent when the first ATR capture finds the reader
// empty, and an *Error of kind KindCardReadExhausted when every attempt
// failed. Between attempts the session is reconnected when the connection
// supports it; readers are never re-enumerated.
func (r *Resolver) Resolve(ctx context.Context, sess *Session) (*CardIdentity, error) {
	log := r.config.Logger.WithField("reader", sess.Reader())

	cfg := retry.Config{
		MaxAttempts: r.config.MaxAttempts,
		Delay:       r.config.RetryDelay,
		OnRetry: func(ctx context.Context, attempt int) error {
			if reconnected, err := sess.Reconnect(ctx); err != nil {
				log.WithField("attempt", attempt).WithError(err).Debug("reconnect before retry failed")
			} else if reconnected {
				log.WithField("attempt", attempt).Debug("reconnected before retry")
			}
			return nil
		},
	}

	res, err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) (*CardIdentity, bool, error) {
		id, sawCard, err := r.attempt(ctx, sess, log)
		if err == nil {
			return id, false, nil
		}
		// Only an empty reader at the first ATR capture means no card this
		// tick; losing the card after that is a failed read.
		if attempt == 1 && !sawCard && KindOf(err) == KindNoCardPresent {
			return nil, false, err
		}
		if ctx.Err() != nil {
			return nil, false, err
		}
		log.WithField("attempt", attempt).WithError(err).Debug("identification attempt failed")
		return nil, true, err
	})
	if errors.Is(err, retry.ErrExhausted) {
		return nil, &Error{
			Op:       "resolve",
			Reader:   sess.Reader(),
			Kind:     KindCardReadExhausted,
			Attempts: res.Attempts,
			Err:      res.LastErr,
		}
	}
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// attempt runs one identification pass. sawCard reports whether the ATR
// was captured before any failure.
func (r *Resolver) attempt(ctx context.Context, sess *Session, log logrus.FieldLogger) (id *CardIdentity, sawCard bool, err error) {
	atr, err := sess.ATR(ctx)
	if err != nil {
		return nil, false, err
	}

	cardType := Classify(atr)
	budget := r.config.Timeouts.For(cardType)
	id = &CardIdentity{
		Reader: sess.Reader(),
		ATR:    atr,
		Type:   cardType,
	}

	for _, strategy := range r.strategies {
		uid, tryErr := r.try(ctx, sess, strategy, budget)
		if tryErr == nil {
			id.UID = uid
			id.Source = strategy.source
			return id, true, nil
		}
		if IsFatal(tryErr) {
			return nil, true, tryErr
		}
		log.WithFields(logrus.Fields{
			"strategy":  strategy.name,
			"card_type": cardType.String(),
		}).WithError(tryErr).Debug("uid strategy failed, falling through")
	}

	id.UID = append([]byte(nil), atr...)
	id.Source = SourceATRFallback
	return id, true, nil
}

func (*Resolver) try(ctx context.Context, sess *Session, strategy uidStrategy, budget time.Duration) ([]byte, error) {
	raw, err := sess.Transmit(ctx, strategy.command, budget)
	if err != nil {
		return nil, err
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		return nil, NewTransmissionError(strategy.name, sess.Reader(), err, false)
	}
	if !resp.OK() {
		return nil, NewTransmissionError(strategy.name, sess.Reader(),
			fmt.Errorf("status word %04X", resp.SW), false)
	}

	uid := strategy.extract(resp.Data)
	if len(uid) == 0 {
		return nil, NewTransmissionError(strategy.name, sess.Reader(), ErrEmptyUID, false)
	}
	return append([]byte(nil), uid...), nil
}
