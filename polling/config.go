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

package polling

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the cadence of the periodic sample
const DefaultPollInterval = time.Second

// Config holds configuration options for the Runner
type Config struct {
	Logger       logrus.FieldLogger
	Observer     Observer
	PollInterval time.Duration
	// SampleOnStart takes one sample as soon as Run begins instead of
	// waiting for the first tick.
	SampleOnStart bool
	// DeliverUnchanged passes EventUnchanged to sinks as well. Off by
	// default; most consumers only care about transitions.
	DeliverUnchanged bool
}

// DefaultConfig returns the default runner configuration
func DefaultConfig() *Config {
	return &Config{
		Logger:        logrus.StandardLogger(),
		PollInterval:  DefaultPollInterval,
		SampleOnStart: true,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval %s", ErrInvalidConfig, c.PollInterval)
	}
	return nil
}
