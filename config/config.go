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

// Package config loads the cardwatch YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
	"github.com/ZaparooProject/go-cardwatch/mqtt"
	"github.com/ZaparooProject/go-cardwatch/polling"
)

// History drivers
const (
	DriverBuntDB = "buntdb"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration file.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	History HistoryConfig `yaml:"history"`
	MQTT    mqtt.Config   `yaml:"mqtt"`
	Reader  ReaderConfig  `yaml:"reader"`
}

// ReaderConfig selects the reader and tunes identification.
type ReaderConfig struct {
	Name         string         `yaml:"name"`
	Ignore       []string       `yaml:"ignore"`
	Timeouts     TimeoutsConfig `yaml:"timeouts"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	RetryDelay   time.Duration  `yaml:"retry_delay"`
	MaxAttempts  int            `yaml:"max_attempts"`
}

// TimeoutsConfig mirrors cardwatch.Timeouts.
type TimeoutsConfig struct {
	Fast    time.Duration `yaml:"fast"`
	Default time.Duration `yaml:"default"`
	Slow    time.Duration `yaml:"slow"`
}

// HistoryConfig selects the card history store.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig sets the logrus level and formatter.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	timeouts := cardwatch.DefaultTimeouts()
	resolver := cardwatch.DefaultResolverConfig()
	return &Config{
		Reader: ReaderConfig{
			Ignore:       []string{"*SAM*"},
			PollInterval: polling.DefaultPollInterval,
			RetryDelay:   resolver.RetryDelay,
			MaxAttempts:  cardwatch.DefaultMaxAttempts,
			Timeouts: TimeoutsConfig{
				Fast:    timeouts.Fast,
				Default: timeouts.Default,
				Slow:    timeouts.Slow,
			},
		},
		History: HistoryConfig{
			Driver: DriverBuntDB,
			Path:   "cardwatch.db",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and validates the result. Keys missing
// from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Reader.PollInterval <= 0 {
		return fmt.Errorf("%w: reader.poll_interval must be positive", ErrInvalid)
	}
	if c.Reader.MaxAttempts < 1 {
		return fmt.Errorf("%w: reader.max_attempts must be at least 1", ErrInvalid)
	}
	if c.Reader.RetryDelay < 0 {
		return fmt.Errorf("%w: reader.retry_delay must not be negative", ErrInvalid)
	}
	if err := c.Reader.Timeouts.Engine().Validate(); err != nil {
		return fmt.Errorf("%w: reader.timeouts must all be positive", ErrInvalid)
	}

	switch c.History.Driver {
	case DriverBuntDB, DriverSQLite:
	case DriverNone, "":
		c.History.Driver = DriverNone
	default:
		return fmt.Errorf("%w: unknown history.driver %q", ErrInvalid, c.History.Driver)
	}

	if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("%w: mqtt.port %d out of range", ErrInvalid, c.MQTT.Port)
	}
	if (c.MQTT.ClientCert == "") != (c.MQTT.ClientKey == "") {
		return fmt.Errorf("%w: mqtt.client_cert and mqtt.client_key must be set together", ErrInvalid)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	return nil
}

// Engine converts the timeouts for the engine
func (t TimeoutsConfig) Engine() cardwatch.Timeouts {
	return cardwatch.Timeouts{Fast: t.Fast, Default: t.Default, Slow: t.Slow}
}

// EngineOptions returns the engine options for the reader section
func (c *Config) EngineOptions() []cardwatch.Option {
	opts := []cardwatch.Option{
		cardwatch.WithMaxAttempts(c.Reader.MaxAttempts),
		cardwatch.WithTimeouts(c.Reader.Timeouts.Engine()),
		cardwatch.WithRetryDelay(c.Reader.RetryDelay),
	}
	if c.Reader.Name != "" {
		opts = append(opts, cardwatch.WithReaderName(c.Reader.Name))
	}
	if len(c.Reader.Ignore) > 0 {
		opts = append(opts, cardwatch.WithIgnoredReaders(c.Reader.Ignore...))
	}
	return opts
}

// NewLogger builds a logrus logger for the log section
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	if c.Log.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
