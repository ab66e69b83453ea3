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

// Package mqtt publishes card events to an MQTT broker. A publisher with
// no host configured is a no-op, so hosts can wire it unconditionally.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	cardwatch "github.com/ZaparooProject/go-cardwatch"
)

// Defaults
const (
	DefaultPort        = 1883
	DefaultTLSPort     = 8883
	DefaultTopicPrefix = "cardwatch"
	DefaultTimeout     = 5 * time.Second
)

// ErrNoCACerts is returned when the CA file holds no usable certificate
var ErrNoCACerts = errors.New("no certificates found in CA file")

// Config holds MQTT connection settings.
type Config struct {
	Host        string        `yaml:"host"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	CACert      string        `yaml:"ca_cert"`
	ClientCert  string        `yaml:"client_cert"`
	ClientKey   string        `yaml:"client_key"`
	Port        int           `yaml:"port"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Enabled reports whether a broker is configured
func (c Config) Enabled() bool {
	return c.Host != ""
}

// Publisher implements polling.Sink.
type Publisher struct {
	client  paho.Client
	log     logrus.FieldLogger
	publish func(topic string, payload []byte) error
	broker  string
	topic   string
	timeout time.Duration
	enabled bool
}

// New creates a publisher. It does not connect; call Connect.
func New(cfg Config, log logrus.FieldLogger) (*Publisher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "mqtt")

	p := &Publisher{log: log}
	if !cfg.Enabled() {
		log.Debug("mqtt disabled (no host configured)")
		return p, nil
	}

	if cfg.ClientID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("mqtt client id: %w", err)
		}
		cfg.ClientID = "cardwatch-" + host
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	p.timeout = cfg.Timeout
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	p.topic = EventTopic(cfg.TopicPrefix, cfg.ClientID)

	var tlsConfig *tls.Config
	if cfg.CACert != "" || cfg.ClientCert != "" {
		if cfg.Port == 0 {
			cfg.Port = DefaultTLSPort
		}
		p.broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)

		var err error
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
	} else {
		if cfg.Port == 0 {
			cfg.Port = DefaultPort
		}
		p.broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	}

	opts := paho.NewClientOptions().
		AddBroker(p.broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(p.handleConnectionLost).
		SetOnConnectHandler(p.handleConnect)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	p.client = paho.NewClient(opts)
	p.publish = p.publishPaho
	p.enabled = true
	return p, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("%s: %w", cfg.CACert, ErrNoCACerts)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// EventTopic returns the topic events are published on
func EventTopic(prefix, clientID string) string {
	return prefix + "/" + clientID + "/event"
}

// Enabled returns whether the publisher talks to a broker
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Topic returns the event topic, empty when disabled
func (p *Publisher) Topic() string {
	return p.topic
}

// Connect connects to the broker. It is a no-op when disabled.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.enabled {
		return nil
	}

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect %s: %w", p.broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", p.broker, err)
	}
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	if !p.enabled || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}

// HandleEvent publishes transitions and errors. Unchanged events are not
// published.
func (p *Publisher) HandleEvent(_ context.Context, ev cardwatch.Event) error {
	if !p.enabled || ev.Kind == cardwatch.EventUnchanged {
		return nil
	}

	payload, err := NewPayload(ev).Encode()
	if err != nil {
		return err
	}
	if err := p.publish(p.topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	p.log.WithField("event", ev.Kind.String()).Debug("event published")
	return nil
}

func (p *Publisher) publishPaho(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("timed out after %s", p.timeout)
	}
	return token.Error()
}

func (p *Publisher) handleConnect(_ paho.Client) {
	p.log.WithField("broker", p.broker).Info("mqtt connection established")
}

func (p *Publisher) handleConnectionLost(_ paho.Client, err error) {
	p.log.WithField("broker", p.broker).WithError(err).Warn("mqtt connection lost")
}
