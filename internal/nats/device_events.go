/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-audiodevices/internal/device"
)

// DefaultSubjectPrefix is the subject root for device change events
const DefaultSubjectPrefix = "audio.devices"

// ErrSourceRequired is returned when no source (publishing host) is configured
var ErrSourceRequired = errors.New("device event source required")

// DeviceEventMessage is the wire form of a device change
type DeviceEventMessage struct {
	Source    string `json:"source"`         // Host whose devices changed
	Kind      string `json:"kind"`           // "added", "removed", "default_changed"
	Direction string `json:"direction"`      // "input" or "output"
	DeviceID  string `json:"id"`             // Native device id, empty default means none
	Name      string `json:"name,omitempty"` // Device name for added events
}

// DeviceNATSConnection interface for dependency injection
type DeviceNATSConnection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// DeviceNATSConnectionAdapter adapts *nats.Conn to DeviceNATSConnection interface
type DeviceNATSConnectionAdapter struct {
	conn *nats.Conn
}

func NewDeviceNATSConnectionAdapter(conn *nats.Conn) *DeviceNATSConnectionAdapter {
	return &DeviceNATSConnectionAdapter{conn: conn}
}

func (a *DeviceNATSConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *DeviceNATSConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *DeviceNATSConnectionAdapter) Close() {
	a.conn.Close()
}

// Connect dials NATS, trying up to attempts times
func Connect(ctx context.Context, natsURL string, attempts int, logger zerolog.Logger) (*nats.Conn, error) {
	if attempts < 1 {
		attempts = 1
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < attempts; i++ {
		nc, err = nats.Connect(natsURL, nats.Name("loqa-audiodevices"))
		if err == nil {
			logger.Info().Str("url", natsURL).Msg("connected to NATS")
			return nc, nil
		}
		logger.Warn().Err(err).Int("attempt", i+1).Int("attempts", attempts).Msg("failed to connect to NATS")
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
}

// Subject returns the subject carrying dir events of source
func Subject(prefix, source string, dir device.Direction) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s.%s.%s", prefix, source, dir)
}

// EncodeEvent converts a device event to its wire form
func EncodeEvent(source string, ev device.Event) ([]byte, error) {
	return json.Marshal(DeviceEventMessage{
		Source:    source,
		Kind:      ev.Kind.String(),
		Direction: ev.Direction.String(),
		DeviceID:  ev.ID,
		Name:      ev.Name,
	})
}

// DecodeEvent parses and normalizes a wire message
func DecodeEvent(data []byte) (device.Event, string, error) {
	var msg DeviceEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return device.Event{}, "", fmt.Errorf("%w: %w", device.ErrInvalidEvent, err)
	}

	kind, err := device.ParseKind(msg.Kind)
	if err != nil {
		return device.Event{}, msg.Source, err
	}
	dir, err := device.ParseDirection(msg.Direction)
	if err != nil {
		return device.Event{}, msg.Source, fmt.Errorf("%w: %w", device.ErrInvalidEvent, err)
	}

	ev := device.Event{Kind: kind, Direction: dir, ID: msg.DeviceID, Name: msg.Name}
	if err := ev.Validate(); err != nil {
		return device.Event{}, msg.Source, err
	}
	return ev, msg.Source, nil
}

// DeviceEventSubscriber receives device changes another host publishes and
// implements device.Notifier, so a registry can mirror that host's devices.
type DeviceEventSubscriber struct {
	natsConn DeviceNATSConnection
	prefix   string
	source   string
	logger   zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription

	// gate is held shared while a callback runs; Unsubscribe takes it
	// exclusively to wait for in-flight callbacks. Each Unsubscribe bumps
	// generation, so handlers registered before it stay silent even after
	// a later Subscribe.
	gate       sync.RWMutex
	generation uint64
}

// NewDeviceEventSubscriber creates a subscriber for the events of source
func NewDeviceEventSubscriber(natsConn DeviceNATSConnection, prefix, source string, logger zerolog.Logger) (*DeviceEventSubscriber, error) {
	if source == "" {
		return nil, ErrSourceRequired
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &DeviceEventSubscriber{
		natsConn: natsConn,
		prefix:   prefix,
		source:   source,
		logger:   logger.With().Str("component", "nats-device-subscriber").Str("source", source).Logger(),
	}, nil
}

// Subscribe begins listening for dir events
func (s *DeviceEventSubscriber) Subscribe(dir device.Direction, callback func(device.Event)) error {
	if !dir.Valid() {
		return device.ErrInvalidDirection
	}

	s.gate.RLock()
	generation := s.generation
	s.gate.RUnlock()

	subject := Subject(s.prefix, s.source, dir)
	sub, err := s.natsConn.Subscribe(subject, func(msg *nats.Msg) {
		s.handleMessage(generation, dir, msg, callback)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	s.logger.Info().Str("subject", subject).Msg("subscribed to device events")
	return nil
}

// handleMessage normalizes an incoming message and hands it to callback
func (s *DeviceEventSubscriber) handleMessage(generation uint64, dir device.Direction, msg *nats.Msg, callback func(device.Event)) {
	ev, source, err := DecodeEvent(msg.Data)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping device event")
		return
	}
	if ev.Direction != dir || (source != "" && source != s.source) {
		s.logger.Warn().Str("subject", msg.Subject).Stringer("event", ev).Str("event_source", source).
			Msg("dropping device event published on the wrong subject")
		return
	}

	s.gate.RLock()
	defer s.gate.RUnlock()
	if generation != s.generation {
		return
	}
	callback(ev)
}

// Unsubscribe drops the subscriptions and waits for running callbacks
func (s *DeviceEventSubscriber) Unsubscribe() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}

	s.gate.Lock()
	s.generation++
	s.gate.Unlock()

	return errors.Join(errs...)
}

// Close closes the NATS connection
func (s *DeviceEventSubscriber) Close() {
	if s.natsConn != nil {
		s.natsConn.Close()
		s.logger.Info().Msg("NATS connection closed")
	}
}

// DeviceEventPublisher publishes the events a local registry applies so
// other hosts can mirror them
type DeviceEventPublisher struct {
	natsConn DeviceNATSConnection
	prefix   string
	source   string
	logger   zerolog.Logger
}

// NewDeviceEventPublisher creates a publisher for events of source
func NewDeviceEventPublisher(natsConn DeviceNATSConnection, prefix, source string, logger zerolog.Logger) (*DeviceEventPublisher, error) {
	if source == "" {
		return nil, ErrSourceRequired
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &DeviceEventPublisher{
		natsConn: natsConn,
		prefix:   prefix,
		source:   source,
		logger:   logger.With().Str("component", "nats-device-publisher").Logger(),
	}, nil
}

// Publish sends one event
func (p *DeviceEventPublisher) Publish(ev device.Event) error {
	data, err := EncodeEvent(p.source, ev)
	if err != nil {
		return fmt.Errorf("failed to encode device event: %w", err)
	}
	subject := Subject(p.prefix, p.source, ev.Direction)
	if err := p.natsConn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Observer returns a callback for device.Registry.OnApplied.
// Publish failures are logged; the registry is never blocked on them.
func (p *DeviceEventPublisher) Observer() func(device.Event) {
	return func(ev device.Event) {
		if err := p.Publish(ev); err != nil {
			p.logger.Warn().Err(err).Stringer("event", ev).Msg("failed to publish device event")
		}
	}
}
