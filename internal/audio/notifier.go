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

package audio

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-audiodevices/internal/device"
)

// DefaultPollInterval is used when a PollingNotifier is created with a zero interval
const DefaultPollInterval = 2 * time.Second

// ErrAlreadySubscribed is returned when a direction is subscribed twice
var ErrAlreadySubscribed = errors.New("direction already subscribed")

// PollingNotifier turns periodic enumerations of a Backend into normalized
// device events. It implements device.Notifier.
//
// The first poll reports every present device as Added unless the direction
// was primed with a previous enumeration. Each later poll
// reports the difference to the previous one as Removed, then Added, then
// DefaultChanged events.
type PollingNotifier struct {
	backend  Backend
	interval time.Duration
	rescan   bool
	logger   zerolog.Logger

	mu        sync.Mutex
	callbacks map[device.Direction]func(device.Event)
	known     map[device.Direction][]device.Handle
	failing   map[device.Direction]bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPollingNotifier creates a notifier polling backend every interval.
// With rescan set, backends implementing Refresher are refreshed before
// each poll.
func NewPollingNotifier(backend Backend, interval time.Duration, rescan bool, logger zerolog.Logger) *PollingNotifier {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingNotifier{
		backend:   backend,
		interval:  interval,
		rescan:    rescan,
		logger:    logger.With().Str("component", "device-poller").Logger(),
		callbacks: make(map[device.Direction]func(device.Event)),
		known:     make(map[device.Direction][]device.Handle),
		failing:   make(map[device.Direction]bool),
	}
}

// Prime records handles as the last enumeration of dir, so the next poll
// reports only what changed since. Unprimed directions report every device
// as Added on the first poll. Prime before Subscribe.
func (n *PollingNotifier) Prime(dir device.Direction, handles []device.Handle) {
	if !dir.Valid() {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.known[dir] = slices.Clone(handles)
}

// Subscribe registers callback for dir and starts polling on the first call
func (n *PollingNotifier) Subscribe(dir device.Direction, callback func(device.Event)) error {
	if !dir.Valid() {
		return device.ErrInvalidDirection
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.callbacks[dir]; ok {
		return ErrAlreadySubscribed
	}
	n.callbacks[dir] = callback

	if n.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.done = make(chan struct{})
		go n.run(ctx, n.done)
		n.logger.Debug().Dur("interval", n.interval).Msg("device polling started")
	}
	return nil
}

// Unsubscribe stops polling and waits for an in-flight poll to finish, so
// no callback runs after it returns. It must not be called from a callback.
func (n *PollingNotifier) Unsubscribe() error {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.callbacks = make(map[device.Direction]func(device.Event))
	n.known = make(map[device.Direction][]device.Handle)
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		n.logger.Debug().Msg("device polling stopped")
	}
	return nil
}

func (n *PollingNotifier) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		n.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *PollingNotifier) poll(ctx context.Context) {
	n.mu.Lock()
	callbacks := make(map[device.Direction]func(device.Event), len(n.callbacks))
	for dir, cb := range n.callbacks {
		callbacks[dir] = cb
	}
	n.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}

	if n.rescan {
		if r, ok := n.backend.(Refresher); ok {
			if err := r.Refresh(); err != nil {
				n.logger.Warn().Err(err).Msg("failed to refresh audio backend")
			}
		}
	}

	for _, dir := range device.Directions {
		cb, ok := callbacks[dir]
		if !ok {
			continue
		}

		handles, err := n.backend.Devices(dir)
		if err != nil {
			n.reportFailure(dir, err)
			continue
		}
		n.reportRecovery(dir)

		n.mu.Lock()
		prev := n.known[dir]
		n.known[dir] = handles
		n.mu.Unlock()

		for _, ev := range DiffHandles(dir, prev, handles) {
			if ctx.Err() != nil {
				return
			}
			cb(ev)
		}
	}
}

// reportFailure logs the first failure of a streak only
func (n *PollingNotifier) reportFailure(dir device.Direction, err error) {
	n.mu.Lock()
	first := !n.failing[dir]
	n.failing[dir] = true
	n.mu.Unlock()

	if first {
		n.logger.Warn().Err(err).Str("direction", dir.String()).Msg("device enumeration failed")
	}
}

func (n *PollingNotifier) reportRecovery(dir device.Direction) {
	n.mu.Lock()
	recovered := n.failing[dir]
	n.failing[dir] = false
	n.mu.Unlock()

	if recovered {
		n.logger.Info().Str("direction", dir.String()).Msg("device enumeration recovered")
	}
}

// DiffHandles normalizes two enumerations of dir into the events that turn
// prev into next
func DiffHandles(dir device.Direction, prev, next []device.Handle) []device.Event {
	var events []device.Event

	nextByID := make(map[string]device.Handle, len(next))
	for _, h := range next {
		nextByID[h.ID] = h
	}
	prevByID := make(map[string]device.Handle, len(prev))
	for _, h := range prev {
		prevByID[h.ID] = h
	}

	for _, h := range prev {
		if _, ok := nextByID[h.ID]; !ok {
			events = append(events, device.Event{Kind: device.Removed, Direction: dir, ID: h.ID})
		}
	}
	for _, h := range next {
		old, ok := prevByID[h.ID]
		if !ok || old.Name != h.Name {
			ev := device.AddedEvent(h)
			ev.Direction = dir
			events = append(events, ev)
		}
	}

	prevDefault, nextDefault := defaultID(prev), defaultID(next)
	if prevDefault != nextDefault {
		events = append(events, device.Event{Kind: device.DefaultChanged, Direction: dir, ID: nextDefault})
	}
	return events
}

func defaultID(handles []device.Handle) string {
	for _, h := range handles {
		if h.IsDefault {
			return h.ID
		}
	}
	return ""
}
