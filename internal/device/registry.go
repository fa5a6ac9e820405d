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

package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// state is one published view of both directions. Once stored in
// Registry.published it is never modified again.
type state struct {
	records  [2][]Record
	defaults [2]int // index into records, -1 when unresolved
}

func emptyState() *state {
	return &state{defaults: [2]int{-1, -1}}
}

// with returns a copy of s whose dir half is replaced
func (s *state) with(dir Direction, records []Record, def int) *state {
	next := *s
	next.records[dir] = records
	next.defaults[dir] = def
	return &next
}

func indexOf(records []Record, id string) int {
	return slices.IndexFunc(records, func(r Record) bool { return r.ID == id })
}

// Registry holds the devices known for each direction and the current
// default per direction.
//
// Writers (event application) are serialized by a mutex and publish a new
// immutable state through an atomic pointer. Readers load that pointer and
// never block on a writer, so Default is safe to call from stream setup on a
// realtime thread.
type Registry struct {
	resolver Resolver
	notifier Notifier
	logger   zerolog.Logger

	mu         sync.Mutex // serializes writers
	started    bool
	closed     bool
	subscribed bool
	pending    [2]string // default ids waiting for their Added event
	observers  []func(Event)

	published atomic.Pointer[state]
}

// NewRegistry creates a registry. The resolver names devices announced
// without a name and, if it is also a Lister, seeds the registry on Start.
// Either argument may be nil.
func NewRegistry(resolver Resolver, notifier Notifier, logger zerolog.Logger) *Registry {
	return &Registry{
		resolver: resolver,
		notifier: notifier,
		logger:   logger.With().Str("component", "device-registry").Logger(),
	}
}

// OnApplied registers fn to be called, on the writer goroutine and in
// application order, for every event the registry accepts. fn must not block
// or call back into the registry.
func (r *Registry) OnApplied(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Start seeds the registry from the resolver and subscribes to the notifier.
//
// Enumeration and subscription failures are reported once. The registry stays
// initialized with no devices so queries degrade instead of failing; there is
// no retry.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true

	s, seeded, listed, seedErr := r.seed(ctx)
	if seedErr != nil {
		s, seeded, listed = emptyState(), nil, nil
		r.pending = [2]string{}
	}
	r.published.Store(s)
	recordState(s, &r.pending)
	r.notify(seeded)
	r.mu.Unlock()

	if seedErr != nil {
		r.logger.Error().Err(seedErr).Msg("device enumeration failed, serving no devices")
		return seedErr
	}

	r.logger.Info().
		Int("inputs", len(s.records[Input])).
		Int("outputs", len(s.records[Output])).
		Msg("device registry started")

	if r.notifier == nil {
		return nil
	}

	if primer, ok := r.notifier.(Primer); ok && listed != nil {
		for _, dir := range Directions {
			primer.Prime(dir, listed[dir])
		}
	}

	// Subscribe without holding mu: a notifier may deliver the first events
	// synchronously from Subscribe.
	for _, dir := range Directions {
		if err := r.notifier.Subscribe(dir, r.handleEvent); err != nil {
			return r.degrade(dir, err)
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = r.notifier.Unsubscribe()
		return ErrRegistryClosed
	}
	r.subscribed = true
	r.mu.Unlock()
	return nil
}

// seed builds the initial state from the resolver's enumeration. listed is
// nil when the resolver cannot enumerate.
func (r *Registry) seed(ctx context.Context) (s *state, seeded []Event, listed *[2][]Handle, err error) {
	s = emptyState()
	lister, ok := r.resolver.(Lister)
	if !ok {
		return s, nil, nil, nil
	}

	listed = new([2][]Handle)
	for _, dir := range Directions {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}
		handles, err := lister.Devices(dir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to enumerate %s devices: %w", dir, err)
		}
		listed[dir] = handles

		defaultID := ""
		for _, h := range handles {
			ev := AddedEvent(h)
			ev.Direction = dir
			s, _ = r.transition(s, ev)
			seeded = append(seeded, ev)
			if h.IsDefault && defaultID == "" {
				defaultID = h.ID
			}
		}
		if defaultID != "" {
			ev := Event{Kind: DefaultChanged, Direction: dir, ID: defaultID}
			s, _ = r.transition(s, ev)
			seeded = append(seeded, ev)
		}
	}
	return s, seeded, listed, nil
}

func (r *Registry) degrade(dir Direction, err error) error {
	r.logger.Error().Err(err).Str("direction", dir.String()).
		Msg("device change subscription failed, serving no devices")

	// Release whatever was subscribed before the failure. After this no
	// callback can fire, so the empty state below is final.
	_ = r.notifier.Unsubscribe()

	r.mu.Lock()
	if !r.closed {
		r.pending = [2]string{}
		s := emptyState()
		r.published.Store(s)
		recordState(s, &r.pending)
	}
	r.mu.Unlock()

	return fmt.Errorf("%w (%s): %w", ErrSubscribe, dir, err)
}

// Shutdown unsubscribes from the notifier, discards any event still in
// flight and unpublishes the state. Queries fail with ErrNotInitialized
// afterwards. A registry cannot be restarted.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subscribed := r.subscribed
	r.subscribed = false
	r.mu.Unlock()

	var err error
	if subscribed {
		if uerr := r.notifier.Unsubscribe(); uerr != nil {
			err = fmt.Errorf("failed to unsubscribe from device changes: %w", uerr)
		}
	}

	r.mu.Lock()
	r.published.Store(nil)
	r.pending = [2]string{}
	r.observers = nil
	r.mu.Unlock()

	r.logger.Info().Msg("device registry stopped")
	return err
}

// handleEvent is the notifier callback
func (r *Registry) handleEvent(ev Event) {
	if err := ev.Validate(); err != nil {
		eventsDiscardedTotal.WithLabelValues(discardInvalid).Inc()
		r.logger.Warn().Err(err).Msg("dropping device event")
		return
	}

	if ev.Kind == Added && ev.Name == "" && r.resolver != nil {
		h, err := r.resolver.Resolve(ev.Direction, ev.ID)
		if err != nil {
			eventsDiscardedTotal.WithLabelValues(discardUnresolved).Inc()
			r.logger.Warn().Err(err).Str("direction", ev.Direction.String()).Str("id", ev.ID).
				Msg("failed to resolve added device")
			return
		}
		ev.Name = h.Name
	}

	if err := r.Apply(ev); err != nil && !errors.Is(err, ErrNotInitialized) {
		r.logger.Warn().Err(err).Stringer("event", ev).Msg("failed to apply device event")
	}
}

// Apply applies one normalized event. Application is idempotent: duplicated
// or reordered events never leave two defaults in a direction or a default
// pointing at a removed device.
func (r *Registry) Apply(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.published.Load()
	if r.closed || cur == nil {
		eventsDiscardedTotal.WithLabelValues(discardClosed).Inc()
		return ErrNotInitialized
	}

	next, changed := r.transition(cur, ev)
	if changed {
		r.published.Store(next)
		eventsAppliedTotal.WithLabelValues(ev.Kind.String(), ev.Direction.String()).Inc()
	}
	recordState(next, &r.pending)
	r.notify([]Event{ev})
	return nil
}

// ApplyDeviceAdded inserts rec into dir. An id already present is treated as
// an update of its name.
func (r *Registry) ApplyDeviceAdded(dir Direction, rec Record) error {
	return r.Apply(Event{Kind: Added, Direction: dir, ID: rec.ID, Name: rec.Name})
}

// ApplyDeviceRemoved removes id from dir
func (r *Registry) ApplyDeviceRemoved(dir Direction, id string) error {
	return r.Apply(Event{Kind: Removed, Direction: dir, ID: id})
}

// ApplyDefaultChanged makes id the default of dir. If id has not been added
// yet the change is held until it is.
func (r *Registry) ApplyDefaultChanged(dir Direction, id string) error {
	return r.Apply(Event{Kind: DefaultChanged, Direction: dir, ID: id})
}

func (r *Registry) notify(events []Event) {
	for _, ev := range events {
		for _, fn := range r.observers {
			fn(ev)
		}
	}
}

// transition computes the state after ev. Callers hold mu.
func (r *Registry) transition(s *state, ev Event) (*state, bool) {
	switch ev.Kind {
	case Added:
		return r.added(s, ev.Direction, ev.ID, ev.Name)
	case Removed:
		return r.removed(s, ev.Direction, ev.ID)
	case DefaultChanged:
		return r.defaultChanged(s, ev.Direction, ev.ID)
	}
	return s, false
}

func (r *Registry) added(s *state, dir Direction, id, name string) (*state, bool) {
	records, def := s.records[dir], s.defaults[dir]

	if i := indexOf(records, id); i >= 0 {
		duplicateDeviceIDsTotal.WithLabelValues(dir.String()).Inc()
		if name == "" || records[i].Name == name {
			r.logger.Debug().Err(ErrDuplicateDeviceID).Str("direction", dir.String()).Str("id", id).
				Msg("ignoring repeated device add")
			return s, false
		}
		r.logger.Info().Err(ErrDuplicateDeviceID).Str("direction", dir.String()).Str("id", id).
			Str("old_name", records[i].Name).Str("name", name).Msg("device renamed")
		next := slices.Clone(records)
		next[i].Name = name
		return s.with(dir, next, def), true
	}

	next := make([]Record, len(records), len(records)+1)
	copy(next, records)
	next = append(next, Record{ID: id, Name: name, Direction: dir})

	if r.pending[dir] == id {
		r.pending[dir] = ""
		if def >= 0 {
			next[def].IsDefault = false
		}
		def = len(next) - 1
		next[def].IsDefault = true
		r.logger.Debug().Str("direction", dir.String()).Str("id", id).Msg("held default resolved")
	}
	return s.with(dir, next, def), true
}

func (r *Registry) removed(s *state, dir Direction, id string) (*state, bool) {
	if r.pending[dir] == id {
		r.pending[dir] = ""
	}

	records, def := s.records[dir], s.defaults[dir]
	i := indexOf(records, id)
	if i < 0 {
		return s, false
	}

	next := slices.Delete(slices.Clone(records), i, i+1)
	switch {
	case def == i:
		def = -1
		r.logger.Info().Str("direction", dir.String()).Str("id", id).Msg("default device removed, default unresolved")
	case def > i:
		def--
	}
	return s.with(dir, next, def), true
}

func (r *Registry) defaultChanged(s *state, dir Direction, id string) (*state, bool) {
	records, def := s.records[dir], s.defaults[dir]

	i := -1
	if id != "" {
		i = indexOf(records, id)
	}

	if i < 0 {
		// Either the OS reports no default, or the new default has not been
		// announced yet. The old default is no longer the OS choice in both cases.
		r.pending[dir] = id
		if id != "" {
			r.logger.Debug().Str("direction", dir.String()).Str("id", id).Msg("holding default for unknown device")
		}
		if def < 0 {
			return s, false
		}
		next := slices.Clone(records)
		next[def].IsDefault = false
		return s.with(dir, next, -1), true
	}

	r.pending[dir] = ""
	if def == i {
		return s, false
	}
	next := slices.Clone(records)
	if def >= 0 {
		next[def].IsDefault = false
	}
	next[i].IsDefault = true
	return s.with(dir, next, i), true
}

// Snapshot returns a copy of the devices in dir, in insertion order
func (r *Registry) Snapshot(dir Direction) ([]Record, error) {
	s := r.published.Load()
	if s == nil {
		return nil, ErrNotInitialized
	}
	if !dir.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDirection, int(dir))
	}
	return slices.Clone(s.records[dir]), nil
}

// Default returns the default device of dir. ok is false while the default
// is unresolved. Default does not lock or allocate.
func (r *Registry) Default(dir Direction) (rec Record, ok bool, err error) {
	s := r.published.Load()
	if s == nil {
		return Record{}, false, ErrNotInitialized
	}
	if !dir.Valid() {
		return Record{}, false, fmt.Errorf("%w: %d", ErrInvalidDirection, int(dir))
	}
	i := s.defaults[dir]
	if i < 0 {
		return Record{}, false, nil
	}
	return s.records[dir][i], true, nil
}

// PendingDefault returns the default id held for a device not added yet
func (r *Registry) PendingDefault(dir Direction) (string, bool) {
	if !dir.Valid() {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[dir], r.pending[dir] != ""
}

// Initialized reports whether queries will be served
func (r *Registry) Initialized() bool {
	return r.published.Load() != nil
}
