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
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-audiodevices/internal/device"
)

const testPollInterval = 10 * time.Millisecond

// eventLog collects events delivered by a notifier
type eventLog struct {
	mu     sync.Mutex
	events []device.Event
}

func (l *eventLog) add(ev device.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []device.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]device.Event(nil), l.events...)
}

func (l *eventLog) has(kind device.Kind, id string) bool {
	for _, ev := range l.snapshot() {
		if ev.Kind == kind && ev.ID == id {
			return true
		}
	}
	return false
}

func TestDiffHandles(t *testing.T) {
	spk := device.Handle{ID: "spk", Name: "Speakers", Direction: device.Output}
	spkDefault := device.Handle{ID: "spk", Name: "Speakers", Direction: device.Output, IsDefault: true}
	hp := device.Handle{ID: "hp", Name: "Headphones", Direction: device.Output}
	hpDefault := device.Handle{ID: "hp", Name: "Headphones", Direction: device.Output, IsDefault: true}

	tests := []struct {
		name string
		prev []device.Handle
		next []device.Handle
		want []device.Event
	}{
		{
			name: "no change",
			prev: []device.Handle{spkDefault, hp},
			next: []device.Handle{spkDefault, hp},
			want: nil,
		},
		{
			name: "initial enumeration",
			prev: nil,
			next: []device.Handle{spk, hpDefault},
			want: []device.Event{
				{Kind: device.Added, Direction: device.Output, ID: "spk", Name: "Speakers"},
				{Kind: device.Added, Direction: device.Output, ID: "hp", Name: "Headphones"},
				{Kind: device.DefaultChanged, Direction: device.Output, ID: "hp"},
			},
		},
		{
			name: "default moves",
			prev: []device.Handle{spkDefault, hp},
			next: []device.Handle{spk, hpDefault},
			want: []device.Event{
				{Kind: device.DefaultChanged, Direction: device.Output, ID: "hp"},
			},
		},
		{
			name: "default unplugged",
			prev: []device.Handle{spk, hpDefault},
			next: []device.Handle{spk},
			want: []device.Event{
				{Kind: device.Removed, Direction: device.Output, ID: "hp"},
				{Kind: device.DefaultChanged, Direction: device.Output, ID: ""},
			},
		},
		{
			name: "rename",
			prev: []device.Handle{spk},
			next: []device.Handle{{ID: "spk", Name: "Desk Speakers", Direction: device.Output}},
			want: []device.Event{
				{Kind: device.Added, Direction: device.Output, ID: "spk", Name: "Desk Speakers"},
			},
		},
		{
			name: "replaced device",
			prev: []device.Handle{spkDefault},
			next: []device.Handle{hpDefault},
			want: []device.Event{
				{Kind: device.Removed, Direction: device.Output, ID: "spk"},
				{Kind: device.Added, Direction: device.Output, ID: "hp", Name: "Headphones"},
				{Kind: device.DefaultChanged, Direction: device.Output, ID: "hp"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiffHandles(device.Output, tt.prev, tt.next))
		})
	}
}

func TestPollingNotifier_DeliversChanges(t *testing.T) {
	backend := NewMockBackend()
	require.NoError(t, backend.Initialize())
	backend.AddDevice(device.Handle{ID: "spk", Name: "Speakers", Direction: device.Output, IsDefault: true})

	notifier := NewPollingNotifier(backend, testPollInterval, false, zerolog.Nop())
	log := &eventLog{}
	require.NoError(t, notifier.Subscribe(device.Output, log.add))
	defer func() { _ = notifier.Unsubscribe() }()

	require.Eventually(t, func() bool {
		return log.has(device.Added, "spk") && log.has(device.DefaultChanged, "spk")
	}, time.Second, testPollInterval, "initial devices are reported")

	backend.AddDevice(device.Handle{ID: "usb", Name: "USB DAC", Direction: device.Output})
	require.Eventually(t, func() bool { return log.has(device.Added, "usb") }, time.Second, testPollInterval)

	backend.RemoveDevice(device.Output, "spk")
	require.Eventually(t, func() bool { return log.has(device.Removed, "spk") }, time.Second, testPollInterval)

	for _, ev := range log.snapshot() {
		assert.Equal(t, device.Output, ev.Direction, "only subscribed directions are polled")
	}
}

func TestPollingNotifier_Prime(t *testing.T) {
	backend := NewMockBackend()
	require.NoError(t, backend.Initialize())
	backend.AddDevice(device.Handle{ID: "spk", Name: "Speakers", Direction: device.Output, IsDefault: true})

	current, err := backend.Devices(device.Output)
	require.NoError(t, err)

	notifier := NewPollingNotifier(backend, testPollInterval, false, zerolog.Nop())
	notifier.Prime(device.Output, current)
	notifier.Prime(device.Direction(9), current)

	log := &eventLog{}
	require.NoError(t, notifier.Subscribe(device.Output, log.add))
	defer func() { _ = notifier.Unsubscribe() }()

	listed := backend.ListCalls()
	require.Eventually(t, func() bool { return backend.ListCalls() >= listed+3 }, time.Second, testPollInterval)
	assert.Empty(t, log.snapshot(), "unchanged devices are not reported again")

	backend.AddDevice(device.Handle{ID: "usb", Name: "USB DAC", Direction: device.Output})
	require.Eventually(t, func() bool { return log.has(device.Added, "usb") }, time.Second, testPollInterval)
	assert.Equal(t, []device.Event{{Kind: device.Added, Direction: device.Output, ID: "usb", Name: "USB DAC"}}, log.snapshot())
}

func TestPollingNotifier_Subscribe(t *testing.T) {
	backend := NewMockBackend()
	require.NoError(t, backend.Initialize())
	notifier := NewPollingNotifier(backend, testPollInterval, false, zerolog.Nop())
	defer func() { _ = notifier.Unsubscribe() }()

	require.NoError(t, notifier.Subscribe(device.Input, func(device.Event) {}))
	assert.ErrorIs(t, notifier.Subscribe(device.Input, func(device.Event) {}), ErrAlreadySubscribed)
	assert.ErrorIs(t, notifier.Subscribe(device.Direction(4), func(device.Event) {}), device.ErrInvalidDirection)

	assert.Equal(t, DefaultPollInterval, NewPollingNotifier(backend, 0, false, zerolog.Nop()).interval)
}

func TestPollingNotifier_Unsubscribe(t *testing.T) {
	backend := NewMockBackend()
	require.NoError(t, backend.Initialize())

	notifier := NewPollingNotifier(backend, testPollInterval, false, zerolog.Nop())
	log := &eventLog{}
	require.NoError(t, notifier.Subscribe(device.Input, log.add))

	require.Eventually(t, func() bool { return backend.ListCalls() > 1 }, time.Second, testPollInterval)
	require.NoError(t, notifier.Unsubscribe())

	delivered := len(log.snapshot())
	calls := backend.ListCalls()

	backend.AddDevice(device.Handle{ID: "mic", Name: "Mic", Direction: device.Input})
	time.Sleep(5 * testPollInterval)

	assert.Len(t, log.snapshot(), delivered, "no callback after Unsubscribe returns")
	assert.Equal(t, calls, backend.ListCalls(), "polling stopped")
	assert.NoError(t, notifier.Unsubscribe(), "unsubscribe is idempotent")

	// Resubscribing starts over with a full enumeration
	require.NoError(t, notifier.Subscribe(device.Input, log.add))
	defer func() { _ = notifier.Unsubscribe() }()
	require.Eventually(t, func() bool { return log.has(device.Added, "mic") }, time.Second, testPollInterval)
}

func TestPollingNotifier_Rescan(t *testing.T) {
	backend := NewMockBackend()
	require.NoError(t, backend.Initialize())

	notifier := NewPollingNotifier(backend, testPollInterval, true, zerolog.Nop())
	require.NoError(t, notifier.Subscribe(device.Output, func(device.Event) {}))
	defer func() { _ = notifier.Unsubscribe() }()

	require.Eventually(t, func() bool { return backend.RefreshCount() >= 2 }, time.Second, testPollInterval)
}

// TestPollingNotifier_Registry runs the full control flow: backend changes are
// picked up by the poller, applied by the registry and served by the facade.
func TestPollingNotifier_Registry(t *testing.T) {
	backend := NewMockBackend()
	require.NoError(t, backend.Initialize())
	backend.AddDevice(device.Handle{ID: "spk", Name: "Speakers", Direction: device.Output, IsDefault: true})
	backend.AddDevice(device.Handle{ID: "mic", Name: "Built-in Mic", Direction: device.Input, IsDefault: true})

	notifier := NewPollingNotifier(backend, testPollInterval, false, zerolog.Nop())
	registry := device.NewRegistry(backend, notifier, zerolog.Nop())
	require.NoError(t, registry.Start(context.Background()))
	defer func() { _ = registry.Shutdown() }()

	devices := device.NewDevices(registry)

	def, ok, err := devices.DefaultOutputDevice()
	require.NoError(t, err)
	require.True(t, ok, "registry is seeded before Start returns")
	assert.Equal(t, "spk", def.ID)

	defaultOutput := func() string {
		rec, ok, err := devices.DefaultOutputDevice()
		if err != nil || !ok {
			return ""
		}
		return rec.ID
	}

	backend.AddDevice(device.Handle{ID: "hp", Name: "Headphones", Direction: device.Output, IsDefault: true})
	require.Eventually(t, func() bool { return defaultOutput() == "hp" }, time.Second, testPollInterval)

	backend.RemoveDevice(device.Output, "hp")
	require.Eventually(t, func() bool {
		outputs, err := devices.ListOutputDevices()
		return err == nil && len(outputs) == 1
	}, time.Second, testPollInterval)
	assert.Equal(t, "", defaultOutput(), "no fallback to the remaining device")

	backend.SetDefault(device.Output, "spk")
	require.Eventually(t, func() bool { return defaultOutput() == "spk" }, time.Second, testPollInterval)

	inputs, err := devices.ListInputDevices()
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.True(t, inputs[0].IsDefault)

	require.NoError(t, registry.Shutdown())
	calls := backend.ListCalls()
	time.Sleep(5 * testPollInterval)
	assert.Equal(t, calls, backend.ListCalls(), "shutdown stops the poller")
}

// TestPollingNotifier_RegistryStartIsQuiet checks that a registry seeded on
// Start does not hear its own devices again from the first poll
func TestPollingNotifier_RegistryStartIsQuiet(t *testing.T) {
	backend := NewMockBackend()
	require.NoError(t, backend.Initialize())
	backend.AddDevice(device.Handle{ID: "spk", Name: "Speakers", Direction: device.Output, IsDefault: true})
	backend.AddDevice(device.Handle{ID: "mic", Name: "Built-in Mic", Direction: device.Input, IsDefault: true})

	notifier := NewPollingNotifier(backend, testPollInterval, false, zerolog.Nop())
	registry := device.NewRegistry(backend, notifier, zerolog.Nop())
	log := &eventLog{}
	registry.OnApplied(log.add)

	require.NoError(t, registry.Start(context.Background()))
	defer func() { _ = registry.Shutdown() }()

	seeded := len(log.snapshot())
	require.Equal(t, 4, seeded, "two Added and two DefaultChanged from seeding")

	listed := backend.ListCalls()
	require.Eventually(t, func() bool { return backend.ListCalls() >= listed+6 }, time.Second, testPollInterval)
	assert.Len(t, log.snapshot(), seeded, "polls without a device change report nothing")

	backend.AddDevice(device.Handle{ID: "usb", Name: "USB Mic", Direction: device.Input})
	require.Eventually(t, func() bool { return log.has(device.Added, "usb") }, time.Second, testPollInterval)
	assert.Len(t, log.snapshot(), seeded+1)
}
