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
	"fmt"
	"slices"
	"sync"

	"github.com/loqalabs/loqa-audiodevices/internal/device"
)

// MockBackend implements Backend for testing without hardware dependencies.
// Devices are scripted with AddDevice, RemoveDevice and SetDefault.
type MockBackend struct {
	mu             sync.Mutex
	initialized    bool
	devices        map[device.Direction][]device.Handle
	initError      error
	terminateError error
	listError      error
	refreshCount   int
	listCalls      int
}

// NewMockBackend creates a mock backend with no devices
func NewMockBackend() *MockBackend {
	return &MockBackend{
		devices: make(map[device.Direction][]device.Handle),
	}
}

// NewDummyBackend creates the backend used for the dummy platform: one
// default input and one default output that never change
func NewDummyBackend() *MockBackend {
	m := NewMockBackend()
	m.AddDevice(device.Handle{ID: "dummy-input", Name: "Dummy Input", Direction: device.Input, IsDefault: true})
	m.AddDevice(device.Handle{ID: "dummy-output", Name: "Dummy Output", Direction: device.Output, IsDefault: true})
	return m
}

// Name returns "dummy"
func (m *MockBackend) Name() string { return string(DriverDummy) }

// Platform returns PlatformDummy
func (m *MockBackend) Platform() Platform { return PlatformDummy }

// SetInitError configures the backend to return an error on Initialize()
func (m *MockBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetTerminateError configures the backend to return an error on Terminate()
func (m *MockBackend) SetTerminateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateError = err
}

// SetListError configures the backend to return an error on Devices()
func (m *MockBackend) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listError = err
}

// AddDevice plugs a device in, replacing one with the same id.
// A device added as default takes the default from the others.
func (m *MockBackend) AddDevice(h device.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.devices[h.Direction]
	if i := slices.IndexFunc(list, func(d device.Handle) bool { return d.ID == h.ID }); i >= 0 {
		list[i] = h
	} else {
		list = append(list, h)
	}
	if h.IsDefault {
		for i := range list {
			list[i].IsDefault = list[i].ID == h.ID
		}
	}
	m.devices[h.Direction] = list
}

// RemoveDevice unplugs a device
func (m *MockBackend) RemoveDevice(dir device.Direction, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[dir] = slices.DeleteFunc(m.devices[dir], func(d device.Handle) bool { return d.ID == id })
}

// SetDefault moves the default of dir to id; an empty id clears it
func (m *MockBackend) SetDefault(dir device.Direction, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.devices[dir] {
		m.devices[dir][i].IsDefault = m.devices[dir][i].ID == id
	}
}

// ListCalls returns how many times Devices() was called
func (m *MockBackend) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// RefreshCount returns how many times Refresh() was called
func (m *MockBackend) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCount
}

// Initialize initializes the mock audio subsystem
func (m *MockBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate terminates the mock audio subsystem
func (m *MockBackend) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminateError != nil {
		return m.terminateError
	}

	m.initialized = false
	return nil
}

// Refresh counts rescans; the mock enumeration is always live
func (m *MockBackend) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrBackendNotInitialized
	}
	m.refreshCount++
	return nil
}

// Devices returns a copy of the scripted devices for dir
func (m *MockBackend) Devices(dir device.Direction) ([]device.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if !m.initialized {
		return nil, ErrBackendNotInitialized
	}
	if m.listError != nil {
		return nil, m.listError
	}
	if !dir.Valid() {
		return nil, fmt.Errorf("%w: %d", device.ErrInvalidDirection, int(dir))
	}
	return slices.Clone(m.devices[dir]), nil
}

// Resolve looks up id among the scripted devices
func (m *MockBackend) Resolve(dir device.Direction, id string) (device.Handle, error) {
	return resolveFrom(m, dir, id)
}
