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
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-audiodevices/internal/device"
)

var (
	// ErrBackendNotInitialized is returned when a backend is used before Initialize
	ErrBackendNotInitialized = errors.New("audio backend not initialized")

	// ErrUnsupportedPlatform is returned when a driver cannot serve the requested platform
	ErrUnsupportedPlatform = errors.New("unsupported audio platform")
)

// Backend provides an abstraction over a platform's native device layer.
// It is the capability the device registry consumes: enumeration for the
// initial snapshot and resolution of ids announced by a change notifier.
type Backend interface {
	// Name identifies the driver ("portaudio", "malgo", "dummy")
	Name() string

	// Platform is the native audio API the backend talks to
	Platform() Platform

	// Initialize the native audio subsystem
	Initialize() error

	// Terminate the native audio subsystem
	Terminate() error

	// Devices enumerates the devices currently present for dir
	Devices(dir device.Direction) ([]device.Handle, error)

	// Resolve looks up a single device by id
	Resolve(dir device.Direction, id string) (device.Handle, error)
}

// Refresher is implemented by backends whose enumeration is cached and must
// be rebuilt to observe hot-plugged devices
type Refresher interface {
	Refresh() error
}

// resolveFrom finds id in the enumeration of dir
func resolveFrom(b Backend, dir device.Direction, id string) (device.Handle, error) {
	handles, err := b.Devices(dir)
	if err != nil {
		return device.Handle{}, err
	}
	for _, h := range handles {
		if h.ID == id {
			return h, nil
		}
	}
	return device.Handle{}, fmt.Errorf("%w: %s device %q", device.ErrUnknownDevice, dir, id)
}

// uniqueIDs tracks ids handed out during one enumeration. Native layers can
// report the same id (or name) twice; later ones get a numeric suffix.
type uniqueIDs map[string]int

func (u uniqueIDs) next(id string) string {
	n := u[id]
	u[id] = n + 1
	if n == 0 {
		return id
	}
	return fmt.Sprintf("%s#%d", id, n+1)
}
