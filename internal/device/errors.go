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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned when the registry is queried before Start or after Shutdown
	ErrNotInitialized = errors.New("device registry not initialized")

	// ErrRegistryClosed is returned by Start on a registry that was already shut down
	ErrRegistryClosed = errors.New("device registry closed")

	// ErrDuplicateDeviceID marks an Added event for an id that is already present.
	// It is logged and the event is treated as an update; callers never see it.
	ErrDuplicateDeviceID = errors.New("duplicate device id")

	// ErrSubscribe wraps a change notifier subscription failure reported by Start
	ErrSubscribe = errors.New("failed to subscribe to device changes")

	// ErrInvalidEvent is returned for events that cannot be normalized
	ErrInvalidEvent = errors.New("invalid device event")

	// ErrInvalidDirection is returned for directions other than Input and Output
	ErrInvalidDirection = errors.New("invalid device direction")

	// ErrUnknownDevice is returned by resolvers for ids they do not know
	ErrUnknownDevice = errors.New("unknown device")
)

// ParseDirection accepts the direction names used by the supported audio
// APIs (input/capture, output/playback/render).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "input", "capture", "in":
		return Input, nil
	case "output", "playback", "render", "out":
		return Output, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}
