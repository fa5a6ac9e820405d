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
	"fmt"
	"strings"
)

// Kind is the type of a device-change event
type Kind int

const (
	// Added reports a device that appeared (or was renamed)
	Added Kind = iota + 1
	// Removed reports a device that disappeared
	Removed
	// DefaultChanged reports a new OS default; an empty id means no default
	DefaultChanged
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case DefaultChanged:
		return "default_changed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a wire name into a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "added", "add":
		return Added, nil
	case "removed", "remove":
		return Removed, nil
	case "default_changed", "defaultchanged", "default":
		return DefaultChanged, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, s)
	}
}

// Event is a normalized device-change notification
type Event struct {
	Kind      Kind
	Direction Direction
	ID        string
	// Name is optional; Added events without one are resolved through the registry's Resolver
	Name string
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s %q", e.Kind, e.Direction, e.ID)
}

// Validate checks that the event can be applied
func (e Event) Validate() error {
	switch e.Kind {
	case Added, Removed, DefaultChanged:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidEvent, int(e.Kind))
	}
	if !e.Direction.Valid() {
		return fmt.Errorf("%w: %w %d", ErrInvalidEvent, ErrInvalidDirection, int(e.Direction))
	}
	if e.ID == "" && e.Kind != DefaultChanged {
		return fmt.Errorf("%w: %s event without device id", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// AddedEvent builds the Added event for a native handle
func AddedEvent(h Handle) Event {
	return Event{Kind: Added, Direction: h.Direction, ID: h.ID, Name: h.Name}
}
