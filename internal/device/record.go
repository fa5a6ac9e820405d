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

import "fmt"

// Direction is the audio path a device serves
type Direction int

const (
	// Input is the capture path (microphones, line-in)
	Input Direction = iota
	// Output is the render path (speakers, headphones)
	Output
)

// Directions lists every valid direction in a stable order
var Directions = [...]Direction{Input, Output}

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Valid reports whether d is Input or Output
func (d Direction) Valid() bool {
	return d == Input || d == Output
}

// MarshalText encodes d as "input" or "output"
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w %d", ErrInvalidDirection, int(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Record is an immutable snapshot of one device's identity.
// Records are values; the registry never hands out pointers into its state.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	IsDefault bool      `json:"is_default"`
}

func (r Record) String() string {
	if r.IsDefault {
		return fmt.Sprintf("%s %q (%s, default)", r.ID, r.Name, r.Direction)
	}
	return fmt.Sprintf("%s %q (%s)", r.ID, r.Name, r.Direction)
}

// Handle is what a native backend reports for a device
type Handle struct {
	ID        string
	Name      string
	Direction Direction
	IsDefault bool
}

// Resolver looks up a native device by id
type Resolver interface {
	Resolve(dir Direction, id string) (Handle, error)
}

// Lister enumerates the native devices currently present for a direction.
// A Resolver that also implements Lister is used to seed the registry on Start.
type Lister interface {
	Devices(dir Direction) ([]Handle, error)
}

// Notifier delivers normalized device-change events.
//
// Callbacks may run on any goroutine. Unsubscribe must not return while a
// callback is still executing, and no callback may fire after it returns.
type Notifier interface {
	Subscribe(dir Direction, callback func(Event)) error
	Unsubscribe() error
}

// Primer is implemented by notifiers that diff enumerations. Start hands
// them the devices it seeded from so their first report carries only
// changes made after seeding.
type Primer interface {
	Prime(dir Direction, handles []Handle)
}
