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

// Devices is the read-only query surface handed to stream setup code.
// A zero Devices, or one built on a nil registry, reports ErrNotInitialized.
type Devices struct {
	registry *Registry
}

// NewDevices creates the query surface for r
func NewDevices(r *Registry) *Devices {
	return &Devices{registry: r}
}

// ListInputDevices returns the capture devices in insertion order
func (d *Devices) ListInputDevices() ([]Record, error) {
	return d.list(Input)
}

// ListOutputDevices returns the render devices in insertion order
func (d *Devices) ListOutputDevices() ([]Record, error) {
	return d.list(Output)
}

// DefaultInputDevice returns the OS default capture device.
// ok is false when no default is available; there is no fallback.
func (d *Devices) DefaultInputDevice() (Record, bool, error) {
	return d.defaultDevice(Input)
}

// DefaultOutputDevice returns the OS default render device.
// ok is false when no default is available; there is no fallback.
func (d *Devices) DefaultOutputDevice() (Record, bool, error) {
	return d.defaultDevice(Output)
}

// Find returns the device with id in dir
func (d *Devices) Find(dir Direction, id string) (Record, bool, error) {
	records, err := d.list(dir)
	if err != nil {
		return Record{}, false, err
	}
	if i := indexOf(records, id); i >= 0 {
		return records[i], true, nil
	}
	return Record{}, false, nil
}

func (d *Devices) list(dir Direction) ([]Record, error) {
	if d == nil || d.registry == nil {
		return nil, ErrNotInitialized
	}
	return d.registry.Snapshot(dir)
}

func (d *Devices) defaultDevice(dir Direction) (Record, bool, error) {
	if d == nil || d.registry == nil {
		return Record{}, false, ErrNotInitialized
	}
	return d.registry.Default(dir)
}
