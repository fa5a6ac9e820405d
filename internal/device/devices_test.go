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
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevices_NotInitialized(t *testing.T) {
	tests := []struct {
		name    string
		devices *Devices
	}{
		{"nil facade", nil},
		{"zero facade", &Devices{}},
		{"nil registry", NewDevices(nil)},
		{"registry not started", NewDevices(NewRegistry(nil, nil, zerolog.Nop()))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.devices.ListInputDevices()
			assert.ErrorIs(t, err, ErrNotInitialized)
			_, err = tt.devices.ListOutputDevices()
			assert.ErrorIs(t, err, ErrNotInitialized)
			_, ok, err := tt.devices.DefaultInputDevice()
			assert.ErrorIs(t, err, ErrNotInitialized)
			assert.False(t, ok)
			_, ok, err = tt.devices.DefaultOutputDevice()
			assert.ErrorIs(t, err, ErrNotInitialized)
			assert.False(t, ok)
		})
	}
}

func TestDevices_Queries(t *testing.T) {
	r := NewRegistry(nil, nil, zerolog.Nop())
	require.NoError(t, r.Start(context.Background()))
	devices := NewDevices(r)

	t.Run("empty_directions", func(t *testing.T) {
		inputs, err := devices.ListInputDevices()
		require.NoError(t, err)
		assert.Empty(t, inputs)

		_, ok, err := devices.DefaultInputDevice()
		require.NoError(t, err, "no devices is not an error")
		assert.False(t, ok)
	})

	require.NoError(t, r.ApplyDeviceAdded(Output, Record{ID: "A", Name: "Speakers"}))
	require.NoError(t, r.ApplyDeviceAdded(Output, Record{ID: "B", Name: "Headphones"}))
	require.NoError(t, r.ApplyDeviceAdded(Input, Record{ID: "M", Name: "Microphone"}))

	t.Run("no_fallback_default", func(t *testing.T) {
		_, ok, err := devices.DefaultOutputDevice()
		require.NoError(t, err)
		assert.False(t, ok, "an unresolved default must not fall back to the first device")
	})

	require.NoError(t, r.ApplyDefaultChanged(Output, "B"))
	require.NoError(t, r.ApplyDefaultChanged(Input, "M"))

	t.Run("lists_and_defaults", func(t *testing.T) {
		outputs, err := devices.ListOutputDevices()
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, ids(outputs))

		def, ok, err := devices.DefaultOutputDevice()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "B", def.ID)

		def, ok, err = devices.DefaultInputDevice()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Record{ID: "M", Name: "Microphone", Direction: Input, IsDefault: true}, def)
	})

	t.Run("find", func(t *testing.T) {
		rec, ok, err := devices.Find(Output, "A")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Speakers", rec.Name)

		_, ok, err = devices.Find(Input, "A")
		require.NoError(t, err)
		assert.False(t, ok, "ids are scoped to a direction")
	})

	require.NoError(t, r.Shutdown())

	t.Run("after_shutdown", func(t *testing.T) {
		_, err := devices.ListOutputDevices()
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}
