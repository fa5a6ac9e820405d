//go:build cgo

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
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-audiodevices/internal/device"
)

// MalgoBackend implements Backend on miniaudio through malgo. Every call to
// Devices queries the native layer again, so hot-plugged devices show up
// without a refresh.
type MalgoBackend struct {
	mu       sync.Mutex
	platform Platform
	ctx      *malgo.AllocatedContext
	logger   zerolog.Logger
}

// NewMalgoBackend creates a new malgo backend
func NewMalgoBackend(platform Platform, logger zerolog.Logger) *MalgoBackend {
	return &MalgoBackend{
		platform: platform.Resolve(),
		logger:   logger,
	}
}

// Name returns "malgo"
func (m *MalgoBackend) Name() string { return string(DriverMalgo) }

// Platform returns the miniaudio backend family in use
func (m *MalgoBackend) Platform() Platform { return m.platform }

// Initialize creates the miniaudio context restricted to the platform backend
func (m *MalgoBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return nil
	}

	backend, err := malgoBackend(m.platform)
	if err != nil {
		return err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(msg string) {
		m.logger.Debug().Str("source", "miniaudio").Msg(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	m.ctx = ctx
	return nil
}

// Terminate releases the miniaudio context
func (m *MalgoBackend) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil
	}

	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

// Devices enumerates capture (Input) or playback (Output) devices
func (m *MalgoBackend) Devices(dir device.Direction) ([]device.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil, ErrBackendNotInitialized
	}

	typ := malgo.Playback
	if dir == device.Input {
		typ = malgo.Capture
	}

	infos, err := m.ctx.Devices(typ)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", dir, err)
	}

	seen := make(uniqueIDs)
	handles := make([]device.Handle, 0, len(infos))
	for _, info := range infos {
		full, err := m.ctx.DeviceInfo(typ, info.ID, malgo.Shared)
		if err != nil {
			m.logger.Warn().Err(err).Str("direction", dir.String()).Msg("unable to get audio device info")
			full = info
		}

		id := formatDeviceID(full.ID)
		if _, dup := seen[id]; dup {
			continue
		}
		seen.next(id)

		handles = append(handles, device.Handle{
			ID:        id,
			Name:      full.Name(),
			Direction: dir,
			IsDefault: full.IsDefault != 0,
		})
	}
	return handles, nil
}

// Resolve looks up id in the current enumeration
func (m *MalgoBackend) Resolve(dir device.Direction, id string) (device.Handle, error) {
	return resolveFrom(m, dir, id)
}

// formatDeviceID renders the native id (a WASAPI endpoint string, CoreAudio
// UID or ALSA hw name, zero padded) as hex.
func formatDeviceID(id malgo.DeviceID) string {
	return hex.EncodeToString(bytes.TrimRight(id[:], "\x00"))
}

func malgoBackend(platform Platform) (malgo.Backend, error) {
	switch platform {
	case PlatformWASAPI:
		return malgo.BackendWasapi, nil
	case PlatformCoreAudio:
		return malgo.BackendCoreaudio, nil
	case PlatformALSA:
		return malgo.BackendAlsa, nil
	case PlatformDummy:
		return malgo.BackendNull, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
}
