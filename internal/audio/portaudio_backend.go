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
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-audiodevices/internal/device"
)

// Swapped in tests to exercise Refresh without audio hardware
var (
	paInitialize = portaudio.Initialize
	paTerminate  = portaudio.Terminate
)

// PortAudioBackend implements Backend using the PortAudio library.
// Devices are restricted to the host API matching the platform.
type PortAudioBackend struct {
	mu          sync.Mutex
	platform    Platform
	initialized bool
	lost        bool // a Refresh failed to bring PortAudio back up
	logger      zerolog.Logger
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend(platform Platform, logger zerolog.Logger) *PortAudioBackend {
	return &PortAudioBackend{
		platform: platform.Resolve(),
		logger:   logger,
	}
}

// Name returns "portaudio"
func (p *PortAudioBackend) Name() string { return string(DriverPortAudio) }

// Platform returns the host API family this backend enumerates
func (p *PortAudioBackend) Platform() Platform { return p.platform }

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if _, err := hostAPIType(p.platform); err != nil {
		return err
	}

	if err := paInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	p.lost = false
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	err := paTerminate()
	p.initialized = false
	return err
}

// Refresh reinitializes PortAudio so hot-plugged devices show up; PortAudio
// only scans devices during Initialize. After a failed reinitialization the
// next Refresh tries again; after Terminate it does not.
func (p *PortAudioBackend) Refresh() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized && !p.lost {
		return ErrBackendNotInitialized
	}
	if p.initialized {
		if err := paTerminate(); err != nil {
			return fmt.Errorf("failed to terminate PortAudio: %w", err)
		}
		p.initialized = false
	}
	if err := paInitialize(); err != nil {
		p.lost = true
		return fmt.Errorf("failed to reinitialize PortAudio: %w", err)
	}
	if p.lost {
		p.logger.Info().Msg("PortAudio reinitialized")
	}
	p.initialized = true
	p.lost = false
	return nil
}

// Devices enumerates the devices of the platform host API with channels in dir
func (p *PortAudioBackend) Devices(dir device.Direction) ([]device.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, ErrBackendNotInitialized
	}

	apiType, err := hostAPIType(p.platform)
	if err != nil {
		return nil, err
	}
	api, err := portaudio.HostApi(apiType)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s host API: %w", p.platform, err)
	}

	var def *portaudio.DeviceInfo
	if dir == device.Input {
		def = api.DefaultInputDevice
	} else {
		def = api.DefaultOutputDevice
	}

	infos := make([]*portaudio.DeviceInfo, 0, len(api.Devices))
	for _, info := range api.Devices {
		channels := info.MaxOutputChannels
		if dir == device.Input {
			channels = info.MaxInputChannels
		}
		if channels > 0 {
			infos = append(infos, info)
		}
	}
	defIdx := defaultIndex(def, infos)

	seen := make(uniqueIDs)
	handles := make([]device.Handle, 0, len(infos))
	for i, info := range infos {
		// PortAudio indexes shift when devices come and go; host API plus
		// name is what stays stable across rescans.
		handles = append(handles, device.Handle{
			ID:        seen.next(api.Name + ":" + info.Name),
			Name:      info.Name,
			Direction: dir,
			IsDefault: i == defIdx,
		})
	}

	p.logger.Debug().Str("host_api", api.Name).Str("direction", dir.String()).
		Int("count", len(handles)).Msg("enumerated PortAudio devices")
	return handles, nil
}

// Resolve looks up id in the current enumeration
func (p *PortAudioBackend) Resolve(dir device.Direction, id string) (device.Handle, error) {
	return resolveFrom(p, dir, id)
}

// defaultIndex finds def in infos. HostApiInfo defaults point into the same
// device table, so identity decides; the first name match is only used when
// no entry is def itself. Returns -1 when def is absent.
func defaultIndex(def *portaudio.DeviceInfo, infos []*portaudio.DeviceInfo) int {
	if def == nil {
		return -1
	}
	byName := -1
	for i, info := range infos {
		if info == def {
			return i
		}
		if byName < 0 && info != nil && info.Name == def.Name {
			byName = i
		}
	}
	return byName
}

func hostAPIType(platform Platform) (portaudio.HostApiType, error) {
	switch platform {
	case PlatformWASAPI:
		return portaudio.WASAPI, nil
	case PlatformCoreAudio:
		return portaudio.CoreAudio, nil
	case PlatformALSA:
		return portaudio.ALSA, nil
	default:
		return 0, fmt.Errorf("%w: PortAudio has no host API for %s", ErrUnsupportedPlatform, platform)
	}
}
