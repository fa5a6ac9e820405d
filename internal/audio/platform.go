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
	"runtime"
	"strings"
)

// Platform is the native audio API a backend targets
type Platform int

const (
	PlatformAuto Platform = iota
	PlatformWASAPI
	PlatformCoreAudio
	PlatformALSA
	PlatformDummy
)

func (p Platform) String() string {
	switch p {
	case PlatformAuto:
		return "auto"
	case PlatformWASAPI:
		return "wasapi"
	case PlatformCoreAudio:
		return "coreaudio"
	case PlatformALSA:
		return "alsa"
	case PlatformDummy:
		return "dummy"
	default:
		return fmt.Sprintf("platform(%d)", int(p))
	}
}

// ParsePlatform converts a config value into a Platform
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PlatformAuto, nil
	case "wasapi", "windows":
		return PlatformWASAPI, nil
	case "coreaudio", "darwin", "macos":
		return PlatformCoreAudio, nil
	case "alsa", "linux":
		return PlatformALSA, nil
	case "dummy", "null", "none":
		return PlatformDummy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
	}
}

// DefaultPlatform picks the native API for the running OS
func DefaultPlatform() Platform {
	return platformFor(runtime.GOOS)
}

func platformFor(goos string) Platform {
	switch goos {
	case "windows":
		return PlatformWASAPI
	case "darwin", "ios":
		return PlatformCoreAudio
	case "linux", "android", "freebsd":
		return PlatformALSA
	default:
		return PlatformDummy
	}
}

// Resolve replaces PlatformAuto with the platform of the running OS
func (p Platform) Resolve() Platform {
	if p == PlatformAuto {
		return DefaultPlatform()
	}
	return p
}

// Driver selects the library used to reach the native API
type Driver string

const (
	DriverPortAudio Driver = "portaudio"
	DriverMalgo     Driver = "malgo"
	DriverDummy     Driver = "dummy"
)

// ParseDriver converts a config value into a Driver
func ParseDriver(s string) (Driver, error) {
	switch d := Driver(strings.ToLower(strings.TrimSpace(s))); d {
	case DriverPortAudio, DriverMalgo, DriverDummy:
		return d, nil
	case "miniaudio":
		return DriverMalgo, nil
	default:
		return "", fmt.Errorf("unknown audio driver %q", s)
	}
}
