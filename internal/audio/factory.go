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
	"github.com/rs/zerolog"
)

// NewBackend creates the backend for driver on platform. The dummy driver
// or platform always succeeds; native drivers need cgo.
func NewBackend(driver Driver, platform Platform, logger zerolog.Logger) (Backend, error) {
	platform = platform.Resolve()
	if driver == DriverDummy || platform == PlatformDummy {
		return NewDummyBackend(), nil
	}
	return newNativeBackend(driver, platform, logger.With().Str("component", "audio-backend").Logger())
}
