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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loqa_audio_device_events_applied_total",
			Help: "Total number of device events that changed registry state",
		},
		[]string{"kind", "direction"},
	)

	eventsDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loqa_audio_device_events_discarded_total",
			Help: "Total number of device events dropped before reaching the registry state",
		},
		[]string{"reason"},
	)

	duplicateDeviceIDsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loqa_audio_device_duplicate_ids_total",
			Help: "Total number of Added events for an id that was already present",
		},
		[]string{"direction"},
	)

	devicesPresent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loqa_audio_devices",
			Help: "Number of devices currently known per direction",
		},
		[]string{"direction"},
	)

	pendingDefaults = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loqa_audio_device_pending_defaults",
			Help: "1 when a default change is held waiting for its device to be added",
		},
		[]string{"direction"},
	)
)

const (
	discardInvalid    = "invalid"
	discardUnresolved = "unresolved"
	discardClosed     = "closed"
)

func recordState(s *state, pending *[2]string) {
	for _, dir := range Directions {
		devicesPresent.WithLabelValues(dir.String()).Set(float64(len(s.records[dir])))
		if pending[dir] != "" {
			pendingDefaults.WithLabelValues(dir.String()).Set(1)
		} else {
			pendingDefaults.WithLabelValues(dir.String()).Set(0)
		}
	}
}
