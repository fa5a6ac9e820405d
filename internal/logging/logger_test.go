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

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zerolog.Level
		wantErr bool
	}{
		{input: "", want: zerolog.InfoLevel},
		{input: "debug", want: zerolog.DebugLevel},
		{input: " INFO ", want: zerolog.InfoLevel},
		{input: "warn", want: zerolog.WarnLevel},
		{input: "warning", want: zerolog.WarnLevel},
		{input: "error", want: zerolog.ErrorLevel},
		{input: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatConsole, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Run("json_output_respects_level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Level: "warn", Format: FormatJSON, Output: &buf})
		require.NoError(t, err)

		logger.Info().Msg("hidden")
		logger.Warn().Str("component", "test").Msg("shown")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "shown", entry["message"])
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "test", entry["component"])
	})

	t.Run("console_output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Level: "debug", Output: &buf})
		require.NoError(t, err)

		logger.Debug().Msg("device added")
		assert.Contains(t, buf.String(), "device added")
	})

	t.Run("invalid_level", func(t *testing.T) {
		_, err := New(Options{Level: "chatty"})
		assert.Error(t, err)
	})

	t.Run("invalid_format", func(t *testing.T) {
		_, err := New(Options{Format: "yaml"})
		assert.Error(t, err)
	})
}

func TestSubsystemLogger(t *testing.T) {
	prev := *GetDefaultLogger()
	defer SetDefaultLogger(prev)

	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)
	SetDefaultLogger(logger)

	l := GetSubsystemLogger("device-registry")
	l.Info().Msg("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "device-registry", entry["component"])
}
