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

// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-audiodevices/internal/audio"
	"github.com/loqalabs/loqa-audiodevices/internal/logging"
	"github.com/loqalabs/loqa-audiodevices/internal/nats"
)

// Config is the root configuration
type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	NATS    NATSConfig    `yaml:"nats"`
	Logging LoggingConfig `yaml:"logging"`
}

// AudioConfig selects the device backend and how it is watched
type AudioConfig struct {
	Driver       string        `yaml:"driver"`        // portaudio, malgo or dummy
	Platform     string        `yaml:"platform"`      // auto, wasapi, coreaudio, alsa or dummy
	PollInterval time.Duration `yaml:"poll_interval"` // How often devices are re-enumerated
	Rescan       bool          `yaml:"rescan"`        // Reload the backend before each poll
}

// NATSConfig contains the device event bus settings
type NATSConfig struct {
	URL             string `yaml:"url"`
	SubjectPrefix   string `yaml:"subject_prefix"`
	Source          string `yaml:"source"` // Host name used in subjects; defaults to the hostname
	ConnectAttempts int    `yaml:"connect_attempts"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (if not empty), applies environment overrides and
// validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	source, err := os.Hostname()
	if err != nil || source == "" {
		source = "localhost"
	}
	return &Config{
		Audio: AudioConfig{
			Driver:       string(audio.DriverPortAudio),
			Platform:     audio.PlatformAuto.String(),
			PollInterval: audio.DefaultPollInterval,
			Rescan:       true,
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			SubjectPrefix:   nats.DefaultSubjectPrefix,
			Source:          sanitizeToken(source),
			ConnectAttempts: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatConsole),
		},
	}
}

// applyEnvOverrides applies LOQA_* environment variables
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOQA_AUDIO_DRIVER"); v != "" {
		cfg.Audio.Driver = v
	}
	if v := os.Getenv("LOQA_AUDIO_PLATFORM"); v != "" {
		cfg.Audio.Platform = v
	}
	if v := os.Getenv("LOQA_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("LOQA_NATS_SOURCE"); v != "" {
		cfg.NATS.Source = v
	}
	if v := os.Getenv("LOQA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []string

	if _, err := audio.ParseDriver(c.Audio.Driver); err != nil {
		errs = append(errs, "audio.driver: "+err.Error())
	}
	if _, err := audio.ParsePlatform(c.Audio.Platform); err != nil {
		errs = append(errs, "audio.platform: "+err.Error())
	}
	if c.Audio.PollInterval < 100*time.Millisecond {
		errs = append(errs, "audio.poll_interval must be at least 100ms")
	}

	if c.NATS.Source == "" {
		errs = append(errs, "nats.source is required")
	} else if strings.ContainsAny(c.NATS.Source, ".*> \t") {
		errs = append(errs, "nats.source must be a single subject token")
	}
	if c.NATS.ConnectAttempts < 1 {
		errs = append(errs, "nats.connect_attempts must be at least 1")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, "logging.level: "+err.Error())
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, "logging.format: "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Driver returns the parsed audio driver. Valid after Validate.
func (c *Config) Driver() audio.Driver {
	d, _ := audio.ParseDriver(c.Audio.Driver)
	return d
}

// Platform returns the parsed audio platform. Valid after Validate.
func (c *Config) Platform() audio.Platform {
	p, _ := audio.ParsePlatform(c.Audio.Platform)
	return p
}

// sanitizeToken makes a hostname usable as one NATS subject token
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '-'
		}
		return r
	}, s)
}
