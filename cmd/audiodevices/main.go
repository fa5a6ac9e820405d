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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/loqalabs/loqa-audiodevices/internal/audio"
	"github.com/loqalabs/loqa-audiodevices/internal/config"
	"github.com/loqalabs/loqa-audiodevices/internal/device"
	"github.com/loqalabs/loqa-audiodevices/internal/logging"
	"github.com/loqalabs/loqa-audiodevices/internal/nats"
)

type options struct {
	Config   string `short:"c" long:"config" description:"Path to the YAML config file"`
	Driver   string `long:"driver" description:"Audio driver: portaudio, malgo or dummy"`
	Platform string `long:"platform" description:"Native API: auto, wasapi, coreaudio, alsa or dummy"`
	Watch    bool   `short:"w" long:"watch" description:"Keep running and print device changes"`
	Publish  bool   `long:"publish" description:"Publish device changes to NATS"`
	Mirror   string `long:"mirror" value-name:"SOURCE" description:"Mirror the devices another host publishes on NATS"`
	LogLevel string `long:"loglevel" description:"Log level: debug, info, warn or error"`
	JSON     bool   `long:"json" description:"Print devices as JSON"`
	Metrics  string `long:"metrics" value-name:"ADDR" description:"Serve Prometheus metrics on ADDR while watching"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	if flags.WroteHelp(err) {
		return
	}
	var flagErr *flags.Error
	if errors.As(err, &flagErr) {
		// Already printed by the parser
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// run is main without the process plumbing
func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: logging.Format(cfg.Logging.Format),
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}
	logging.SetDefaultLogger(logger)

	app := &app{
		opts:   opts,
		cfg:    cfg,
		base:   *logging.GetDefaultLogger(),
		logger: logging.GetSubsystemLogger("audiodevices-cli"),
		stdout: stdout,
	}
	defer app.close()
	return app.run(ctx)
}

// loadConfig loads the config file and applies command line overrides
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.Audio.Driver = opts.Driver
	}
	if opts.Platform != "" {
		cfg.Audio.Platform = opts.Platform
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type app struct {
	opts   options
	cfg    *config.Config
	base   zerolog.Logger // handed to components, which add their own component field
	logger zerolog.Logger
	stdout io.Writer

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) run(ctx context.Context) error {
	registry, err := a.buildRegistry(ctx)
	if err != nil {
		return err
	}

	if a.opts.Publish {
		conn, err := a.connectNATS(ctx)
		if err != nil {
			return err
		}
		pub, err := nats.NewDeviceEventPublisher(conn, a.cfg.NATS.SubjectPrefix, a.cfg.NATS.Source, a.base)
		if err != nil {
			return err
		}
		registry.OnApplied(pub.Observer())
	}

	if err := registry.Start(ctx); err != nil {
		if errors.Is(err, device.ErrSubscribe) {
			// The registry serves an empty snapshot; report and carry on
			fmt.Fprintf(a.stdout, "⚠️  Device change notifications unavailable: %v\n", err)
		} else {
			return fmt.Errorf("failed to start device registry: %w", err)
		}
	}
	defer func() {
		if err := registry.Shutdown(); err != nil {
			a.logger.Warn().Err(err).Msg("device registry shutdown failed")
		}
	}()

	devices := device.NewDevices(registry)
	if err := a.printDevices(devices); err != nil {
		return err
	}

	if !a.opts.Watch && a.opts.Mirror == "" {
		return nil
	}

	registry.OnApplied(func(ev device.Event) {
		printEvent(a.stdout, ev)
	})
	if a.opts.Metrics != "" {
		a.serveMetrics(a.opts.Metrics)
	}
	fmt.Fprintln(a.stdout, "👀 Watching for device changes (Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Fprintln(a.stdout, "🛑 Stopping")
	return nil
}

// buildRegistry wires the registry to either the local backend or a
// remote host's NATS feed
func (a *app) buildRegistry(ctx context.Context) (*device.Registry, error) {
	if a.opts.Mirror != "" {
		conn, err := a.connectNATS(ctx)
		if err != nil {
			return nil, err
		}
		sub, err := nats.NewDeviceEventSubscriber(conn, a.cfg.NATS.SubjectPrefix, a.opts.Mirror, a.base)
		if err != nil {
			return nil, err
		}
		return device.NewRegistry(nil, sub, a.base), nil
	}

	backend, err := audio.NewBackend(a.cfg.Driver(), a.cfg.Platform(), a.base)
	if err != nil {
		return nil, err
	}
	if err := backend.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", backend.Name(), err)
	}
	a.closers = append(a.closers, func() {
		if err := backend.Terminate(); err != nil {
			a.logger.Warn().Err(err).Msg("audio backend terminate failed")
		}
	})
	a.logger.Info().Str("driver", backend.Name()).Stringer("platform", backend.Platform()).Msg("audio backend ready")

	var notifier device.Notifier
	if a.opts.Watch {
		notifier = audio.NewPollingNotifier(backend, a.cfg.Audio.PollInterval, a.cfg.Audio.Rescan, a.base)
	}
	return device.NewRegistry(backend, notifier, a.base), nil
}

func (a *app) connectNATS(ctx context.Context) (nats.DeviceNATSConnection, error) {
	nc, err := nats.Connect(ctx, a.cfg.NATS.URL, a.cfg.NATS.ConnectAttempts, logging.GetSubsystemLogger("nats"))
	if err != nil {
		return nil, err
	}
	conn := nats.NewDeviceNATSConnectionAdapter(nc)
	a.closers = append(a.closers, conn.Close)
	return conn, nil
}

// serveMetrics exposes the registry counters until the app closes
func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	a.logger.Info().Str("addr", addr).Msg("serving metrics")
}

type deviceListing struct {
	Inputs  []device.Record `json:"inputs"`
	Outputs []device.Record `json:"outputs"`
}

func (a *app) printDevices(devices *device.Devices) error {
	inputs, err := devices.ListInputDevices()
	if err != nil {
		return fmt.Errorf("failed to list input devices: %w", err)
	}
	outputs, err := devices.ListOutputDevices()
	if err != nil {
		return fmt.Errorf("failed to list output devices: %w", err)
	}

	if a.opts.JSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(deviceListing{Inputs: nonNil(inputs), Outputs: nonNil(outputs)})
	}

	printSection(a.stdout, "🎤 Input devices", inputs)
	printSection(a.stdout, "🔊 Output devices", outputs)
	return nil
}

func nonNil(records []device.Record) []device.Record {
	if records == nil {
		return []device.Record{}
	}
	return records
}

func printSection(w io.Writer, title string, records []device.Record) {
	fmt.Fprintf(w, "%s (%d):\n", title, len(records))
	if len(records) == 0 {
		fmt.Fprintln(w, "   (none)")
		return
	}
	for _, rec := range records {
		marker := " "
		if rec.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(w, " %s %s [%s]\n", marker, rec.Name, rec.ID)
	}
}

func printEvent(w io.Writer, ev device.Event) {
	switch ev.Kind {
	case device.Added:
		fmt.Fprintf(w, "➕ %s added: %s [%s]\n", ev.Direction, ev.Name, ev.ID)
	case device.Removed:
		fmt.Fprintf(w, "➖ %s removed: [%s]\n", ev.Direction, ev.ID)
	case device.DefaultChanged:
		if ev.ID == "" {
			fmt.Fprintf(w, "⭐ %s default cleared\n", ev.Direction)
			return
		}
		fmt.Fprintf(w, "⭐ %s default: [%s]\n", ev.Direction, ev.ID)
	}
}
