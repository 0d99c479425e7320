// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phsym/console-slog"
	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-rtu-master/internal/config"
	"github.com/ffutop/modbus-rtu-master/internal/simulator"
	"github.com/ffutop/modbus-rtu-master/loadbank"
	"github.com/ffutop/modbus-rtu-master/master"
	"github.com/ffutop/modbus-rtu-master/transport"
	"github.com/ffutop/modbus-rtu-master/transport/serial"
)

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])
	configFile, _ := fs.GetString("config")

	// Load Configuration
	cfg, err := config.LoadConfig(configFile, fs)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus RTU master...", "transport", cfg.Transport.Type, "slave_id", cfg.Master.SlaveID)

	stream, err := newStream(cfg)
	if err != nil {
		slog.Error("Failed to create byte stream", "err", err)
		os.Exit(1)
	}

	m, err := master.New(stream, cfg.Master.SlaveID,
		master.WithTickInterval(cfg.Master.TickInterval),
		master.WithFrameSpacing(cfg.Master.FrameSpacing),
		master.WithResponseTimeout(cfg.Master.ResponseTimeout),
		master.WithMaxQueueDepth(cfg.Master.MaxQueueDepth),
		master.WithEventBuffer(cfg.Master.EventBuffer),
		master.WithLogger(slog.Default()))
	if err != nil {
		slog.Error("Failed to create master", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := m.Subscribe(0)
	defer unsubscribe()
	go logEvents(events)

	runErr := make(chan error, 1)
	go func() {
		runErr <- m.Run(ctx)
	}()

	go func() {
		if err := runScript(ctx, loadbank.New(m, slog.Default()), cfg.LoadBank); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Load bank script failed", "err", err)
		}
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		slog.Info("Shutting down...")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			slog.Error("Master stopped with error", "err", err)
			os.Exit(1)
		}
	}
	slog.Info("Goodbye.")
}

func newStream(cfg *config.Config) (transport.Stream, error) {
	switch cfg.Transport.Type {
	case "serial":
		return serial.New(cfg.Serial), nil
	case "simulator":
		return simulator.Open(cfg.Simulator)
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}

// runScript enables remote control, applies the configured constant mode,
// polls the current and turns the load off.
func runScript(ctx context.Context, lb *loadbank.LoadBank, cfg config.LoadBankConfig) error {
	mode, err := loadbank.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	if err := lb.Init(ctx); err != nil {
		return err
	}
	if err := lb.SetConstant(ctx, mode, float32(cfg.Setpoint)); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for i := 0; i < cfg.Polls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		current, err := lb.Current(ctx)
		if err != nil {
			slog.Warn("Failed to read current", "err", err)
			continue
		}
		slog.Info("Load bank current", "amps", current)
	}

	if st, err := lb.Status(ctx); err != nil {
		slog.Warn("Failed to read status", "err", err)
	} else if st.Any() {
		slog.Warn("Load bank protection tripped", "status", fmt.Sprintf("%+v", st))
	}
	return lb.TurnOff(ctx)
}

func logEvents(events <-chan master.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case master.Ready:
			slog.Info("Master ready")
		case master.CoilRead:
			slog.Debug("Coil read", "address", e.Address, "values", e.Values)
		case master.RegisterRead:
			slog.Debug("Register read", "address", e.Address, "data", fmt.Sprintf("% X", e.Data))
		case master.CoilWritten:
			slog.Debug("Coil written", "address", e.Address)
		case master.RegisterWritten:
			slog.Debug("Register written", "address", e.Address)
		case master.ErrorEvent:
			slog.Warn("Request failed", "err", e.Err)
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
		} else {
			out = f
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case "console":
		handler = console.NewHandler(out, &console.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug})
	default:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
