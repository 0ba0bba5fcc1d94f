package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/daxls/internal/bridge"
	"github.com/dshills/daxls/internal/config"
	"github.com/dshills/daxls/internal/debug"
	"github.com/dshills/daxls/internal/logging"
	"github.com/dshills/daxls/internal/server"
	"github.com/dshills/daxls/internal/watch"
)

// runServe wires the engine bridge, the protocol server, and the
// optional model watcher and debug listener, then serves one editor
// session over stdio.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Stdout carries the protocol, so logs go to stderr.
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	log.Info("starting daxls", "version", version, "engine", cfg.Engine.Command)

	metrics := debug.NewMetrics()

	eng := bridge.New(bridge.Config{
		Command:         cfg.Engine.Command,
		Args:            cfg.Engine.Args,
		Dir:             cfg.Engine.Dir,
		Env:             cfg.Engine.Env,
		InvokeTimeout:   cfg.Engine.InvokeTimeout.Std(),
		ShutdownTimeout: cfg.Engine.ShutdownTimeout.Std(),
	}, bridge.WithLogger(log.With("component", "bridge")))

	srv := server.New(eng, server.Config{
		Version: version,
		Logger:  log.With("component", "server"),
		Metrics: metrics,
	})

	var watcher *watch.Watcher
	if cfg.Model.Path != "" {
		watcher, err = watch.New(watch.Config{
			Path:        cfg.Model.Path,
			Debounce:    cfg.Model.Debounce.Std(),
			PushTimeout: cfg.Engine.InvokeTimeout.Std(),
		}, eng, log.With("component", "watch"))
		if err != nil {
			return err
		}
	}

	var debugSrv *debug.Server
	if cfg.Debug.Addr != "" {
		debugSrv = debug.NewServer(debug.Config{Addr: cfg.Debug.Addr}, metrics, log.With("component", "debug"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The editor session decides process lifetime: once it ends,
		// wind everything else down.
		defer stop()
		return srv.Run(ctx, os.Stdin, os.Stdout)
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(ctx) })
	}
	if debugSrv != nil {
		g.Go(func() error { return debugSrv.Run(ctx) })
	}

	err = g.Wait()

	// The engine outlives the session when the client skipped shutdown.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout.Std())
	defer cancel()
	if serr := eng.Stop(stopCtx); serr != nil {
		log.Warn("engine stop failed", "error", serr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	exitCode = srv.ExitCode()
	log.Info("daxls stopped", "code", exitCode)
	return nil
}

// applyFlags layers command line overrides onto the loaded config.
func applyFlags(cfg *config.Config) {
	if fields := strings.Fields(flagEngine); len(fields) > 0 {
		cfg.Engine.Command = fields[0]
		if len(fields) > 1 {
			cfg.Engine.Args = fields[1:]
		}
	}
	if flagEngineDir != "" {
		cfg.Engine.Dir = flagEngineDir
	}
	if flagModelPath != "" {
		cfg.Model.Path = flagModelPath
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if flagDebugAddr != "" {
		cfg.Debug.Addr = flagDebugAddr
	}
}
