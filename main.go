// rigsched - admission control and GPU scheduling for local LLM serving.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/rigsched/internal/classifier"
	"github.com/jeranaias/rigsched/internal/config"
	"github.com/jeranaias/rigsched/internal/gpu"
	"github.com/jeranaias/rigsched/internal/history"
	"github.com/jeranaias/rigsched/internal/profiler"
	"github.com/jeranaias/rigsched/internal/provider"
	"github.com/jeranaias/rigsched/internal/routing"
	"github.com/jeranaias/rigsched/internal/server"
	"github.com/jeranaias/rigsched/internal/telemetry"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "rigsched.toml", "path to the configuration file")
	listenAddr := flag.String("listen", "", "listen address override (host:port)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rigsched %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	if err := run(cfg, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Telemetry source
	var source telemetry.Source
	switch cfg.Telemetry.Source {
	case "nvidia":
		source = telemetry.NewNvidiaSMI()
	default:
		// GPU-less host: the manager degrades to an empty device list.
		source = telemetry.NewStatic(nil)
	}

	// GPU manager
	manager := gpu.NewManager(cfg.GPUConfig(), source)

	// Provider client feeding discovery and profiling
	client := provider.NewClient(&provider.ClientConfig{
		BaseURL:    cfg.Provider.BaseURL,
		Timeout:    time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Provider.MaxRetries,
	})

	// Routing engine
	engine := routing.NewEngine(
		cfg.RouterConfig(),
		classifier.New(),
		profiler.New(client),
		provider.NewDiscovery(client),
	)

	// Decision log. A broken database is logged and routing continues
	// without recording.
	var store *history.Store
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(cfg.History.DatabasePath)
		if err != nil {
			log.Printf("HISTORY: disabled, open failed: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	// HTTP server
	srv := server.NewServer(cfg.Server.ListenAddr, engine, manager).
		WithHistory(store).
		WithAuth(&server.AuthConfig{
			Enabled:     cfg.Server.AuthEnabled,
			BearerToken: cfg.Server.BearerToken,
		}).
		WithRateLimiter(server.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst))

	// Hot reload: router section changes apply without a restart.
	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			engine.SetConfig(next.RouterConfig())
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("CONFIG: watch stopped: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
