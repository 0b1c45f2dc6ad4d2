// Osprey Sim - Synthetic AML transaction datasets.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/osprey-sim/internal/api"
	"github.com/opensource-finance/osprey-sim/internal/bus"
	"github.com/opensource-finance/osprey-sim/internal/cache"
	"github.com/opensource-finance/osprey-sim/internal/config"
	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/generator"
	"github.com/opensource-finance/osprey-sim/internal/metrics"
	"github.com/opensource-finance/osprey-sim/internal/repository"
	"github.com/opensource-finance/osprey-sim/internal/topology"
	"github.com/opensource-finance/osprey-sim/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON configuration file")
	topologyPath := flag.String("topology", "", "path to a YAML or JSON topology document")
	serve := flag.Bool("serve", false, "serve the HTTP API instead of running once")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting osprey-sim",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"name", cfg.Simulation.Name,
		"seed", cfg.Simulation.Seed,
		"total_steps", cfg.Simulation.TotalSteps,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async", cfg.Output.Async,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	deps, cleanup, err := initDeps(cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	gen := generator.New(cfg, deps, logger)

	var code int
	if *serve {
		code = runServer(ctx, cfg, deps, gen)
	} else {
		code = runOnce(ctx, gen, *topologyPath)
	}
	cleanup()
	os.Exit(code)
}

// initDeps creates the configured repository, cache, event bus and worker.
// The returned cleanup releases them in reverse order.
func initDeps(cfg *domain.Config) (generator.Deps, func(), error) {
	var (
		deps    generator.Deps
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps.Metrics = metrics.DefaultRegistry()

	// Initialize Repository
	if cfg.Repository.Driver != "none" {
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return deps, func() {}, fmt.Errorf("failed to initialize repository: %w", err)
		}
		closers = append(closers, func() { repo.Close() })
		deps.Repository = repo
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		cleanup()
		return deps, func() {}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	closers = append(closers, func() { cacheImpl.Close() })
	deps.Cache = cacheImpl
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		cleanup()
		return deps, func() {}, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	closers = append(closers, func() { busImpl.Close() })
	deps.Bus = busImpl
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize async Worker
	if cfg.Output.Async {
		w := worker.NewWorker(busImpl, deps.Repository, deps.Metrics)
		if err := w.Start(worker.Config{}); err != nil {
			cleanup()
			return deps, func() {}, fmt.Errorf("failed to start async worker: %w", err)
		}
		closers = append(closers, func() {
			if err := w.Stop(); err != nil {
				slog.Error("failed to stop async worker", "error", err)
			}
		})
		deps.Worker = w
		slog.Info("async worker started")
	}

	return deps, cleanup, nil
}

// runOnce generates one dataset from the topology file and returns the exit code.
func runOnce(ctx context.Context, gen *generator.Generator, topologyPath string) int {
	if topologyPath == "" {
		slog.Error("a topology file is required unless -serve is set")
		return 2
	}

	doc, err := topology.Load(topologyPath)
	if err != nil {
		slog.Error("failed to load topology", "path", topologyPath, "error", err)
		return 1
	}
	stats := doc.Stats()
	slog.Info("topology loaded",
		"path", topologyPath,
		"accounts", stats.Accounts,
		"edges", stats.Edges,
		"alerts", stats.Alerts,
	)

	summary, err := gen.Run(ctx, doc, generator.Overrides{})
	if err != nil {
		slog.Error("run failed", "error", err)
		return 1
	}

	printSummary(os.Stdout, summary)
	return 0
}

// runServer serves the HTTP API until the context is cancelled.
func runServer(ctx context.Context, cfg *domain.Config, deps generator.Deps, gen *generator.Generator) int {
	srv := api.NewServer(cfg.Server, api.Deps{
		Repository: deps.Repository,
		Cache:      deps.Cache,
		Generator:  gen,
		Metrics:    deps.Metrics,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("osprey-sim is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		code = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("osprey-sim shutdown complete")
	return code
}

func newLogger(w io.Writer, cfg domain.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.LogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func printSummary(w io.Writer, s *domain.RunSummary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Run:           %s (%s)\n", s.ID, s.Name)
	fmt.Fprintf(w, "  Status:        %s\n", s.Status)
	fmt.Fprintf(w, "  Seed:          %d\n", s.Seed)
	fmt.Fprintf(w, "  Steps:         %d\n", s.TotalSteps)
	fmt.Fprintf(w, "  Accounts:      %d\n", s.Accounts)
	fmt.Fprintf(w, "  Alert groups:  %d\n", s.AlertGroups)
	fmt.Fprintf(w, "  Transactions:  %d (%d SAR, %.2f%%)\n", s.Transactions, s.SARTransactions, s.SARRatio()*100)
	fmt.Fprintf(w, "  Skipped:       %d\n", s.SkippedTransactions)
	fmt.Fprintf(w, "  Duration:      %dms\n", s.DurationMs)

	if len(s.Screening) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Screening:")
		for _, r := range s.Screening {
			fmt.Fprintf(w, "    %-16s precision=%.3f recall=%.3f f1=%.3f errors=%d\n",
				r.RuleID, r.Precision, r.Recall, r.F1, r.Errors)
		}
	}
	fmt.Fprintln(w)
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [-config file] (-topology file | -serve)\n\n", os.Args[0])
	flag.PrintDefaults()
	if env, err := config.Usage(); err == nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, env)
	}
}
