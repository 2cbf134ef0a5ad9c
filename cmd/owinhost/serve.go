package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/owinhost/internal/api"
	"github.com/mattjoyce/owinhost/internal/config"
	"github.com/mattjoyce/owinhost/internal/events"
	"github.com/mattjoyce/owinhost/internal/host"
	"github.com/mattjoyce/owinhost/internal/journal"
	"github.com/mattjoyce/owinhost/internal/lock"
	"github.com/mattjoyce/owinhost/internal/log"
	"github.com/mattjoyce/owinhost/internal/metrics"
	"github.com/mattjoyce/owinhost/internal/protocol"
	"github.com/mattjoyce/owinhost/internal/registry"
	"github.com/mattjoyce/owinhost/internal/storage"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", ".", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "api.enabled is false; use 'owinhost pipe' to serve a single caller")
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("owinhost starting", "version", version, "config", *configPath, "service", cfg.Service.Name)

	if cfg.State.Path != ":memory:" {
		lockPath := lock.ForJournal(cfg.State.Path)
		pidLock, err := lock.AcquirePIDLock(lockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", lockPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open journal", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	j := journal.New(db)
	logger.Info("journal opened", "path", cfg.State.Path, "run_id", j.RunID())

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)
	if err := m.Register(); err != nil {
		logger.Error("failed to register metrics", "error", err)
		return 1
	}
	hub := events.NewHub(256)

	catalog, err := newCatalog()
	if err != nil {
		logger.Error("failed to build module catalog", "error", err)
		return 1
	}
	reg := newRegistry(catalog, cfg.Modules.SearchDirs,
		registry.WithRecorder(j),
		registry.WithRecorder(m),
		registry.WithRecorder(hub),
	)

	ids, err := host.ConfigureApps(reg, cfg.Apps, cfg.Modules.Startup)
	if err != nil {
		logger.Error("failed to configure applications", "kind", host.Kind(err), "error", err)
		return 1
	}
	mounts := make([]api.Mount, 0, len(ids))
	for i, id := range ids {
		mounts = append(mounts, api.Mount{Path: cfg.Apps[i].Mount, AppID: id})
		logger.Info("application mounted", "app", cfg.Apps[i].Name, "app_id", id, "mount", cfg.Apps[i].Mount)
	}

	server := api.New(api.Config{
		Listen:       cfg.API.Listen,
		APIKey:       cfg.API.APIKey,
		Tokens:       cfg.API.Tokens,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
		Mounts:       mounts,
	}, reg, log.WithComponent("api"),
		api.WithJournal(j),
		api.WithEvents(hub),
		api.WithGatherer(promReg),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("owinhost running (press Ctrl+C to stop)", "apps", reg.Len())

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		<-done
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("owinhost stopped")
	return 0
}

func runPipe(args []string) int {
	fs := flag.NewFlagSet("pipe", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory (optional)")
	codecName := fs.String("codec", "json", "Wire codec: json or cbor")
	maxFrame := fs.Int("max-frame", protocol.DefaultMaxFrame, "Largest CBOR frame accepted, in bytes")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadOptionalConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// stdout carries protocol frames.
	log.SetupWriter(cfg.Service.LogLevel, os.Stderr)
	logger := log.WithComponent("main")

	var codec protocol.Codec
	switch *codecName {
	case "json":
		codec = protocol.NewJSONCodec(os.Stdin, os.Stdout)
	case "cbor":
		c := protocol.NewCBORCodec(os.Stdin, os.Stdout)
		c.SetMaxFrame(*maxFrame)
		codec = c
	default:
		fmt.Fprintf(os.Stderr, "Unknown codec %q (expected json or cbor)\n", *codecName)
		return 1
	}

	catalog, err := newCatalog()
	if err != nil {
		logger.Error("failed to build module catalog", "error", err)
		return 1
	}
	reg := newRegistry(catalog, cfg.Modules.SearchDirs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := host.NewPipe(reg, codec).Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipe failed", "error", err)
		return 1
	}
	return 0
}
