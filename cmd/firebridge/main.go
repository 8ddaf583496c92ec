// Package main is the entry point for the firebridge HTTP gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebridge/firebridge/internal/bridge"
	"github.com/firebridge/firebridge/internal/config"
	"github.com/firebridge/firebridge/internal/docstore"
	"github.com/firebridge/firebridge/internal/logging"
	"github.com/firebridge/firebridge/internal/metrics"
	"github.com/firebridge/firebridge/internal/server"
	"github.com/firebridge/firebridge/internal/storage"
)

func main() {
	configPath := flag.String("config", "firebridge.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	workers := flag.Int("workers", 0, "bridge worker pool size (default: from config or 8)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *workers != 0 {
		cfg.Bridge.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Observability.Metrics {
		metrics.Register()
	}

	ctx := context.Background()

	store, err := docstore.Open(ctx, cfg.DocStore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize document store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", err)
		os.Exit(1)
	}
	if err := backend.HealthCheck(ctx); err != nil {
		slog.Warn("Storage backend health check failed", "backend", cfg.Storage.Backend, "error", err)
	}

	sched := bridge.NewScheduler(
		bridge.WithWorkers(cfg.Bridge.Workers),
		bridge.WithTimeout(cfg.Bridge.Timeout()),
		bridge.WithLogger(logging.Component("bridge")),
	)
	defer sched.Close()

	srv := server.New(cfg, sched,
		server.WithDocuments(docstore.NewClient(store)),
		server.WithObjects(storage.NewClient(backend)),
		server.WithLogger(logging.Component("server")),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("firebridge listening", "addr", addr,
			"docstore", cfg.DocStore.Backend, "storage", cfg.Storage.Backend, "workers", sched.Workers())
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		// Give in-flight requests time to complete.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
