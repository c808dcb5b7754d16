// Package main is the entry point for the Rekon storage service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rekonhq/rekon-storage/internal/authclient"
	"github.com/rekonhq/rekon-storage/internal/blob"
	"github.com/rekonhq/rekon-storage/internal/config"
	"github.com/rekonhq/rekon-storage/internal/logging"
	"github.com/rekonhq/rekon-storage/internal/metrics"
	"github.com/rekonhq/rekon-storage/internal/server"
	"github.com/rekonhq/rekon-storage/internal/session"
	"github.com/rekonhq/rekon-storage/internal/thumbnail"
	"github.com/rekonhq/rekon-storage/internal/upload"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8237)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	authURL := flag.String("auth-url", "", "override auth service base URL")
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
	if *authURL != "" {
		cfg.Auth.URL = *authURL
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	logger := slog.Default()

	metrics.Register()

	// Session store. Crash-only design: SQLite WAL auto-recovers on open, and
	// sessions left pending by a crash simply stay staged and re-finalizable.
	var sessions session.Store
	switch cfg.Sessions.Engine {
	case "memory":
		sessions = session.NewMemoryStore()
		logger.Info("Session store initialized", "engine", "memory")
	default:
		dbPath := cfg.Sessions.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create session store directory: %v\n", err)
			os.Exit(1)
		}
		store, err := session.NewSQLiteStore(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize session store: %v\n", err)
			os.Exit(1)
		}
		sessions = store
		logger.Info("Session store initialized", "engine", "sqlite", "path", dbPath)
	}
	defer sessions.Close()

	// Blob store for staged chunks and finished artifacts.
	var blobs blob.Store
	switch cfg.Blob.Backend {
	case "s3":
		if cfg.Blob.S3.Bucket == "" {
			fmt.Fprintf(os.Stderr, "blob.s3.bucket is required when backend is 's3'\n")
			os.Exit(1)
		}
		region := cfg.Blob.S3.Region
		if region == "" {
			region = "us-east-1"
		}
		s3Store, err := blob.NewS3GatewayStore(context.Background(), blob.S3Options{
			Bucket:          cfg.Blob.S3.Bucket,
			Region:          region,
			Prefix:          cfg.Blob.S3.Prefix,
			EndpointURL:     cfg.Blob.S3.EndpointURL,
			UsePathStyle:    cfg.Blob.S3.UsePathStyle,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize S3 blob store: %v\n", err)
			os.Exit(1)
		}
		blobs = s3Store
		logger.Info("Blob store initialized", "backend", "s3", "bucket", cfg.Blob.S3.Bucket, "region", region, "prefix", cfg.Blob.S3.Prefix)
	default:
		localStore, err := blob.NewLocalStore(cfg.Blob.Local.RootDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize blob store: %v\n", err)
			os.Exit(1)
		}
		// Crash-only recovery: clean orphan temp files from incomplete writes.
		if err := localStore.CleanTempFiles(); err != nil {
			logger.Warn("Failed to clean temp files", "error", err)
		}
		blobs = localStore
		logger.Info("Blob store initialized", "backend", "local", "root", cfg.Blob.Local.RootDir)
	}

	verifier := authclient.New(cfg.Auth.URL, cfg.Auth.Secret, cfg.Auth.Timeout(), logger)
	thumbnailer := thumbnail.NewGenerator(cfg.Thumbnail.MaxBox)
	svc := upload.NewService(sessions, blobs, verifier, thumbnailer, logger)

	srv := server.New(cfg, svc, sessions, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Rekon storage listening", "addr", addr, "auth_url", cfg.Auth.URL)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections, wait for in-flight
	// requests with a timeout, then exit. No cleanup -- crash-only design.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
		logger.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
