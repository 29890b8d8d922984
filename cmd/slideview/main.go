// Package main provides the entry point for the slideview server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/slidekit/slideview/internal/server"
	"github.com/slidekit/slideview/pkg/auth"
	"github.com/slidekit/slideview/pkg/blob"
	"github.com/slidekit/slideview/pkg/health"
	"github.com/slidekit/slideview/pkg/session"
	"github.com/slidekit/slideview/pkg/slides"
	"github.com/slidekit/slideview/pkg/viewer"
)

// shutdownTimeout bounds graceful drain; in-flight slide streams beyond it
// are cut.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath   string
	addr         string
	slidePaths   stringList
	overlayPaths stringList
	sessionTTL   int
	hashPassword string
	showVersion  bool
	logLevel     string
}

// stringList collects repeatable flags, also splitting comma-separated
// values.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func parseFlags() serverOptions {
	opts := serverOptions{sessionTTL: -1}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.addr, "addr", "", "Listen address (overrides config)")
	flag.Var(&opts.slidePaths, "slides", "Slide directory, file, or gs:// URI for the default session (repeatable)")
	flag.Var(&opts.overlayPaths, "overlay", "Overlay directory for the default session (repeatable)")
	flag.IntVar(&opts.sessionTTL, "session-ttl", -1, "Default session TTL in minutes (overrides config)")
	flag.StringVar(&opts.hashPassword, "hash-password", "", "Print a password hash for the config file and exit")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()
	return opts
}

func setupLogger(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("slideview version %s\n", server.Version)
		return nil
	}
	if opts.hashPassword != "" {
		hash, err := auth.HashPassword(opts.hashPassword)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}

	setupLogger(opts.logLevel)

	// Load .env before reading config so environment overrides apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg, err := viewer.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, &opts)

	if err := os.MkdirAll(cfg.Slides.UploadsDir, 0o750); err != nil {
		return fmt.Errorf("creating uploads dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gcs, err := blob.NewGCSClient(ctx, cfg.GCS.CredentialsPath)
	if err != nil {
		slog.Warn("gcs unavailable, gs:// locations will be skipped", "error", err)
		gcs = nil
	} else {
		defer gcs.Close()
	}

	registry := session.NewMemoryRegistry(
		time.Duration(cfg.Session.TTLMinutes)*time.Minute,
		server.RemoveSessionUploads(cfg.Slides.UploadsDir),
	)
	registry.StartSweep(time.Duration(cfg.Session.SweepIntervalMinutes) * time.Minute)
	defer registry.Close()

	checker := health.NewChecker(func() int {
		sessions, _ := registry.List(context.Background())
		return len(sessions)
	})

	handler, err := server.New(cfg, server.Deps{
		Registry: registry,
		Catalog:  slides.NewCatalog(gcs),
		GCS:      gcs,
		Checker:  checker,
	})
	if err != nil {
		return err
	}

	if len(opts.slidePaths) > 0 {
		if err := createDefaultSession(ctx, registry, cfg, opts); err != nil {
			return err
		}
	}

	return serve(ctx, cfg.Server.Addr, handler, checker)
}

// applyFlagOverrides layers CLI flags over config and environment.
func applyFlagOverrides(cfg *viewer.Config, opts *serverOptions) {
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.sessionTTL >= 0 {
		cfg.Session.TTLMinutes = opts.sessionTTL
	}
}

// createDefaultSession opens a session over the CLI slide paths and prints
// its viewer URL, so a bare "slideview -slides DIR" is immediately usable.
func createDefaultSession(ctx context.Context, registry session.Registry, cfg *viewer.Config, opts serverOptions) error {
	sess, err := registry.Create(ctx, opts.slidePaths, opts.overlayPaths, -1)
	if err != nil {
		return fmt.Errorf("creating default session: %w", err)
	}

	dir := cfg.Slides.UploadsDir + "/" + sess.Token
	if err := os.MkdirAll(dir, 0o750); err == nil {
		_ = registry.SetUploadDir(ctx, sess.Token, dir)
	}

	host := cfg.Server.Addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	fmt.Printf("\n  Default session ready:\n\n    http://%s/%s/\n\n", host, sess.Token)
	slog.Info("default session created", "token", sess.Token, "slide_locations", len(opts.slidePaths))
	return nil
}

// serve runs the HTTP server until the context is cancelled, then drains.
func serve(ctx context.Context, addr string, handler http.Handler, checker *health.Checker) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr, "version", server.Version)
		checker.SetReady()
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	checker.SetDraining()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
