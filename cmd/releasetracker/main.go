// Command releasetracker tracks releases of GitHub, GitLab, Gitea and plain
// git repositories and announces new ones.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/releasetracker/internal/adapter/driven/notify"
	sqliteadapter "github.com/ericfisherdev/releasetracker/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/releasetracker/internal/adapter/driving/http"
	"github.com/ericfisherdev/releasetracker/internal/application"
	"github.com/ericfisherdev/releasetracker/internal/config"
	"github.com/ericfisherdev/releasetracker/internal/domain/port/driven"
	"github.com/ericfisherdev/releasetracker/internal/logging"
)

type flags struct {
	configFile string
	listen     string
	dbPath     string
	logLevel   string
	logFormat  string
	once       bool
}

func parseFlags(args []string) (flags, *flag.FlagSet, error) {
	var f flags
	fs := flag.NewFlagSet("releasetracker", flag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "YAML file with backend settings")
	fs.StringVar(&f.listen, "listen", "", "HTTP listen address")
	fs.StringVar(&f.dbPath, "db", "", "SQLite database path")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "log format (text, json)")
	fs.BoolVar(&f.once, "once", false, "poll every subject once and exit")
	err := fs.Parse(args)
	return f, fs, err
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cfg *config.Config, f flags, fs *flag.FlagSet) error {
	if fs.Changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if fs.Changed("db") {
		cfg.DBPath = f.dbPath
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fs.Changed("config") {
		return cfg.LoadFile(f.configFile)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	f, fs, err := parseFlags(args)
	if err != nil {
		return err
	}

	// 1. Load configuration (fail fast on malformed values).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, f, fs); err != nil {
		return err
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"threads", cfg.Threads,
		"backends", cfg.Backends,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database and run migrations on the writer connection.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	// 4. Wire stores.
	trackingStore := sqliteadapter.NewTrackingRepo(db)
	repoStore := sqliteadapter.NewRepositoryRepo(db)
	releaseStore := sqliteadapter.NewReleaseRepo(db)
	announceStore := sqliteadapter.NewAnnouncementRepo(db)
	credentialStore, err := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	if err != nil {
		return err
	}
	if cfg.SecretKey == nil {
		slog.Info("no secret key configured, credential storage disabled")
	}

	// 5. Build backends. Stored credentials take priority over configured ones.
	build := backendFactory(cfg, credentialStore)
	backends := make([]driven.Backend, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		b, err := build(ctx, name)
		if err != nil {
			return err
		}
		backends = append(backends, b)
	}
	registry := application.NewBackendRegistry(backends...)

	// 6. Application services.
	engine := application.NewEngine(registry, trackingStore, repoStore, releaseStore, application.EngineConfig{
		Threads:        cfg.Threads,
		ReleaseLimit:   cfg.ReleaseLimit,
		FetchTimeout:   cfg.FetchTimeout,
		ConflictPolicy: cfg.ConflictPolicy,
	})
	trackingSvc := application.NewTrackingService(registry, trackingStore)
	statusSvc := application.NewStatusService(registry, trackingStore, engine)
	credentialSvc := application.NewCredentialService(credentialStore, registry, build)
	pollSvc := application.NewPollService(engine, trackingStore, announceStore, notify.NewLogNotifier(nil), cfg.PollInterval)

	if f.once {
		return pollSvc.RunOnce(ctx)
	}
	go pollSvc.Start(ctx)

	// 7. HTTP API and metrics.
	apiHandler := httphandler.NewHandler(trackingSvc, engine, pollSvc, statusSvc, credentialSvc, slog.Default())
	mux := http.NewServeMux()
	httphandler.RegisterAPIRoutes(mux, apiHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.ApplyMiddleware(mux, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// LastReleases may wait on backends for up to FetchTimeout per call.
		WriteTimeout: cfg.FetchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	slog.Info("releasetracker started", "listen_addr", cfg.ListenAddr, "poll_interval", cfg.PollInterval)

	// 8. Wait for shutdown signal or server failure.
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return err
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
