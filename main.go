package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"traceiq/internal/auth"
	"traceiq/internal/config"
	"traceiq/internal/db"
	"traceiq/internal/http/handlers"
	appmw "traceiq/internal/http/middleware"
	"traceiq/internal/logging"
	"traceiq/internal/metrics"
	"traceiq/tracker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		logger.Error("failed to connect database", "err", err)
		os.Exit(1)
	}

	db.StartRetentionWorker(ctx, sqlDB, cfg.RetentionDays, logger)
	db.StartAggregationWorker(ctx, sqlDB, logger)

	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		logger.Error("failed to ensure bootstrap admin", "err", err)
		os.Exit(1)
	}

	var reporter appmw.Reporter
	if cfg.SelfReporting() {
		if err := db.EnsureBootstrapAPIKey(sqlDB, cfg); err != nil {
			logger.Warn("failed to ensure internal API key, self-reporting disabled", "err", err)
		} else if t, err := newSelfReporter(cfg, logger); err != nil {
			logger.Warn("failed to set up self-reporting", "err", err)
		} else {
			reporter = t
			logger.Info("self-reporting enabled", "project", cfg.InternalProjectID)
		}
	}

	var reports sync.WaitGroup
	keys := db.NewKeyRepository(sqlDB)
	verifier := auth.NewVerifier(keys, logger)

	handler := handlers.NewHandler(handlers.Deps{
		DB:       sqlDB,
		Config:   cfg,
		Verifier: verifier,
		Errors:   db.NewErrorRepository(sqlDB),
		Keys:     keys,
		Projects: db.NewProjectRepository(sqlDB),
		Users:    db.NewUserRepository(sqlDB),
		Metrics:  metrics.New(),
		Logger:   logger,
		Reporter: reporter,
		Reports:  &reports,
	})

	server := &fasthttp.Server{
		Handler:      handler,
		Name:         "traceiq",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.ListenAddr, "err", err)
		os.Exit(1)
	}

	logger.Info("traceiq listening", "addr", cfg.ListenAddr)
	if err := handlers.Serve(ctx, server, ln, 10*time.Second, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}

	// Handlers have returned; drain what they left running in the background.
	reports.Wait()
	verifier.Wait()
}

// newSelfReporter points the tracker SDK at this collector's own /api.
func newSelfReporter(cfg *config.Config, logger *slog.Logger) (*tracker.ErrorTracker, error) {
	host := cfg.ListenAddr
	if host != "" && host[0] == ':' {
		host = "localhost" + host
	}

	// A *.db buffer path selects the SQLite store, any other path is a
	// directory for the JSON file store.
	var store tracker.Store
	switch path := cfg.InternalBufferPath; {
	case path == "":
	case strings.HasSuffix(path, ".db"):
		ss, err := tracker.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		store = ss
	default:
		fs, err := tracker.NewFileStore(path)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	return tracker.New(tracker.Config{
		ProjectID:   cfg.InternalProjectID,
		APIKey:      cfg.InternalAPIKey,
		Environment: "production",
		APIURL:      "http://" + host + "/api",
		Store:       store,
		Logger:      logger.With("component", "self-reporter"),
	})
}
