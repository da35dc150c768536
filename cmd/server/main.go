// Command server runs the insight backend: the admission-gated generation
// API, the trace/feedback surface, and the analytics ingestion pipeline.
//
// Startup order: env → config → logging → database → tracing → tracker →
// router → HTTP server. Shutdown drains in the reverse order so in-flight
// requests finish before the tracker flushes its final batch.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/giftghost/go-insight-backend/internal/completion"
	"github.com/giftghost/go-insight-backend/internal/config"
	httpapi "github.com/giftghost/go-insight-backend/internal/http"
	"github.com/giftghost/go-insight-backend/internal/observability"
	"github.com/giftghost/go-insight-backend/internal/repo"
	"github.com/giftghost/go-insight-backend/internal/services"
	"github.com/giftghost/go-insight-backend/internal/sysutil"
	"github.com/giftghost/go-insight-backend/internal/track"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting insight backend")

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("database tracing not enabled")
		}
	}

	tracker := track.New(cfg.Tracker, track.StoreSink{DB: db}, log.With().Str("component", "tracker").Logger())
	tracker.Start()

	var compl services.Completion
	if cfg.CompletionURL != "" {
		compl = completion.NewClient(cfg.CompletionURL, cfg.CompletionAPIKey, cfg.CompletionTimeout)
	} else {
		log.Warn().Msg("no COMPLETION_URL configured, using deterministic local completion")
		compl = completion.Static{}
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, tracker, compl, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown of http server")
	}

	// Drain the tracker after the server stops accepting requests so the
	// final batch includes everything handlers enqueued.
	tracker.Close()

	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown failed")
	}
	log.Info().Msg("bye")
}
