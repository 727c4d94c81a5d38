package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bluff-master/internal/config"
	"bluff-master/internal/db"
	"bluff-master/internal/game"
	"bluff-master/internal/images"
	"bluff-master/internal/logger"
	"bluff-master/internal/server"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	dotenvErr := config.LoadDotEnv(".env")
	cfg, err := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if dotenvErr != nil {
		log.Warn().Err(dotenvErr).Msg("failed to load .env")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	store, blobs, journal, closeDB := openStorage(cfg, log)
	defer closeDB()

	hub := server.NewHub(log.With().Str("component", "hub").Logger())
	broadcasters := game.Fanout{hub}
	if journal != nil {
		broadcasters = append(broadcasters, journal)
	}
	engine := game.New(game.Options{
		Store:            store,
		Images:           images.NewPicsum(cfg.FakeImageBaseURL, cfg.FakeImageAttempts, log.With().Str("component", "images").Logger()),
		Broadcaster:      broadcasters,
		Logger:           log.With().Str("component", "engine").Logger(),
		StoreTimeout:     cfg.StoreTimeout,
		ImageTimeout:     cfg.FakeImageTimeout,
		FallbackImageURL: cfg.FakeImageFallbackURL,
	})

	srv := server.New(engine, hub, blobs, cfg, log.With().Str("component", "http").Logger())
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("bluff-master server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	hub.Close()
	engine.Close()
	if journal != nil {
		journal.Close()
	}
}

// openStorage picks Postgres when DATABASE_URL is set and the in-memory
// stores otherwise.
func openStorage(cfg config.Config, log zerolog.Logger) (game.Store, images.BlobStore, *db.Journal, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL is not set, using in-memory storage")
		return game.NewMemoryStore(), images.NewMemoryBlobs(), nil, func() {}
	}
	conn, err := db.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.Migrate(conn, log); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	journal := db.NewJournal(conn, log.With().Str("component", "journal").Logger(), cfg.StoreTimeout)
	closeDB := func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db.NewStore(conn), db.NewImageStore(conn), journal, closeDB
}
