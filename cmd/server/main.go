package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/holdfast-game/holdfast/internal/config"
	"github.com/holdfast-game/holdfast/internal/feed"
	"github.com/holdfast-game/holdfast/internal/game"
	"github.com/holdfast-game/holdfast/internal/httpapi"
	"github.com/holdfast-game/holdfast/internal/store"
	"github.com/holdfast-game/holdfast/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer cleanup()

	var publisher game.EventPublisher
	if cfg.NATSEnabled {
		feedCfg := feed.DefaultConfig()
		feedCfg.URL = cfg.NATSURL
		p, err := feed.NewPublisher(feedCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect event feed")
		}
		defer p.Close()
		publisher = p
		log.Info().Str("nats_url", cfg.NATSURL).Msg("event feed enabled")
	}

	manager := game.NewManager(st, clockwork.NewRealClock(), publisher)
	if err := manager.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore persisted tables")
	}
	go manager.Run(ctx)

	api := httpapi.NewServer(manager, ws.NewUpgrader(ws.DefaultConfig()), cfg.Limits, cfg.PublicBaseURL)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      api.Handler(),
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("holdfast coordinator listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "memory":
		return store.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
