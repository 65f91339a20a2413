package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordduel/internal/config"
	"github.com/mcdev12/wordduel/internal/duel"
	"github.com/mcdev12/wordduel/internal/duel/gateway"
	"github.com/mcdev12/wordduel/internal/matchstore"
	"github.com/mcdev12/wordduel/internal/stream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence: Postgres when configured, in-memory store otherwise.
	var (
		results duel.ResultStore
		users   duel.UserStore
	)
	if cfg.Database.Host != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create database pool")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		repo := matchstore.NewRepository(pool)
		results = repo
		users = repo
		log.Info().
			Str("host", cfg.Database.Host).
			Str("database", cfg.Database.Database).
			Msg("connected to database")
	} else {
		log.Warn().Msg("no database configured, results will not survive restarts")
		results = matchstore.NewMemRepo()
		// No user registry either: identities stay unresolved and result
		// persistence is skipped, but duels still run.
	}

	// Optional match event stream.
	var sink duel.EventSink
	if cfg.NATS.URL != "" {
		streamCfg := stream.DefaultConfig()
		streamCfg.URL = cfg.NATS.URL
		publisher, err := stream.NewPublisher(streamCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event stream publisher")
		}
		defer publisher.Close()
		sink = publisher
		log.Info().Str("nats_url", cfg.NATS.URL).Msg("match event stream enabled")
	}

	duelCfg := duel.DefaultConfig()
	duelCfg.GameDuration = cfg.Game.DurationSec
	duelCfg.GraceWindow = time.Duration(cfg.Game.GraceWindowMS) * time.Millisecond

	coordinator := duel.NewCoordinator(duelCfg, clockwork.NewRealClock(), duel.NewResultPublisher(results, sink))
	go coordinator.Run(ctx)

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), coordinator)
	wsHandler := gateway.NewWebSocketHandler(cm, coordinator, users)

	mux := http.NewServeMux()
	wsHandler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: c.Handler(mux),
	}

	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Int("game_duration_sec", cfg.Game.DurationSec).
			Msg("wordduel server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
