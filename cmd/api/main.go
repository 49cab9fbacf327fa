package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iAnanich/tgbot-member-presence/internal/config"
	"github.com/iAnanich/tgbot-member-presence/internal/handler"
	"github.com/iAnanich/tgbot-member-presence/internal/logging"
	"github.com/iAnanich/tgbot-member-presence/internal/metrics"
	rosterService "github.com/iAnanich/tgbot-member-presence/internal/service/roster"
	"github.com/iAnanich/tgbot-member-presence/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build logger")
	}
	log.Logger = logger

	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment variables only")
	}

	policy, err := rosterService.ParsePolicy(cfg.Roster.InitPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid roster policy")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	rosterStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open roster store")
	}
	defer func() {
		if err := rosterStore.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close roster store")
		}
	}()
	logger.Info().Str("backend", cfg.Store.Backend).Msg("roster store ready")

	var hub *rosterService.Hub
	if cfg.Roster.EventsEnabled {
		hub = rosterService.NewHub(0, m, logger)
	} else {
		logger.Info().Msg("roster event feed disabled by configuration")
	}

	svc := rosterService.NewService(rosterStore, rosterService.Options{
		Policy:           policy,
		MentionBatchSize: cfg.Roster.MentionBatchSize,
		Logger:           logger,
		Metrics:          m,
		Events:           hub,
	})

	router := handler.NewRouter(handler.Deps{
		Roster:   svc,
		Hub:      hub,
		IsAdmin:  cfg.Roster.IsAdmin,
		Logger:   logger,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
	})

	startServer(ctx, logger, cfg.Server, router)
}

func startServer(ctx context.Context, logger zerolog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("roster service listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
