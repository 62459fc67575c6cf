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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/cuecard/go/internal/config"
	"github.com/mcdev12/cuecard/go/internal/timer/authority"
	"github.com/mcdev12/cuecard/go/internal/timer/backend"
	"github.com/mcdev12/cuecard/go/internal/timer/events"
	"github.com/mcdev12/cuecard/go/internal/timer/session"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(os.Getenv("CUECARD_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := backend.Open(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open store")
	}
	defer st.Close()

	sessionID := os.Getenv("CUECARD_SESSION_ID")
	if sessionID == "" {
		sessionID, err = session.Create(ctx, st, cfg.SessionDefaults())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create session")
		}
	} else if _, err := session.Ensure(ctx, st, sessionID, cfg.SessionDefaults()); err != nil {
		log.Fatal().Err(err).Str("session_id", sessionID).Msg("failed to load session")
	}

	opts := []authority.Option{
		authority.WithAlarm(authority.LogAlarm{}),
		authority.WithMetrics(authority.PrometheusMetrics{}),
	}
	if cfg.NATS.URL != "" {
		pub, err := events.NewJetStreamPublisher(ctx, cfg.JetStream())
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NATS.URL).Msg("failed to connect event publisher")
		}
		defer pub.Close()
		opts = append(opts, authority.WithPublisher(pub))
	}

	auth, err := authority.New(sessionID, st, cfg.AuthorityConfig(), opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create authority")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	server := &http.Server{
		Addr:         cfg.Authority.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().
		Str("session_id", sessionID).
		Str("backend", cfg.Store.Backend).
		Str("metrics_addr", server.Addr).
		Str("resume", cfg.Authority.Resume).
		Msg("starting timer authority")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return auth.Run(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("timer authority stopped with error")
	}
	log.Info().Msg("timer authority shutdown complete")
}
