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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/adapters/ai"
	router "github.com/covenantmedia/pulpit/internal/adapters/http"
	"github.com/covenantmedia/pulpit/internal/adapters/identity"
	"github.com/covenantmedia/pulpit/internal/adapters/rtc"
	signaling "github.com/covenantmedia/pulpit/internal/adapters/signal"
	"github.com/covenantmedia/pulpit/internal/adapters/store"
	"github.com/covenantmedia/pulpit/internal/app"
	"github.com/covenantmedia/pulpit/internal/app/bridge"
	"github.com/covenantmedia/pulpit/internal/app/orch"
	"github.com/covenantmedia/pulpit/internal/config"
	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	switch cfg.Mode {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "release":
		// Plain JSON for log shippers; the console writer stays for dev.
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if cfg.Auth.Secret == "" {
		log.Fatal().Msg("JWT_SECRET must be set")
	}

	verifier := identity.NewVerifier(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	var recorder core.Recorder = store.Nop{}
	if cfg.DB.URL != "" {
		pg, err := store.Open(cfg.DB.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open summary store")
		}
		defer pg.Close()
		recorder = pg
	} else {
		log.Warn().Msg("DATABASE_URL not set, session summaries will not be persisted")
	}

	reg := app.NewRegistry()
	orc := &orch.Orchestrator{
		Registry:      reg,
		Recorder:      recorder,
		Policy:        app.SimplePolicy{},
		EvictionGrace: cfg.Session.EvictionGrace,
		Media: func(sid domain.SessionID) (core.MediaConnection, error) {
			return rtc.NewWebRTCConnection(rtc.Config(cfg.RTC.STUNURLs), sid)
		},
	}

	br := bridge.New(ai.New(cfg.AI), orc.OnResult, bridge.Options{
		QueueCapacity:       cfg.AI.QueueCapacity,
		MaxInFlight:         cfg.AI.MaxInFlight,
		RequestsPerInterval: cfg.AI.RequestsPerInterval,
		Interval:            cfg.AI.Interval,
		RetryMax:            cfg.AI.RetryMax,
		BackoffBase:         cfg.AI.BackoffBase,
		BackoffMultiplier:   cfg.AI.BackoffMultiplier,
		RequestTimeout:      cfg.AI.RequestTimeout,
	})
	orc.Bridge = br
	br.Start()

	signalCtl := signaling.NewSignalWSController(orc, verifier, cfg.Signal)
	r := router.SetupRouter(cfg, reg, br, verifier, signalCtl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Pulpit server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	br.Shutdown(shutdownCtx)
	orc.Shutdown(shutdownCtx)
	log.Info().Msg("Server exited gracefully")
}
