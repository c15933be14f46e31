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

	"callscribe/internal/api"
	"callscribe/internal/bootstrap"
	"callscribe/internal/config"
	"callscribe/internal/logging"
	"callscribe/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New(logging.Options{})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})

	hub := api.NewEventHub(log)
	services, err := bootstrap.BuildWith(cfg, hub, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble services")
	}
	defer func() {
		if err := services.Store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	handler := api.NewHandler(services.Controller, hub, log)
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     handler.Routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	stop()
	log.Info().Msg("shutting down")

	// An active call gets its consolidated stop before the server exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := services.Controller.Stop(shutdownCtx); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
		log.Error().Err(err).Msg("session stop during shutdown failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("stopped")
}
