package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/constructa/erp/backend/internal/config"
	"github.com/constructa/erp/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	gin.SetMode(cfg.Server.Mode)

	app, err := bootstrap(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to bootstrap")
	}

	r := gin.New()
	registerRoutes(r, app)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", addr).Str("cache", app.cacheMode).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := app.shutdown(); err != nil {
		logger.Error().Err(err).Msg("Shutdown finished with errors")
	}
}
