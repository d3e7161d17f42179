package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/noah-isme/research-staging-api/api/swagger"
	"github.com/noah-isme/research-staging-api/internal/app"
	"github.com/noah-isme/research-staging-api/internal/service"
	"github.com/noah-isme/research-staging-api/pkg/config"
	"github.com/noah-isme/research-staging-api/pkg/logger"
)

// @title Research Staging API
// @version 1.0.0
// @description Review API for staged research metadata, ORCID matching and publication enrichment
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.New(ctx, cfg, logr, app.Options{})
	if err != nil {
		logr.Sugar().Fatalw("failed to initialise dependencies", "error", err)
	}
	defer container.Close()

	container.StartQueue(ctx)
	container.Reports.StartCleanup(ctx)

	scheduler, err := service.NewEnrichmentScheduler(cfg.Enrichment.Schedule, container.Enrichment, logr)
	if err != nil {
		logr.Sugar().Fatalw("invalid enrichment schedule", "schedule", cfg.Enrichment.Schedule, "error", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.NewRouter(container),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
	logr.Sugar().Info("server stopped")
}
