package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulsegate/internal/app/registry"
	"pulsegate/internal/app/server"
	"pulsegate/internal/config"
	"pulsegate/internal/core/contracts"
	"pulsegate/internal/core/domain"
	"pulsegate/internal/core/services"
	"pulsegate/internal/platform/logger"
	"pulsegate/internal/platform/telemetry"
	redisPlugin "pulsegate/internal/plugins/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	log := logger.NewLogger(*cfg)
	log.Info("starting gateway")

	if cfg.SecretToken == "" && !cfg.Service.DevMode() {
		log.Error("refusing to start", "err", domain.ErrMissingSecret)
		return
	}

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	hub := registry.NewRegistry(log)

	// Backplane is optional; attach failure degrades to local-only fan-out.
	var backplane contracts.Backplane
	if cfg.Redis.Enabled {
		rdb, err := redisPlugin.NewRedisClient(ctx, *cfg.Redis)
		if err != nil {
			log.Warn("backplane attach failed, running single-process", "url", cfg.Redis.URL, "err", err)
		} else {
			bp := redisPlugin.NewBackplane(log, rdb, hub)
			backplane = bp
			go func() {
				if err := bp.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("backplane consumer stopped", "err", err)
				}
			}()
			log.Info("backplane attached", "url", cfg.Redis.URL)
		}
	}

	tokenSvc := services.NewTokenService(cfg.SecretToken)
	dispatch := services.NewDispatchService(log, hub, backplane)

	srv := server.NewGateway().Build(log, cfg, hub, tokenSvc, dispatch)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		log.Error("server stopped", "err", err)
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("shutdown failed", "err", err)
		}
	}
}
