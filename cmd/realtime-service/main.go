package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/auth"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/config"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/httpapi"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/realtime/hub"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/realtime/relay"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/realtime/server"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	telemetry.InitLogger("realtime-service", cfg.AppEnv)
	if err := cfg.ValidateRealtime(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	shutdownTelemetry := telemetry.Setup("realtime-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := hub.New()
	g, gctx := errgroup.WithContext(ctx)

	var publishRelay relay.Relay = relay.NewLocal(h)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		redisRelay := relay.NewRedis(client, cfg.RedisChannel, h)
		publishRelay = redisRelay
		g.Go(func() error {
			return redisRelay.Run(gctx)
		})
	}

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})
	srv := server.New(h, publishRelay, auth.NewVerifier(cfg.JWTSecret), server.Options{
		PublishToken:   cfg.RealtimePublishToken,
		Subscribers:    limiter.Middleware,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// No write timeout: socket connections are long-lived and keep their own
	// write deadlines.
	httpServer := &http.Server{
		Addr:        ":" + cfg.RealtimePort,
		Handler:     otelhttp.NewHandler(httpapi.LoggingMiddleware(srv.Routes()), "realtime-service"),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Bool("redis", cfg.RedisAddr != "").Strs("allowed_origins", cfg.AllowedOrigins).Msg("realtime-service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("realtime-service stopped")
	}
}
