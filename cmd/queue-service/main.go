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
	"github.com/Eyob-smax/AfriQueue-sub000/internal/broadcast"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/config"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/httpapi"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/notify"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/queue"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store/memory"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/store/postgres"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	telemetry.InitLogger("queue-service", cfg.AppEnv)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}
	defer closeStore()

	dispatcher := broadcast.NewDispatcher(newPublisher(cfg), cfg.BroadcastWorkers, cfg.BroadcastBuffer, cfg.BroadcastTimeout)
	notifications := notify.NewService(st, dispatcher)
	queues := queue.NewService(st, dispatcher, notifications, queue.Options{
		AllowJoinWhenPaused: cfg.AllowJoinWhenPaused,
		MaxJoinRetries:      cfg.JoinMaxRetries,
		StoreTimeout:        cfg.StoreTimeout,
	})

	handler := httpapi.NewHandler(queues, notifications)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		UserPerMinute: cfg.RateLimitPerMinute,
		UserBurst:     cfg.RateLimitBurst,
	})
	verifier := auth.NewVerifier(cfg.JWTSecret)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(httpapi.AuthMiddleware(verifier, limiter.Middleware(handler.Routes()))), "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// The dispatcher outlives the server so broadcasts from draining
	// requests are still delivered.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("queue-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		stopDispatch()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("queue-service stopped")
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		st := memory.New()
		for userID, centerID := range cfg.MemoryStaff {
			st.AddStaff(userID, centerID)
		}
		return st, func() {}, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return postgres.NewStore(pool), pool.Close, nil
	}
}

func newPublisher(cfg config.Config) broadcast.Publisher {
	if cfg.RealtimeURL == "" {
		log.Warn().Msg("REALTIME_URL not set, broadcasts are only logged")
		return broadcast.LogPublisher{}
	}
	return broadcast.NewHTTPPublisher(cfg.RealtimeURL, cfg.RealtimePublishToken, cfg.BroadcastTimeout)
}
