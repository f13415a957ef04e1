package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/corelinkhq/platform-core/internal/config"
	"github.com/corelinkhq/platform-core/internal/handler"
	devicehandler "github.com/corelinkhq/platform-core/internal/handler/device"
	"github.com/corelinkhq/platform-core/internal/middleware"
	"github.com/corelinkhq/platform-core/internal/repository/postgres"
	"github.com/corelinkhq/platform-core/internal/router"
	devicesvc "github.com/corelinkhq/platform-core/internal/service/device"
	"github.com/corelinkhq/platform-core/pkg/logger"
	"github.com/corelinkhq/platform-core/pkg/metrics"
	"github.com/corelinkhq/platform-core/pkg/outbox"
	"github.com/corelinkhq/platform-core/pkg/scope"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := logger.FromZerolog(log.Logger)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	appMetrics := metrics.NewMetrics("platform_api", prometheus.DefaultRegisterer)

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)
	deviceRepo := postgres.NewDeviceRepository(baseRepo)

	recorder := outbox.NewRecorder(outboxRepo, appLogger)
	deviceService := devicesvc.NewService(baseRepo, deviceRepo, recorder, appLogger)

	policies := scope.NewRegistry()
	guard := scope.NewGuard(policies, appLogger, appMetrics)
	auth := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	r := router.NewRouter(
		auth,
		guard,
		policies,
		devicehandler.NewHandler(deviceService),
		handler.NewHealthHandler(db),
		router.Config{
			RateLimit: middleware.RateLimiterConfig{
				Rate:  rate.Limit(cfg.Server.RateLimit),
				Burst: cfg.Server.RateBurst,
			},
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		appLogger.Info("starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "graceful shutdown failed")
	}
}
