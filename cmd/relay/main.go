package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/corelinkhq/platform-core/internal/alert"
	"github.com/corelinkhq/platform-core/internal/relay"
	"github.com/corelinkhq/platform-core/internal/repository/postgres"
	"github.com/corelinkhq/platform-core/pkg/logger"
	"github.com/corelinkhq/platform-core/pkg/messaging"
	"github.com/corelinkhq/platform-core/pkg/messaging/kafka"
	"github.com/corelinkhq/platform-core/pkg/messaging/redis"
	"github.com/corelinkhq/platform-core/pkg/metrics"
)

// Env is the relay's configuration. Worker processes are configured
// purely by environment, unlike the API which reads a config file.
type Env struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	BrokerDriver string   `envconfig:"BROKER_DRIVER" default:"redis"`
	RedisURL     string   `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`

	Topic           string        `envconfig:"RELAY_TOPIC" default:"platform.events"`
	BatchSize       int           `envconfig:"RELAY_BATCH_SIZE" default:"100"`
	Partitions      int           `envconfig:"RELAY_PARTITIONS" default:"8"`
	PollInterval    time.Duration `envconfig:"RELAY_POLL_INTERVAL" default:"2s"`
	LeaseFor        time.Duration `envconfig:"RELAY_LEASE_FOR" default:"30s"`
	PublishTimeout  time.Duration `envconfig:"RELAY_PUBLISH_TIMEOUT" default:"5s"`
	MaxAttempts     int           `envconfig:"RELAY_MAX_ATTEMPTS" default:"5"`
	InitialBackoff  time.Duration `envconfig:"RELAY_INITIAL_BACKOFF" default:"1s"`
	MaxBackoff      time.Duration `envconfig:"RELAY_MAX_BACKOFF" default:"1m"`
	Retention       time.Duration `envconfig:"RELAY_RETENTION" default:"168h"`
	CleanupInterval time.Duration `envconfig:"RELAY_CLEANUP_INTERVAL" default:"1h"`

	HealthPort int `envconfig:"HEALTH_PORT" default:"8081"`

	AlertsEnabled bool     `envconfig:"ALERTS_ENABLED" default:"false"`
	SMTPHost      string   `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort      int      `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser      string   `envconfig:"SMTP_USER"`
	SMTPPassword  string   `envconfig:"SMTP_PASSWORD"`
	AlertFrom     string   `envconfig:"ALERT_FROM" default:"outbox-relay@localhost"`
	AlertTo       []string `envconfig:"ALERT_TO"`
}

func main() {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to load environment")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := logger.FromZerolog(log.Logger)

	db, err := sqlx.Connect("postgres", env.DatabaseURL)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := newBroker(env)
	if err != nil {
		appLogger.Fatal(err, "failed to create broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	var alerter relay.Alerter = alert.Nop{}
	if env.AlertsEnabled {
		alerter = alert.NewMailer(alert.Config{
			SMTPHost: env.SMTPHost,
			SMTPPort: env.SMTPPort,
			Username: env.SMTPUser,
			Password: env.SMTPPassword,
			From:     env.AlertFrom,
			To:       env.AlertTo,
		}, appLogger)
	}

	r := relay.New(
		outboxRepo,
		broker,
		relay.Config{
			Claimant:       claimantID(),
			Topic:          env.Topic,
			BatchSize:      env.BatchSize,
			Partitions:     env.Partitions,
			PollInterval:   env.PollInterval,
			LeaseFor:       env.LeaseFor,
			PublishTimeout: env.PublishTimeout,
			MaxAttempts:    env.MaxAttempts,
			InitialBackoff: env.InitialBackoff,
			MaxBackoff:     env.MaxBackoff,
		},
		appLogger,
		metrics.NewMetrics("platform_relay", prometheus.DefaultRegisterer),
		alerter,
	)

	janitor := relay.NewJanitor(outboxRepo, env.Retention, env.CleanupInterval, appLogger)

	setupHealthCheck(env.HealthPort, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	go janitor.Start(ctx)
	r.Start(ctx)
}

func newBroker(env Env) (messaging.Broker, error) {
	switch env.BrokerDriver {
	case "redis":
		return redis.NewRedisBroker(redis.Config{
			URL:          env.RedisURL,
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
			PoolSize:     10,
			MinIdleConns: 2,
		}, &log.Logger)
	case "kafka":
		return kafka.NewKafkaBroker(kafka.Config{
			Brokers: env.KafkaBrokers,
		}, &log.Logger), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", env.BrokerDriver)
	}
}

func setupHealthCheck(port int, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}

// claimantID identifies this relay instance in claim rows, useful when
// debugging which instance holds a lease.
func claimantID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
