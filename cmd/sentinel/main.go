package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CloudReel/sentinel/internal/api"
	"github.com/CloudReel/sentinel/internal/audit"
	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/fraud"
	"github.com/CloudReel/sentinel/internal/incident"
	"github.com/CloudReel/sentinel/internal/keys"
	"github.com/CloudReel/sentinel/internal/moderation"
	"github.com/CloudReel/sentinel/internal/platform"
	"github.com/CloudReel/sentinel/internal/ratelimit"
	"github.com/CloudReel/sentinel/internal/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	clk := clock.Real()

	counter, docs := buildStores(cfg, logger, clk)

	trail := audit.NewTrail(docs, logger, clk)
	limiter := ratelimit.NewLimiter(counter, trail, cfg.RateLimit, logger, clk)
	guard := ratelimit.NewFloodGuard(cfg.RateLimit.FloodPerSecond, cfg.RateLimit.FloodBurst)
	blocklist := ratelimit.NewBlocklist(clk)

	var classifier platform.MediaClassifier
	moderator := moderation.NewModerator(cfg.Moderation, classifier, logger)

	var payments platform.PaymentProcessor
	if key := os.Getenv("STRIPE_API_KEY"); key != "" {
		payments = platform.NewStripeProcessor(key)
		logger.Info("stripe payment verification enabled")
	}
	engine := fraud.NewEngine(docs, payments, trail, cfg.Fraud, logger, clk)

	keyManager, err := keys.NewManager(docs, trail, cfg.Keys, logger, clk, nil)
	if err != nil {
		logger.Fatal("key manager init failed", zap.Error(err))
	}

	orch := incident.NewOrchestrator(docs, trail, incident.Deps{
		Keys:     rotatorAdapter{keyManager},
		Users:    blocklist,
		IPs:      blocklist,
		Sessions: platform.NewSessionRevoker(docs, logger, clk),
		Alerts:   &incident.LogAlerter{Logger: logger},
		Files:    platform.NewFileQuarantine(docs, logger, clk),
	}, logger, clk)
	for _, rule := range incident.DefaultRules() {
		if err := orch.AddRule(rule); err != nil {
			logger.Fatal("bad response rule", zap.Error(err))
		}
	}

	server := api.NewServer(cfg, api.Services{
		Limiter:   limiter,
		Guard:     guard,
		Blocklist: blocklist,
		Moderator: moderator,
		Fraud:     engine,
		Trail:     trail,
		Keys:      keyManager,
		Incidents: orch,
	}, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// buildStores selects redis/postgres when configured and falls back to the
// in-memory implementations for development.
func buildStores(cfg *config.Config, logger *zap.Logger, clk clock.Clock) (store.CounterStore, store.DocumentStore) {
	var counter store.CounterStore = store.NewMemoryCounter(clk)
	if cfg.Stores.RedisURL != "" {
		rc, err := store.NewRedisCounter(cfg.Stores.RedisURL)
		if err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
		counter = rc
		logger.Info("using redis counter store")
	}

	var docs store.DocumentStore = store.NewMemoryStore()
	if cfg.Stores.Postgres.Host != "" {
		pg, err := store.NewPostgresStore(store.PostgresConfig{
			Host:     cfg.Stores.Postgres.Host,
			Port:     cfg.Stores.Postgres.Port,
			Database: cfg.Stores.Postgres.Database,
			User:     cfg.Stores.Postgres.User,
			Password: cfg.Stores.Postgres.Password,
			SSLMode:  cfg.Stores.Postgres.SSLMode,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		docs = pg
		logger.Info("using postgres document store")
	}
	return counter, docs
}

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// rotatorAdapter narrows the key manager to the incident action interface.
type rotatorAdapter struct{ m *keys.Manager }

func (a rotatorAdapter) EmergencyRotate(ctx context.Context, reason string) error {
	_, err := a.m.EmergencyRotate(ctx, reason)
	return err
}
