package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agrimandi/agrimandi-backend/internal/cron"
	"github.com/agrimandi/agrimandi-backend/internal/listings"
	"github.com/agrimandi/agrimandi-backend/internal/notifications"
	"github.com/agrimandi/agrimandi-backend/internal/orders"
	"github.com/agrimandi/agrimandi-backend/internal/payments"
	"github.com/agrimandi/agrimandi-backend/internal/wallets"
	"github.com/agrimandi/agrimandi-backend/pkg/config"
	"github.com/agrimandi/agrimandi-backend/pkg/db"
	"github.com/agrimandi/agrimandi-backend/pkg/gateway"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
	"github.com/agrimandi/agrimandi-backend/pkg/metrics"
	"github.com/agrimandi/agrimandi-backend/pkg/outbox"
	"github.com/agrimandi/agrimandi-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(logg, "database", err)
	defer dbClient.Close()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(logg, "redis", err)
	defer redisClient.Close()

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	requireResource(logg, "gateway client", err)

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	walletSvc, err := wallets.NewService(wallets.NewRepository(dbClient.DB()), dbClient, cfg.Wallet, logg)
	requireResource(logg, "wallet service", err)

	listingSvc, err := listings.NewService(listings.NewRepository(dbClient.DB()), dbClient, logg)
	requireResource(logg, "listing service", err)

	paymentSvc, err := payments.NewService(payments.NewRepository(dbClient.DB()), dbClient, gatewayClient, outboxSvc, cfg.Pricing, logg)
	requireResource(logg, "payment service", err)

	orderRepo := orders.NewRepository(dbClient.DB())
	orderSvc, err := orders.NewService(orderRepo, dbClient, listingSvc, walletSvc, paymentSvc, outboxSvc, cfg.Pricing, logg)
	requireResource(logg, "order service", err)

	orderTTLJob, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{
		Logger:        logg,
		PendingReader: orderRepo,
		Orders:        orderSvc,
		PendingTTL:    cfg.Orders.PendingTTL,
	})
	requireResource(logg, "order ttl job", err)

	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRepository(dbClient.DB()),
	})
	requireResource(logg, "notification cleanup job", err)

	registry := cron.NewRegistry()
	registry.Register(orderTTLJob)
	registry.Register(cleanupJob)

	lockKey := redisClient.LockKey(fmt.Sprintf("cron-worker:%s", cfg.App.Env))
	lock, err := cron.NewRedisLock(redisClient, lockKey, cfg.Cron.LockTTL)
	requireResource(logg, "cron lock", err)

	svc, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	requireResource(logg, "cron service", err)

	runCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Cron.Interval.String(),
	})
	logg.Info(runCtx, "cron worker starting")

	if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "cron worker stopped")
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to initialize "+resource, err)
	os.Exit(1)
}
