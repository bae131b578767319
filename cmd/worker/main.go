package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/internal/config"
	"notifyhub/internal/httpserver"
	"notifyhub/internal/queue"
	"notifyhub/internal/sender"
	"notifyhub/internal/service"
	"notifyhub/internal/store/postgres"
	"notifyhub/pkg/events"
	"notifyhub/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	logger := logger.New()
	defer logger.Sync()

	logger.Info("Starting notification worker...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// DB
	pool, err := postgres.Connect(ctx, cfg.DB.DSN(), logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer pool.Close()
	st := postgres.New(pool, logger)
	logger.Info("DB ready")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	logger.Info("Redis ready")

	// Event bus
	bus, err := events.NewPublisher(cfg.MQ.URL, logger)
	if err != nil {
		logger.Fatal("Event bus connection failed", zap.Error(err))
	}
	defer bus.Close()

	// Channel senders
	senders := sender.Senders{
		Email: sender.NewSMTP(cfg.SMTP, logger),
		Push:  sender.NewGateway(cfg.Gateway),
		SMS:   sender.NewGateway(cfg.Gateway),
		InApp: sender.NewInAppRedis(rdb, logger),
	}

	// Pipeline
	brokerCfg := cfg.Queue.Broker()
	svc := service.New(st, senders, func(name string, qc queue.Config) queue.Queue {
		return queue.NewRedis(name, qc, rdb, logger)
	}, brokerCfg, bus, logger)
	svc.Start()

	// Operator API
	router := httpserver.NewRouter(svc, pool, cfg.JWT.Secret)
	go func() {
		if err := router.Run(cfg.Server.Port); err != nil {
			logger.Fatal("HTTP server crashed", zap.Error(err))
		}
	}()
	logger.Info("Operator API listening", zap.String("port", cfg.Server.Port))

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	logger.Info("Worker stopped")
}
