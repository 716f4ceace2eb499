package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/stackfin/payflow/internal/config"
	"github.com/stackfin/payflow/internal/events"
	"github.com/stackfin/payflow/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: envInt("WORKER_CONCURRENCY", 10),
		Queues:      map[string]int{cfg.EventQueueName: 1},
	})

	dispatcher := events.Dispatcher{Logger: logger}
	mux := asynq.NewServeMux()
	for _, topic := range events.DefaultTopics() {
		mux.Handle(events.TaskType(topic), dispatcher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("queue", cfg.EventQueueName).Msg("worker starting")
		errCh <- srv.Run(mux)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
		srv.Shutdown()
		logger.Info().Msg("worker shutdown complete")
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("worker stopped with error")
		}
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
