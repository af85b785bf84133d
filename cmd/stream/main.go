package main

import (
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"assistant-hub/internal/app"
	"assistant-hub/internal/config"
	"assistant-hub/internal/feed"
	"assistant-hub/internal/stream"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	log := config.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	if cfg.RedisAddr == "" {
		log.Error("required environment variable is not set", "key", "REDIS_ADDR")
		os.Exit(1)
	}
	rdb := app.NewRedisClient(cfg)
	defer rdb.Close()

	broker, err := feed.NewRedisBroker(rdb, log)
	if err != nil {
		log.Error("failed to create feed broker", "err", err)
		os.Exit(1)
	}
	relay, err := stream.NewRelay(broker, log, nil)
	if err != nil {
		log.Error("failed to create stream relay", "err", err)
		os.Exit(1)
	}

	lambda.Start(relay.Handle)
}
