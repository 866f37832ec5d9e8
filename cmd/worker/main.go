package main

import (
	"log"
	"time"

	"github.com/GoPolymarket/autopilot/internal/config"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/tasks"
	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	if cfg.Redis.Addr == "" {
		log.Fatal("redis.addr is required for the analytics worker")
	}
	redisOptions := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	queue := cfg.Analytics.AsynqQueue
	if queue == "" {
		queue = tasks.QueueName
	}
	srv := asynq.NewServer(
		redisOptions,
		asynq.Config{
			Logger:      logger.AsynqLogger(),
			Concurrency: cfg.Analytics.WorkerThreads,
			Queues: map[string]int{
				queue: 10,
			},
			ShutdownTimeout: 10 * time.Second,
		},
	)

	webhook := tasks.NewWebhookHandler(cfg.Analytics.WebhookURL, 10*time.Second)
	logger.Info("analytics worker started", "queue", queue, "webhook", cfg.Analytics.WebhookURL != "")
	if err := srv.Run(tasks.NewServeMux(webhook)); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
