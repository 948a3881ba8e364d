package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/mangatrans-worker/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume translation jobs from Redis",
	Long: `Start the queue worker.

QUEUE_BACKEND selects the consumer:
  redis  list queue with a <queue>:data envelope hash (default)
  asynq  asynq "translate-image" tasks

Failed jobs are recorded and never retried. With DATABASE_URL set, every
state change is also written to mangatrans.translation_jobs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		status, err := openStatusStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer status.Close()

		proc, err := buildProcessor(cfg, nil, nil)
		if err != nil {
			return err
		}

		var stop func() error
		switch cfg.QueueBackend {
		case "asynq":
			consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
				RedisURL:          cfg.RedisURL,
				QueueName:         cfg.QueueName,
				Concurrency:       cfg.WorkerConcurrency,
				Processor:         proc,
				ProcessingTimeout: cfg.ProcessingTimeout,
				Sink:              status.sink(),
				Recorder:          status.recorder(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize asynq consumer: %w", err)
			}
			if err := consumer.Start(ctx); err != nil {
				return fmt.Errorf("failed to start asynq consumer: %w", err)
			}
			stop = func() error { return consumer.Stop(context.Background()) }

		default:
			consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
				RedisURL:          cfg.RedisURL,
				QueueName:         cfg.QueueName,
				Concurrency:       cfg.WorkerConcurrency,
				Processor:         proc,
				ProcessingTimeout: cfg.ProcessingTimeout,
				ResultTTL:         cfg.ResultTTL,
				Sink:              status.sink(),
				Recorder:          status.recorder(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize queue consumer: %w", err)
			}
			if err := consumer.Start(); err != nil {
				return fmt.Errorf("failed to start queue consumer: %w", err)
			}
			stop = func() error {
				if stats, err := consumer.GetStats(); err == nil {
					mainLog.Info("Queue statistics", "waiting", stats["waiting"], "processing", stats["processing"],
						"completed", stats["completed"], "failed", stats["failed"])
				}
				return consumer.Stop()
			}
		}

		mainLog.Info("Worker ready",
			"backend", cfg.QueueBackend,
			"queue", cfg.QueueName,
			"workers", cfg.WorkerConcurrency,
			"boxConcurrency", cfg.BoxConcurrency,
			"timeout", cfg.ProcessingTimeout,
		)

		<-ctx.Done()
		mainLog.Info("Shutdown signal received, stopping worker")

		start := time.Now()
		if err := stop(); err != nil {
			mainLog.Error("Error stopping queue consumer", "error", err)
		}
		mainLog.Info("Shutdown complete", "duration", time.Since(start))
		return nil
	},
}
