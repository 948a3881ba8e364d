/**
 * Manga Translation Worker - Main Entry Point
 *
 * Commands:
 * - worker:    consume translation jobs from Redis (list queue or asynq)
 * - serve:     HTTP API with in-memory jobs and interactive verification
 * - translate: run one local image through the pipeline
 * - submit:    enqueue an image for the worker
 * - status:    read a job's status row from PostgreSQL
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
