package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/mangatrans-worker/internal/queue"
)

var (
	submitVerify   bool
	submitFilename string
)

var submitCmd = &cobra.Command{
	Use:   "submit <image-file|url>",
	Short: "Enqueue an image for the worker",
	Long: `Enqueue an image on the configured queue backend and print its job id.

Local files travel inside the job as base64; URLs are downloaded by the
worker.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source := args[0]

		payload := queue.JobPayload{
			Filename:            submitFilename,
			RequireVerification: submitVerify,
		}
		if isURL(source) {
			payload.ImageURL = source
		} else {
			data, err := os.ReadFile(source)
			if err != nil {
				return err
			}
			if int64(len(data)) > cfg.MaxFileSize {
				return fmt.Errorf("%s is %d bytes, limit is %d", source, len(data), cfg.MaxFileSize)
			}
			payload.ImageBuffer = data
		}
		if payload.Filename == "" {
			payload.Filename = filepath.Base(source)
		}

		var submitter queue.Submitter
		var err error
		if cfg.QueueBackend == "asynq" {
			submitter, err = queue.NewEnqueuer(cfg.RedisURL, cfg.QueueName, cfg.ResultTTL)
		} else {
			submitter, err = queue.NewRedisEnqueuer(ctx, cfg.RedisURL, cfg.QueueName)
		}
		if err != nil {
			return err
		}
		defer submitter.Close()

		id, err := submitter.Submit(ctx, payload)
		if err != nil {
			return err
		}
		mainLog.Info("Job submitted", "jobId", id, "backend", cfg.QueueBackend, "queue", cfg.QueueName)
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	submitCmd.Flags().BoolVar(&submitVerify, "verify", false, "request human verification of detected text")
	submitCmd.Flags().StringVar(&submitFilename, "filename", "", "filename recorded with the job (default: base name of the source)")
}
