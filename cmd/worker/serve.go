package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/mangatrans-worker/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

Jobs live in memory and expire JOB_TTL after they finish. Uploads with
verify=true stop in the verifying stage until POST /api/jobs/{id}/verify.

Examples:
  mangatrans serve                  # listen on HTTP_ADDR (default :8080)
  mangatrans serve --addr :3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if serveAddr == "" {
			serveAddr = cfg.HTTPAddr
		}

		status, err := openStatusStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer status.Close()

		store := api.NewJobStore()
		proc, err := buildProcessor(cfg, status.sink(), store)
		if err != nil {
			return err
		}

		srv := api.NewServer(api.ServerConfig{
			Processor:         proc,
			Store:             store,
			Logs:              logBuf,
			Concurrency:       cfg.WorkerConcurrency,
			MaxUploadSize:     cfg.MaxFileSize,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})

		sweepCtx, stopSweep := context.WithCancel(ctx)
		defer stopSweep()
		go store.RunSweeper(sweepCtx, time.Minute, cfg.JobTTL)

		httpServer := &http.Server{
			Addr:              serveAddr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			mainLog.Info("HTTP API listening", "addr", serveAddr)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		mainLog.Info("Shutdown signal received, stopping HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			mainLog.Warn("HTTP shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			mainLog.Warn("In-flight jobs did not finish", "error", err)
		}
		mainLog.Info("Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: HTTP_ADDR)")
}
