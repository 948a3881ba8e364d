package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/adverant/nexus/mangatrans-worker/internal/clients"
	"github.com/adverant/nexus/mangatrans-worker/internal/config"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
	"github.com/adverant/nexus/mangatrans-worker/internal/queue"
	"github.com/adverant/nexus/mangatrans-worker/internal/storage"
	"github.com/adverant/nexus/mangatrans-worker/internal/translation"
)

// buildRecognizers assembles the detection cascade in escalation order:
// OCR.space words, Tesseract words, then edge regions read by Tesseract.
func buildRecognizers(cfg *config.Config) ([]processor.Recognizer, error) {
	clusterer := processor.NewWordClusterer(processor.DefaultClusterConfig())
	var recognizers []processor.Recognizer

	if cfg.OCRSpaceAPIKey != "" {
		client, err := clients.NewOCRSpaceClient(&clients.OCRSpaceConfig{
			Endpoint: cfg.OCRSpaceURL,
			APIKey:   cfg.OCRSpaceAPIKey,
			Language: cfg.OCRLanguage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OCR.space client: %w", err)
		}
		recognizers = append(recognizers,
			processor.NewClusteringRecognizer("ocrspace", processor.OCRSpaceWords{Client: client}, clusterer))
	} else {
		mainLog.Warn("OCRSPACE_API_KEY not set, OCR.space tier disabled")
	}

	if cfg.TesseractEnabled {
		tess, err := processor.NewTesseractOCR(&processor.TesseractConfig{Language: cfg.TesseractLanguage})
		if err != nil {
			return nil, fmt.Errorf("failed to create Tesseract OCR: %w", err)
		}
		recognizers = append(recognizers, processor.NewClusteringRecognizer("tesseract", tess, clusterer))

		if cfg.EdgeFallbackEnabled {
			detector := processor.NewEdgeDetector(processor.DefaultEdgeDetectorConfig())
			recognizers = append(recognizers, processor.NewRegionRecognizer(detector, tess))
		}
	}

	if len(recognizers) == 0 {
		return nil, fmt.Errorf("no recognizer configured: set OCRSPACE_API_KEY or TESSERACT_ENABLED=true")
	}
	return recognizers, nil
}

// buildProcessor wires recognizers, the translation chain and the renderer.
func buildProcessor(cfg *config.Config, sink processor.ProgressSink, verifier processor.Verifier) (*processor.ImageProcessor, error) {
	recognizers, err := buildRecognizers(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.ProcessingTimeout}
	chain, err := translation.NewChainFromConfig(cfg, httpClient)
	if err != nil {
		return nil, err
	}

	rcfg := processor.DefaultRendererConfig()
	rcfg.FontPath = cfg.FontPath
	rcfg.JPEGQuality = cfg.JPEGQuality
	renderer, err := processor.NewRenderer(rcfg)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(recognizers))
	for i, r := range recognizers {
		names[i] = r.Name()
	}
	mainLog.Info("Pipeline configured", "recognizers", names, "providers", chain.Providers())

	return processor.NewImageProcessor(&processor.ProcessorConfig{
		Recognizers:    recognizers,
		Translator:     chain,
		Renderer:       renderer,
		Sink:           sink,
		Verifier:       verifier,
		MaxFileSize:    cfg.MaxFileSize,
		BoxConcurrency: cfg.BoxConcurrency,
		HTTPClient:     httpClient,
	})
}

// statusStore is the optional PostgreSQL job status table. Its accessors
// return untyped nils when no database is configured. State changes reach
// the table through an AsyncSink so runs never wait on the database.
type statusStore struct {
	pg    *storage.PostgresClient
	async *processor.AsyncSink
}

func openStatusStore(ctx context.Context, cfg *config.Config) (*statusStore, error) {
	if cfg.DatabaseURL == "" {
		mainLog.Info("DATABASE_URL not set, job status rows disabled")
		return &statusStore{}, nil
	}
	pg, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return &statusStore{pg: pg, async: processor.NewAsyncSink("postgres", pg, 0)}, nil
}

func (s *statusStore) sink() processor.ProgressSink {
	if s.pg == nil {
		return nil
	}
	return s.async
}

func (s *statusStore) recorder() queue.ResultRecorder {
	if s.pg == nil {
		return nil
	}
	return s.pg
}

func (s *statusStore) Close() {
	if s.pg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.async.Close(ctx); err != nil {
		mainLog.Warn("Job status updates not flushed", "error", err)
	}
	stats := s.pg.GetStats()
	mainLog.Info("Closing PostgreSQL", "openConnections", stats.OpenConnections, "waitCount", stats.WaitCount)
	if err := s.pg.Close(); err != nil {
		mainLog.Warn("Error closing PostgreSQL", "error", err)
	}
}
