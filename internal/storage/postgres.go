/**
 * PostgreSQL Client for the manga translation worker
 *
 * Tracks translation job status only: stage, progress, error, and a
 * summary of the finished run. Images and transcripts are never stored.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS mangatrans;
	CREATE TABLE IF NOT EXISTS mangatrans.translation_jobs (
		id                 TEXT PRIMARY KEY,
		filename           TEXT,
		stage              TEXT NOT NULL,
		progress           INTEGER NOT NULL DEFAULT 0,
		message            TEXT,
		error_code         TEXT,
		error_message      TEXT,
		box_count          INTEGER,
		degraded_count     INTEGER,
		recognizer         TEXT,
		confidence         NUMERIC(5,4),
		processing_time_ms BIGINT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS translation_jobs_stage_idx ON mangatrans.translation_jobs (stage);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db     *sql.DB
	logger *logging.Logger
}

// JobUpdate represents a job status update. Zero values leave the stored
// column unchanged, except for the error fields, which are cleared.
type JobUpdate struct {
	JobID            string
	Filename         string
	Stage            string
	Progress         int
	Message          string
	ErrorCode        string
	ErrorMessage     string
	BoxCount         int
	Degraded         int
	Recognizer       string
	Confidence       float64
	ProcessingTimeMs int64
	Metadata         map[string]interface{}
}

// JobRecord is a stored job row.
type JobRecord struct {
	ID               string                 `json:"id"`
	Filename         string                 `json:"filename,omitempty"`
	Stage            string                 `json:"stage"`
	Progress         int                    `json:"progress"`
	Message          string                 `json:"message,omitempty"`
	ErrorCode        string                 `json:"errorCode,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	BoxCount         int                    `json:"boxCount,omitempty"`
	Degraded         int                    `json:"degraded,omitempty"`
	Recognizer       string                 `json:"recognizer,omitempty"`
	Confidence       float64                `json:"confidence,omitempty"`
	ProcessingTimeMs int64                  `json:"processingTimeMs,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it
// to [0.0, 1.0] so it fits NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 || confidence != confidence {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escape sequences JSONB rejects (\u0000)
// and replaces other control character escapes with a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}

// sanitizeText strips NUL bytes, which TEXT columns reject, and replaces
// other control characters except newline and tab.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0:
			return -1
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return ' '
		}
		return r
	}, s)
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db, logger: logging.NewLogger(logging.CategoryStorage)}, nil
}

// EnsureSchema creates the jobs table if it does not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Stage == "" {
		return fmt.Errorf("stage is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if update.Metadata == nil {
		metadataJSON = nil
	} else {
		metadataJSON = sanitizeJSONForPostgres(metadataJSON)
	}

	confidence := sanitizeConfidence(update.Confidence)

	query := `
		INSERT INTO mangatrans.translation_jobs (
			id, filename, stage, progress, message,
			error_code, error_message, box_count, degraded_count, recognizer,
			confidence, processing_time_ms, metadata,
			created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4, NULLIF($5, ''),
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, 0), NULLIF($9, 0), NULLIF($10, ''),
			NULLIF($11::NUMERIC(5,4), 0), NULLIF($12, 0), COALESCE($13::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			filename = COALESCE(EXCLUDED.filename, mangatrans.translation_jobs.filename),
			stage = EXCLUDED.stage,
			progress = EXCLUDED.progress,
			message = EXCLUDED.message,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			box_count = COALESCE(EXCLUDED.box_count, mangatrans.translation_jobs.box_count),
			degraded_count = COALESCE(EXCLUDED.degraded_count, mangatrans.translation_jobs.degraded_count),
			recognizer = COALESCE(EXCLUDED.recognizer, mangatrans.translation_jobs.recognizer),
			confidence = COALESCE(EXCLUDED.confidence, mangatrans.translation_jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, mangatrans.translation_jobs.processing_time_ms),
			metadata = CASE WHEN $13::jsonb IS NULL THEN mangatrans.translation_jobs.metadata ELSE EXCLUDED.metadata END,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query,
		update.JobID,                      // $1
		sanitizeText(update.Filename),     // $2
		update.Stage,                      // $3
		update.Progress,                   // $4
		sanitizeText(update.Message),      // $5
		update.ErrorCode,                  // $6
		sanitizeText(update.ErrorMessage), // $7
		update.BoxCount,                   // $8
		update.Degraded,                   // $9
		update.Recognizer,                 // $10
		confidence,                        // $11
		update.ProcessingTimeMs,           // $12
		nullableJSON(metadataJSON),        // $13
	)
	if err != nil {
		return errors.NewStorageFailedError(update.JobID,
			fmt.Errorf("failed to update job status (stage=%s): %w", update.Stage, err))
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}

// Publish records a pipeline state change. Storage failures are logged;
// they never affect the run.
func (p *PostgresClient) Publish(ctx context.Context, state processor.TranslationState) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := p.UpdateJobStatus(ctx, &JobUpdate{
		JobID:        state.JobID,
		Stage:        string(state.Stage),
		Progress:     state.Progress,
		Message:      state.Message,
		ErrorCode:    state.ErrorCode,
		ErrorMessage: state.Error,
	})
	if err != nil {
		p.logger.Warn("Failed to record job state", "jobId", state.JobID, "stage", state.Stage, "error", err)
	}
}

// RecordResult stores the summary of a completed run.
func (p *PostgresClient) RecordResult(ctx context.Context, filename string, res *processor.PipelineResult) error {
	return p.UpdateJobStatus(ctx, resultUpdate(filename, res))
}

func resultUpdate(filename string, res *processor.PipelineResult) *JobUpdate {
	return &JobUpdate{
		JobID:            res.JobID,
		Filename:         filename,
		Stage:            string(processor.StageCompleted),
		Progress:         100,
		Message:          "Translation completed",
		BoxCount:         len(res.TextBoxes),
		Degraded:         res.Degraded,
		Recognizer:       res.Recognizer,
		Confidence:       meanConfidence(res.TextBoxes),
		ProcessingTimeMs: res.Duration.Milliseconds(),
		Metadata: map[string]interface{}{
			"translationCount": len(res.Translations),
			"imageBytes":       len(res.TranslatedImage),
		},
	}
}

// meanConfidence averages the box confidences that are present, scaled
// from 0..100 to 0..1.
func meanConfidence(boxes []processor.TextBox) float64 {
	var sum float64
	var n int
	for _, b := range boxes {
		if b.Confidence != nil {
			sum += *b.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n) / 100
}

// GetJob retrieves a job by ID
func (p *PostgresClient) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, filename, stage, progress, message,
			error_code, error_message, box_count, degraded_count, recognizer,
			confidence, processing_time_ms, metadata, created_at, updated_at
		FROM mangatrans.translation_jobs
		WHERE id = $1
	`

	var (
		rec                                  JobRecord
		filename, message, recognizer        sql.NullString
		errorCode, errorMessage              sql.NullString
		boxCount, degraded, processingTimeMs sql.NullInt64
		confidence                           sql.NullFloat64
		metadataJSON                         []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&rec.ID, &filename, &rec.Stage, &rec.Progress, &message,
		&errorCode, &errorMessage, &boxCount, &degraded, &recognizer,
		&confidence, &processingTimeMs, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rec.Filename = filename.String
	rec.Message = message.String
	rec.ErrorCode = errorCode.String
	rec.ErrorMessage = errorMessage.String
	rec.BoxCount = int(boxCount.Int64)
	rec.Degraded = int(degraded.Int64)
	rec.Recognizer = recognizer.String
	rec.Confidence = confidence.Float64
	rec.ProcessingTimeMs = processingTimeMs.Int64

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &rec, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
