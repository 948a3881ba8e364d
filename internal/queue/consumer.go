/**
 * Asynq Queue Consumer for the manga translation worker
 *
 * Consumes "translate-image" tasks. Tasks are enqueued with MaxRetry(0)
 * and failures return asynq.SkipRetry, so a failed image is never
 * processed twice. The JobResult is written as the task result.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

// TaskTypeTranslateImage is the task type for one image run.
const TaskTypeTranslateImage = "translate-image"

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.ImageProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ImageProcessorInterface
	ProcessingTimeout time.Duration
	Sink              processor.ProgressSink
	Recorder          ResultRecorder
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger(logging.CategoryQueue)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: asynqLogger{logger},
		},
	)

	consumer := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}
	consumer.mux.HandleFunc(TaskTypeTranslateImage, consumer.handleTranslateImage)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	return c.server.Start(c.mux)
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping asynq consumer...")
	c.server.Shutdown()
	c.logger.Info("Asynq consumer stopped")
	return nil
}

// handleTranslateImage processes a translate-image task
func (c *Consumer) handleTranslateImage(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			payload.JobID = id
		}
	}

	outcome := runJob(ctx, c.processor, c.config.ProcessingTimeout, &payload, c.config.Sink, c.config.Recorder)

	if w := task.ResultWriter(); w != nil {
		data, err := json.Marshal(outcome)
		if err == nil {
			_, err = w.Write(data)
		}
		if err != nil {
			c.logger.Warn("Failed to write task result", "jobId", payload.JobID, "error", err)
		}
	}

	if outcome.Status != "completed" {
		return fmt.Errorf("job %s failed: %s: %w", payload.JobID, outcome.Error, asynq.SkipRetry)
	}
	return nil
}

// NewTranslateImageTask builds a task for payload. Retries are disabled;
// retention keeps the result readable for resultTTL.
func NewTranslateImageTask(payload JobPayload, resultTTL time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(0)}
	if payload.JobID != "" {
		opts = append(opts, asynq.TaskID(payload.JobID))
	}
	if resultTTL > 0 {
		opts = append(opts, asynq.Retention(resultTTL))
	}
	return asynq.NewTask(TaskTypeTranslateImage, data, opts...), nil
}

// Enqueuer submits translate-image tasks to asynq.
type Enqueuer struct {
	client    *asynq.Client
	queueName string
	resultTTL time.Duration
}

// NewEnqueuer creates an asynq producer for queueName.
func NewEnqueuer(redisURL, queueName string, resultTTL time.Duration) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
		resultTTL: resultTTL,
	}, nil
}

// Submit enqueues payload and returns its job id.
func (e *Enqueuer) Submit(ctx context.Context, payload JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	task, err := NewTranslateImageTask(payload, e.resultTTL)
	if err != nil {
		return "", err
	}
	info, err := e.client.EnqueueContext(ctx, task, asynq.Queue(e.queueName))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info.ID, nil
}

// Close releases the client connection.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// Submitter is implemented by both producers.
type Submitter interface {
	Submit(ctx context.Context, payload JobPayload) (string, error)
	Close() error
}

var (
	_ Submitter = (*Enqueuer)(nil)
	_ Submitter = (*RedisEnqueuer)(nil)
)

// asynqLogger routes asynq's internal logging through the worker logger.
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
