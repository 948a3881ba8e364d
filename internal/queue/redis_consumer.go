/**
 * Direct Redis Queue Consumer for the manga translation worker
 *
 * Compatible with the Node RedisQueue producer: the list holds job
 * ids and <queue>:data holds each job envelope. Failed jobs are recorded
 * and never re-queued.
 */

package queue

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

var errNoJobs = goerrors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Payload   JobPayload `json:"payload"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.ImageProcessorInterface
	sink      processor.ProgressSink
	progress  *processor.AsyncSink
	config    *RedisConsumerConfig
	keys      queueKeys
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ImageProcessorInterface
	ProcessingTimeout time.Duration
	ResultTTL         time.Duration
	// Sink receives progress in addition to the Redis state hash and
	// event channel (e.g. the Postgres status store).
	Sink     processor.ProgressSink
	Recorder ResultRecorder
}

// queueKeys are the Redis keys derived from a queue name.
type queueKeys struct {
	queue, data, processing, completed, failed, errors, state, events string
}

func keysFor(queue string) queueKeys {
	return queueKeys{
		queue:      queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		errors:     queue + ":errors",
		state:      queue + ":state",
		events:     queue + ":events",
	}
}

func (k queueKeys) result(jobID string) string {
	return k.queue + ":result:" + jobID
}

// NewRedisClient parses url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}

	client, err := NewRedisClient(context.Background(), cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	keys := keysFor(cfg.QueueName)
	progress := processor.NewAsyncSink("redis", NewRedisProgressSink(client, cfg.QueueName, cfg.ResultTTL), 0)

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		progress:  progress,
		sink:      processor.MultiSink{progress, cfg.Sink},
		config:    cfg,
		keys:      keys,
		logger:    logging.NewLogger(logging.CategoryQueue),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.logger.Info("Queue consumer started successfully")
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.progress.Close(ctx); err != nil {
		c.logger.Warn("Progress updates not flushed", "error", err)
	}
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if goerrors.Is(err, errNoJobs) || c.ctx.Err() != nil {
					continue
				}
				c.logger.Warn("Worker error", "worker", id, "error", err)
				// Small delay before trying again
				select {
				case <-c.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.queue).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	id := result[1]

	// The job is ours once popped; finish claiming it even if Stop races in.
	claimCtx := context.WithoutCancel(c.ctx)
	jobData, err := c.client.HGet(claimCtx, c.keys.data, id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}
	c.client.HDel(claimCtx, c.keys.data, id)

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.recordResult(failedJobResult(id, fmt.Errorf("invalid job payload: %w", err), 0))
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = id
	}

	outcome := c.runPayload(&job.Payload)
	c.recordResult(outcome)
	return nil
}

// runPayload processes a dequeued job. Stop does not abort it: the job
// runs to completion under its own processing timeout and Stop waits.
func (c *RedisConsumer) runPayload(payload *JobPayload) *JobResult {
	jobCtx := context.WithoutCancel(c.ctx)
	if c.client != nil {
		c.client.SAdd(jobCtx, c.keys.processing, payload.JobID)
	}
	return runJob(jobCtx, c.processor, c.config.ProcessingTimeout, payload, c.sink, c.config.Recorder)
}

// recordResult moves the job to its final set and stores the outcome. It
// uses its own context so a stopping consumer still records the job.
func (c *RedisConsumer) recordResult(res *JobResult) {
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("Failed to marshal job result", "jobId", res.JobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.keys.processing, res.JobID)
	if res.Status == "completed" {
		pipe.SAdd(ctx, c.keys.completed, res.JobID)
		pipe.Set(ctx, c.keys.result(res.JobID), data, c.config.ResultTTL)
	} else {
		pipe.SAdd(ctx, c.keys.failed, res.JobID)
		pipe.HSet(ctx, c.keys.errors, res.JobID, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to record job result", "jobId", res.JobID, "status", res.Status, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	ctx := context.Background()

	waiting, _ := c.client.LLen(ctx, c.keys.queue).Result()
	processing, _ := c.client.SCard(ctx, c.keys.processing).Result()
	completed, _ := c.client.SCard(ctx, c.keys.completed).Result()
	failed, _ := c.client.SCard(ctx, c.keys.failed).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}

// RedisEnqueuer pushes jobs in the layout RedisConsumer reads.
type RedisEnqueuer struct {
	client *redis.Client
	keys   queueKeys
}

// NewRedisEnqueuer creates a producer for queueName.
func NewRedisEnqueuer(ctx context.Context, redisURL, queueName string) (*RedisEnqueuer, error) {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	client, err := NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisEnqueuer{client: client, keys: keysFor(queueName)}, nil
}

// Submit stores the envelope and pushes its id. It returns the job id.
func (e *RedisEnqueuer) Submit(ctx context.Context, payload JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	data, err := json.Marshal(RedisJobData{
		ID:        payload.JobID,
		Type:      TaskTypeTranslateImage,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := e.client.TxPipeline()
	pipe.HSet(ctx, e.keys.data, payload.JobID, data)
	pipe.LPush(ctx, e.keys.queue, payload.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return payload.JobID, nil
}

// Close releases the Redis connection.
func (e *RedisEnqueuer) Close() error {
	return e.client.Close()
}
