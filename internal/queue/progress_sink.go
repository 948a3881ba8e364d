package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

// ProgressEvent is published on <queue>:events for every state change.
type ProgressEvent struct {
	Event     string `json:"event"`
	JobID     string `json:"jobId"`
	Stage     string `json:"stage"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Timestamp string `json:"timestamp"`
}

func newProgressEvent(state processor.TranslationState) ProgressEvent {
	return ProgressEvent{
		Event:     "job:" + string(state.Stage),
		JobID:     state.JobID,
		Stage:     string(state.Stage),
		Progress:  state.Progress,
		Message:   state.Message,
		Error:     state.Error,
		ErrorCode: state.ErrorCode,
		Timestamp: state.UpdatedAt.Format(time.RFC3339),
	}
}

// RedisProgressSink mirrors job state into <queue>:state and publishes it
// on <queue>:events for WebSocket streaming. Publish failures are logged
// and dropped.
type RedisProgressSink struct {
	client *redis.Client
	keys   queueKeys
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisProgressSink creates a sink for queueName. The state hash
// expires ttl after the last update.
func NewRedisProgressSink(client *redis.Client, queueName string, ttl time.Duration) *RedisProgressSink {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &RedisProgressSink{
		client: client,
		keys:   keysFor(queueName),
		ttl:    ttl,
		logger: logging.NewLogger(logging.CategoryQueue),
	}
}

func (s *RedisProgressSink) Publish(ctx context.Context, state processor.TranslationState) {
	stateData, err := json.Marshal(state)
	if err != nil {
		s.logger.Warn("Failed to marshal state", "jobId", state.JobID, "error", err)
		return
	}
	eventData, err := json.Marshal(newProgressEvent(state))
	if err != nil {
		s.logger.Warn("Failed to marshal event", "jobId", state.JobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.keys.state, state.JobID, stateData)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.keys.state, s.ttl)
	}
	pipe.Publish(ctx, s.keys.events, eventData)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("Failed to publish progress", "jobId", state.JobID, "stage", state.Stage, "error", err)
	}
}
