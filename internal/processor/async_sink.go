package processor

import (
	"context"
	"sync"

	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
)

// DefaultAsyncSinkBuffer is the queue depth used when NewAsyncSink gets a
// non-positive size.
const DefaultAsyncSinkBuffer = 256

type sinkUpdate struct {
	ctx   context.Context
	state TranslationState
}

// AsyncSink hands updates to a slow sink through a buffered queue drained
// by one goroutine, so Publish returns without waiting on storage. Updates
// reach the inner sink in publish order. When the queue is full,
// intermediate stages are dropped; terminal stages wait for room.
type AsyncSink struct {
	name   string
	inner  ProgressSink
	queue  chan sinkUpdate
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts the drain goroutine for inner. Call Close to flush.
func NewAsyncSink(name string, inner ProgressSink, size int) *AsyncSink {
	if size <= 0 {
		size = DefaultAsyncSinkBuffer
	}
	s := &AsyncSink{
		name:   name,
		inner:  inner,
		queue:  make(chan sinkUpdate, size),
		logger: logging.NewLogger(logging.CategorySystem),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AsyncSink) Publish(ctx context.Context, state TranslationState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("Sink closed, dropping update", "sink", s.name, "jobId", state.JobID, "stage", state.Stage)
		return
	}

	u := sinkUpdate{ctx: context.WithoutCancel(ctx), state: state}
	if state.Stage.Terminal() {
		s.queue <- u
		return
	}
	select {
	case s.queue <- u:
	default:
		s.logger.Warn("Sink queue full, dropping update", "sink", s.name, "jobId", state.JobID, "stage", state.Stage)
	}
}

// Close stops accepting updates and waits until queued ones are delivered
// or ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for u := range s.queue {
		s.inner.Publish(u.ctx, u.state)
	}
}
