package processor

import (
	"context"
	goerrors "errors"
	"sync"
	"time"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
)

// Stage is a pipeline stage for one image.
type Stage string

const (
	StageDetecting   Stage = "detecting"
	StageVerifying   Stage = "verifying"
	StageTranslating Stage = "translating"
	StageRendering   Stage = "rendering"
	StageCompleted   Stage = "completed"
	StageError       Stage = "error"
)

// Progress reported on entry to each stage.
const (
	progressDetecting   = 0
	progressVerifying   = 20
	progressTranslating = 40
	progressRendering   = 70
	progressCompleted   = 100
)

// Terminal reports whether no further transitions can happen.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// TranslationState is the progress record of one image run.
type TranslationState struct {
	JobID     string    `json:"jobId"`
	Stage     Stage     `json:"stage"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorCode string    `json:"errorCode,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProgressSink receives state updates. Publish must not block the
// pipeline for long and has no way to push back.
type ProgressSink interface {
	Publish(ctx context.Context, state TranslationState)
}

// ProgressSinkFunc adapts a function to ProgressSink.
type ProgressSinkFunc func(ctx context.Context, state TranslationState)

func (f ProgressSinkFunc) Publish(ctx context.Context, state TranslationState) { f(ctx, state) }

// MultiSink fans an update out to every non-nil sink in order.
type MultiSink []ProgressSink

func (m MultiSink) Publish(ctx context.Context, state TranslationState) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, state)
		}
	}
}

// stateTracker owns the TranslationState of a single run. Progress never
// decreases except on the transition to error.
type stateTracker struct {
	mu    sync.Mutex
	state TranslationState
	sink  ProgressSink
}

func newStateTracker(jobID string, sink ProgressSink) *stateTracker {
	return &stateTracker{
		state: TranslationState{JobID: jobID},
		sink:  sink,
	}
}

func (t *stateTracker) advance(ctx context.Context, stage Stage, progress int, message string) {
	t.mu.Lock()
	if t.state.Stage.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state.Stage = stage
	t.state.Progress = max(t.state.Progress, progress)
	t.state.Message = message
	t.state.UpdatedAt = time.Now()
	snapshot := t.state
	t.mu.Unlock()

	t.publish(ctx, snapshot)
}

// fail moves the run to error and returns err for convenience.
func (t *stateTracker) fail(ctx context.Context, err error) error {
	t.mu.Lock()
	if t.state.Stage.Terminal() {
		t.mu.Unlock()
		return err
	}
	t.state.Stage = StageError
	t.state.Progress = 0
	t.state.Message = ""
	t.state.Error = reason(err)
	t.state.ErrorCode = string(errors.CodeOf(err))
	t.state.UpdatedAt = time.Now()
	snapshot := t.state
	t.mu.Unlock()

	t.publish(ctx, snapshot)
	return err
}

func (t *stateTracker) snapshot() TranslationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *stateTracker) publish(ctx context.Context, state TranslationState) {
	if t.sink == nil {
		return
	}
	// A cancelled job context must not swallow the final error update.
	t.sink.Publish(context.WithoutCancel(ctx), state)
}

// reason renders err as the human-readable text stored on the state.
func reason(err error) string {
	var pe *errors.ProcessingError
	if goerrors.As(err, &pe) {
		if pe.Cause != nil {
			return pe.Message + ": " + pe.Cause.Error()
		}
		return pe.Message
	}
	return err.Error()
}
