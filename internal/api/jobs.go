package api

import (
	"context"
	goerrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

var (
	// ErrJobNotFound is returned for an unknown or removed job id.
	ErrJobNotFound = goerrors.New("job not found")
	// ErrNotAwaitingVerification is returned when a decision arrives for a
	// job that is not blocked on the verification gate.
	ErrNotAwaitingVerification = goerrors.New("job is not awaiting verification")
)

// Job is one image run held in the working set.
type Job struct {
	ID        string
	Filename  string
	CreatedAt time.Time

	state   processor.TranslationState
	held    *processor.TranslationState
	result  *processor.PipelineResult
	pending []processor.TextBox
	decide  chan processor.VerificationDecision
	cancel  context.CancelFunc
}

// JobView is the JSON form of a job.
type JobView struct {
	ID             string                     `json:"id"`
	Filename       string                     `json:"filename,omitempty"`
	CreatedAt      time.Time                  `json:"createdAt"`
	State          processor.TranslationState `json:"state"`
	PendingBoxes   []processor.TextBox        `json:"pendingBoxes,omitempty"`
	OriginalText   string                     `json:"originalText,omitempty"`
	TranslatedText string                     `json:"translatedText,omitempty"`
	TextBoxes      []processor.TextBox        `json:"textBoxes,omitempty"`
	Translations   []string                   `json:"translations,omitempty"`
	Degraded       int                        `json:"degraded,omitempty"`
	Recognizer     string                     `json:"recognizer,omitempty"`
	DurationMs     int64                      `json:"durationMs,omitempty"`
}

// JobStore is the in-memory working set. It is the progress sink and the
// verifier for runs started through the API. Removing a job cancels its
// run and discards its state.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	logger *logging.Logger
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]*Job),
		logger: logging.NewLogger(logging.CategoryAPI),
	}
}

// Create registers a new job in the detecting stage.
func (s *JobStore) Create(id, filename string, cancel context.CancelFunc) *Job {
	now := time.Now()
	job := &Job{
		ID:        id,
		Filename:  filename,
		CreatedAt: now,
		state: processor.TranslationState{
			JobID:     id,
			Stage:     processor.StageDetecting,
			Message:   "Queued",
			UpdatedAt: now,
		},
		cancel: cancel,
	}

	s.mu.Lock()
	s.jobs[id] = job
	s.mu.Unlock()
	return job
}

// Publish records a state change for a job still in the working set. A
// completed state is held back until SetResult attaches the result, so a
// job never reads as completed without its image and transcripts.
func (s *JobStore) Publish(_ context.Context, state processor.TranslationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[state.JobID]
	if !ok {
		return
	}
	if state.Stage == processor.StageCompleted && job.result == nil {
		job.held = &state
		return
	}
	job.held = nil
	job.state = state
}

// SetResult attaches the finished result to a job and applies a held
// completed state.
func (s *JobStore) SetResult(id string, result *processor.PipelineResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.result = result
	if job.held != nil {
		job.state = *job.held
		job.held = nil
	}
}

// Verify blocks until Resolve is called for jobID, the job is removed, or
// ctx ends.
func (s *JobStore) Verify(ctx context.Context, jobID string, boxes []processor.TextBox) (processor.VerificationDecision, error) {
	decide := make(chan processor.VerificationDecision, 1)

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return processor.VerificationDecision{}, ErrJobNotFound
	}
	job.pending = append([]processor.TextBox(nil), boxes...)
	job.decide = decide
	s.mu.Unlock()

	s.logger.Info("Awaiting verification", "jobId", jobID, "boxes", len(boxes))

	select {
	case d := <-decide:
		return d, nil
	case <-ctx.Done():
		s.mu.Lock()
		if job.decide == decide {
			job.decide = nil
			job.pending = nil
		}
		s.mu.Unlock()
		return processor.VerificationDecision{}, ctx.Err()
	}
}

// Resolve delivers a verification decision to a waiting job.
func (s *JobStore) Resolve(jobID string, decision processor.VerificationDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.decide == nil {
		return ErrNotAwaitingVerification
	}
	job.decide <- decision
	job.decide = nil
	job.pending = nil
	return nil
}

// Get returns a snapshot of one job.
func (s *JobStore) Get(id string) (JobView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return JobView{}, false
	}
	return job.view(), true
}

// Image returns the rendered JPEG of a completed job.
func (s *JobStore) Image(id string) ([]byte, processor.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, "", ErrJobNotFound
	}
	if job.result == nil {
		return nil, job.state.Stage, nil
	}
	return job.result.TranslatedImage, job.state.Stage, nil
}

// List returns all jobs, newest first.
func (s *JobStore) List() []JobView {
	s.mu.RLock()
	views := make([]JobView, 0, len(s.jobs))
	for _, job := range s.jobs {
		views = append(views, job.view())
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views
}

// Len returns the number of jobs in the working set.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Delete cancels and removes a job.
func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()

	if !ok {
		return ErrJobNotFound
	}
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// Clear cancels and removes every job.
func (s *JobStore) Clear() int {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[string]*Job)
	s.mu.Unlock()

	for _, job := range jobs {
		if job.cancel != nil {
			job.cancel()
		}
	}
	return len(jobs)
}

// Sweep removes finished jobs last updated more than ttl ago.
func (s *JobStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.state.Stage.Terminal() && job.state.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (s *JobStore) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ttl); n > 0 {
				s.logger.Info("Expired finished jobs", "removed", n)
			}
		}
	}
}

func (j *Job) view() JobView {
	v := JobView{
		ID:           j.ID,
		Filename:     j.Filename,
		CreatedAt:    j.CreatedAt,
		State:        j.state,
		PendingBoxes: j.pending,
	}
	if r := j.result; r != nil {
		v.OriginalText = r.OriginalText
		v.TranslatedText = r.TranslatedText
		v.TextBoxes = r.TextBoxes
		v.Translations = r.Translations
		v.Degraded = r.Degraded
		v.Recognizer = r.Recognizer
		v.DurationMs = r.Duration.Milliseconds()
	}
	return v
}
