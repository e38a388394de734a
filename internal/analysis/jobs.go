package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/passbi/splitticket/internal/models"
	"github.com/rs/zerolog/log"
)

// Status is the lifecycle state of a background analysis
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	defaultRetention = time.Hour
	saveTimeout      = 10 * time.Second
)

// Recorder persists finished analyses
type Recorder interface {
	Save(ctx context.Context, a *models.Analysis) error
}

// Job is a snapshot of a background analysis
type Job struct {
	ID         string           `json:"id"`
	Status     Status           `json:"status"`
	Processed  int              `json:"processed"`
	Total      int              `json:"total"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Result     *models.Analysis `json:"result,omitempty"`
}

type job struct {
	Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Jobs runs analyses in the background and keeps their results for a while
type Jobs struct {
	service   *Service
	recorder  Recorder
	retention time.Duration

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewJobs creates a job registry. recorder may be nil.
func NewJobs(service *Service, recorder Recorder) *Jobs {
	return &Jobs{
		service:   service,
		recorder:  recorder,
		retention: defaultRetention,
		jobs:      make(map[string]*job),
	}
}

// Start validates the request and runs it in the background
func (j *Jobs) Start(req Request) (string, error) {
	if err := j.service.Validate(req); err != nil {
		return "", err
	}

	req.ID = uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	entry := &job{
		Job: Job{
			ID:        req.ID,
			Status:    StatusRunning,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	j.mu.Lock()
	j.prune()
	j.jobs[req.ID] = entry
	j.mu.Unlock()

	go j.run(ctx, entry, req)

	return req.ID, nil
}

func (j *Jobs) run(ctx context.Context, entry *job, req Request) {
	defer close(entry.done)
	defer entry.cancel()

	progress := func(processed, total int) {
		j.mu.Lock()
		entry.Processed = processed
		entry.Total = total
		j.mu.Unlock()
	}

	result, err := j.service.Run(ctx, req, progress)

	finished := time.Now().UTC()
	j.mu.Lock()
	entry.FinishedAt = &finished
	switch {
	case err != nil && ctx.Err() != nil:
		entry.Status = StatusCancelled
		entry.Error = err.Error()
	case err != nil:
		entry.Status = StatusFailed
		entry.Error = err.Error()
	case result.Cancelled:
		entry.Status = StatusCancelled
		entry.Result = result
	default:
		entry.Status = StatusDone
		entry.Result = result
	}
	j.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("analysis", req.ID).Msg("Analysis failed")
		return
	}

	if j.recorder != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := j.recorder.Save(saveCtx, result); err != nil {
			log.Error().Err(err).Str("analysis", req.ID).Msg("Failed to save analysis")
		}
	}
}

// Get returns a snapshot of a job
func (j *Jobs) Get(id string) (Job, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entry, ok := j.jobs[id]
	if !ok {
		return Job{}, false
	}
	return entry.Job, true
}

// Cancel stops a running job. The segments priced so far still produce a plan.
func (j *Jobs) Cancel(id string) bool {
	j.mu.RLock()
	entry, ok := j.jobs[id]
	j.mu.RUnlock()

	if !ok {
		return false
	}
	entry.cancel()
	return true
}

// Wait blocks until the job finished or ctx is done
func (j *Jobs) Wait(ctx context.Context, id string) (Job, error) {
	j.mu.RLock()
	entry, ok := j.jobs[id]
	j.mu.RUnlock()

	if !ok {
		return Job{}, errors.New("unknown analysis")
	}

	select {
	case <-entry.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}

	snapshot, _ := j.Get(id)
	return snapshot, nil
}

// Shutdown cancels every running job and waits for them to finish
func (j *Jobs) Shutdown(ctx context.Context) error {
	j.mu.RLock()
	running := make([]*job, 0, len(j.jobs))
	for _, entry := range j.jobs {
		if entry.Status == StatusRunning {
			running = append(running, entry)
		}
	}
	j.mu.RUnlock()

	for _, entry := range running {
		entry.cancel()
	}
	for _, entry := range running {
		select {
		case <-entry.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// prune drops finished jobs older than the retention. Caller holds mu.
func (j *Jobs) prune() {
	cutoff := time.Now().Add(-j.retention)
	for id, entry := range j.jobs {
		if entry.FinishedAt != nil && entry.FinishedAt.Before(cutoff) {
			delete(j.jobs, id)
		}
	}
}
