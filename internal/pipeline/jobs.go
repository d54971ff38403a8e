package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// Job states.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job tracks one asynchronous processing run.
type Job struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Result     *Result   `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Jobs runs processing in the background and answers status polls.
// Finished jobs are kept for a retention window, then swept.
type Jobs struct {
	pipeline  *Pipeline
	logger    *zap.Logger
	retention time.Duration
	timeout   time.Duration

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewJobs creates a registry over the pipeline.
func NewJobs(p *Pipeline, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{
		pipeline:  p,
		logger:    logger,
		retention: time.Hour,
		timeout:   5 * time.Minute,
		jobs:      make(map[string]*Job),
	}
}

// Submit starts a background run and returns the job id immediately.
// The job runs under its own context so finishing the submit request
// does not cancel it.
func (j *Jobs) Submit(url string, opts Options) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    JobPending,
		CreatedAt: time.Now(),
	}
	j.mu.Lock()
	j.jobs[job.ID] = job
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()

		j.setStatus(job.ID, JobRunning)
		result, err := j.pipeline.Process(ctx, url, opts)

		j.mu.Lock()
		defer j.mu.Unlock()
		job.FinishedAt = time.Now()
		if err != nil {
			job.Status = JobFailed
			job.Error = err.Error()
			job.ErrorCode = string(apperrors.CodeOf(err))
			j.logger.Warn("Background processing failed",
				zap.String("job_id", job.ID),
				zap.String("url", url),
				zap.Error(err),
			)
			return
		}
		job.Status = JobCompleted
		job.Result = result
	}()
	return job
}

// Get returns a job by id.
func (j *Jobs) Get(id string) (*Job, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	job, ok := j.jobs[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "job %s not found", id)
	}
	copied := *job
	return &copied, nil
}

func (j *Jobs) setStatus(id, status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if job, ok := j.jobs[id]; ok {
		job.Status = status
	}
}

// Sweep drops finished jobs older than the retention window. The caller
// runs it periodically.
func (j *Jobs) Sweep() int {
	cutoff := time.Now().Add(-j.retention)
	j.mu.Lock()
	defer j.mu.Unlock()
	removed := 0
	for id, job := range j.jobs {
		if job.Status != JobCompleted && job.Status != JobFailed {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			delete(j.jobs, id)
			removed++
		}
	}
	return removed
}

// Wait blocks until all in-flight jobs finish, used during shutdown.
func (j *Jobs) Wait() { j.wg.Wait() }
