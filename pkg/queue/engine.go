// Package queue layers enqueue/dequeue policy (default priorities and
// retry ceilings, backoff computation, payload-size validation) on top of
// the raw row mutations in pkg/storage/postgres, the way the teacher's
// pkg/scheduler layered business rules on top of pkg/storage/postgres.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"marketpulse/pkg/models"
	"marketpulse/pkg/storage"
)

const (
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour
)

var ErrPayloadTooLarge = fmt.Errorf("payload exceeds %d bytes", models.MaxPayloadBytes)

// Engine is the public API the worker pool, producers, and management API
// call; it never touches SQL directly.
type Engine struct {
	store storage.JobStore
}

func NewEngine(store storage.JobStore) *Engine {
	return &Engine{store: store}
}

// EnqueueOptions configures a single enqueue call; zero values fall back to
// the per-type defaults of the handler registry table.
type EnqueueOptions struct {
	Priority    int
	Delay       time.Duration
	DedupKey    string
	MaxAttempts int
}

// Enqueue validates the payload, applies per-type defaults, and inserts a
// new pending job (or returns the id of the open row the dedup key already
// names).
func (e *Engine) Enqueue(ctx context.Context, jobType models.JobType, payload models.Payload, opts EnqueueOptions) (uuid.UUID, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if len(encoded) > models.MaxPayloadBytes {
		return uuid.Nil, ErrPayloadTooLarge
	}

	priority := opts.Priority
	if priority == 0 {
		priority = models.DefaultPriority[jobType]
		if priority == 0 {
			priority = 5
		}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = models.DefaultMaxAttempts[jobType]
		if maxAttempts == 0 {
			maxAttempts = 3
		}
	}

	job := &models.Job{
		Type:        jobType,
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		ScheduledAt: time.Now().Add(opts.Delay),
	}
	// A forced daily_analysis re-run always gets its own row rather than
	// folding into an open row for the same date.
	if force, _ := payload["force"].(bool); force && jobType == models.JobTypeDailyAnalysis {
		opts.DedupKey = ""
	}
	if opts.DedupKey != "" {
		key := opts.DedupKey
		job.DedupKey = &key
	}

	return e.store.Enqueue(ctx, job)
}

// Dequeue claims the next eligible job for workerID.
func (e *Engine) Dequeue(ctx context.Context, workerID string, eligibleTypes []models.JobType) (*models.Job, error) {
	return e.store.Dequeue(ctx, workerID, eligibleTypes)
}

func (e *Engine) Complete(ctx context.Context, jobID uuid.UUID, workerID string) error {
	return e.store.Complete(ctx, jobID, workerID)
}

// Fail records a handler failure, computing the next backoff when attempts
// remain, or marking the job terminally failed once max_attempts is hit.
func (e *Engine) Fail(ctx context.Context, job *models.Job, workerID string, errMsg string) error {
	exhausted := job.Attempts >= job.MaxAttempts
	var nextRunAt time.Time
	if !exhausted {
		nextRunAt = time.Now().Add(Backoff(job.Attempts))
	}
	return e.store.Fail(ctx, job.ID, workerID, errMsg, nextRunAt, exhausted)
}

func (e *Engine) Reset(ctx context.Context, jobID uuid.UUID) error {
	return e.store.Reset(ctx, jobID)
}

// Throttle is called by the worker pool when a claimed job's per-type
// semaphore is saturated; it hands the row back without burning an attempt.
func (e *Engine) Throttle(ctx context.Context, jobID uuid.UUID, workerID string, delay time.Duration) error {
	return e.store.Throttle(ctx, jobID, workerID, delay)
}

func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return e.store.Cancel(ctx, jobID)
}

func (e *Engine) Delete(ctx context.Context, jobID uuid.UUID) error {
	return e.store.Delete(ctx, jobID)
}

func (e *Engine) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return e.store.GetJob(ctx, id)
}

func (e *Engine) ListJobs(ctx context.Context, filter storage.JobListFilter) ([]models.Job, int64, error) {
	return e.store.ListJobs(ctx, filter)
}

func (e *Engine) Stats(ctx context.Context) (storage.Stats, error) {
	return e.store.Stats(ctx)
}

// Backoff computes `min(base*2^(attempts-1), cap) + U(0, base)`.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	raw := float64(backoffBase) * math.Pow(2, float64(attempts-1))
	if raw > float64(backoffCap) {
		raw = float64(backoffCap)
	}
	jitter := rand.Float64() * float64(backoffBase)
	return time.Duration(raw + jitter)
}
