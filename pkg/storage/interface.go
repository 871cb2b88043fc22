package storage

import (
	"context"
	"errors"
	"time"

	"marketpulse/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("record already exists")
	ErrStateConflict = errors.New("job is not in the required state")
)

// Stats is the result of JobStore.Stats: overall counts by status, and
// counts by status nested under job type.
type Stats struct {
	ByStatus        map[models.JobStatus]int64                       `json:"by_status"`
	ByTypeAndStatus map[models.JobType]map[models.JobStatus]int64     `json:"by_type_and_status"`
}

// JobListFilter narrows ListJobs.
type JobListFilter struct {
	Status models.JobStatus
	Type   models.JobType
	Limit  int
	Offset int
}

// JobStore is the only component permitted to mutate job rows. All five
// primitive queue operations live here; pkg/queue.Engine layers policy
// (defaults, backoff, validation) on top.
type JobStore interface {
	// Enqueue inserts a new pending job, or returns the id of an existing
	// open row sharing (type, dedup_key) without inserting.
	Enqueue(ctx context.Context, job *models.Job) (uuid.UUID, error)

	// Dequeue atomically claims the highest-priority eligible job for
	// workerID via a locking read that skips rows held by other claimants.
	// Returns (nil, nil) when no row qualifies.
	Dequeue(ctx context.Context, workerID string, eligibleTypes []models.JobType) (*models.Job, error)

	// Complete transitions a row held by workerID to completed.
	Complete(ctx context.Context, jobID uuid.UUID, workerID string) error

	// Fail transitions a row held by workerID to retry (with the given
	// nextRunAt) or, when attempts have been exhausted, to failed.
	Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string, nextRunAt time.Time, exhausted bool) error

	// Reset moves any non-terminal row back to pending, clearing attempts
	// and the current worker. Management-only.
	Reset(ctx context.Context, jobID uuid.UUID) error

	// Throttle returns a freshly claimed row to pending without consuming an
	// attempt, delayed by d. Used when a worker dequeues a job whose
	// per-type semaphore is already full.
	Throttle(ctx context.Context, jobID uuid.UUID, workerID string, d time.Duration) error

	// Cancel moves any non-terminal row to cancelled.
	Cancel(ctx context.Context, jobID uuid.UUID) error

	// Delete removes a job row outright (management surface only).
	Delete(ctx context.Context, jobID uuid.UUID) error

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// ListJobs returns a filtered, paginated job listing.
	ListJobs(ctx context.Context, filter JobListFilter) ([]models.Job, int64, error)

	// Stats aggregates counts by status and by (type, status).
	Stats(ctx context.Context) (Stats, error)

	// ReapStuck returns processing rows whose owning worker's heartbeat is
	// older than staleAfter and whose started_at predates deadline.
	ReapStuck(ctx context.Context, deadline time.Time, staleAfter time.Time) ([]models.Job, error)

	// PruneTerminal deletes terminal rows older than the retention cutoff.
	PruneTerminal(ctx context.Context, olderThan time.Time) (int64, error)

	// OldestPendingAge returns the age of the oldest pending-or-retry row
	// eligible now, or zero if the queue is empty.
	OldestPendingAge(ctx context.Context) (time.Duration, error)
}

// HeartbeatStore tracks live workers for reaper staleness decisions.
type HeartbeatStore interface {
	Heartbeat(ctx context.Context, workerID, hostname string) error
	LiveWorkerIDs(ctx context.Context, staleAfter time.Time) ([]string, error)
	Forget(ctx context.Context, workerID string) error
}

// DomainStore is the data access layer for the external-facing pipeline
// entities (feed sources, raw items, processed content, analyses,
// predictions) that handlers and producers read and write alongside the
// queue engine.
type DomainStore interface {
	ListActiveFeedSources(ctx context.Context) ([]models.FeedSource, error)
	MarkFeedSourceProcessed(ctx context.Context, id uuid.UUID, at time.Time) error

	UpsertRawFeedItem(ctx context.Context, item *models.RawFeedItem) (bool, error)
	GetRawFeedItem(ctx context.Context, id uuid.UUID) (*models.RawFeedItem, error)
	MarkRawFeedItemStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus) error
	SetRawFeedItemTranscript(ctx context.Context, id uuid.UUID, transcript string) error

	CreateProcessedContent(ctx context.Context, pc *models.ProcessedContent) error
	ListProcessedContentForDate(ctx context.Context, date string) ([]models.ProcessedContent, error)

	UpsertDailyAnalysis(ctx context.Context, analysis *models.DailyAnalysis, force bool) error
	GetDailyAnalysis(ctx context.Context, id uuid.UUID) (*models.DailyAnalysis, error)

	CreatePredictions(ctx context.Context, preds []models.Prediction) error
	ListPredictionsForHorizon(ctx context.Context, horizon string) ([]models.Prediction, error)
	UpdatePredictionRealized(ctx context.Context, id uuid.UUID, realized bool) error
}
