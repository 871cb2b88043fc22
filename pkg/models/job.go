package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobType is a short string drawn from the closed registry of job types the
// handler registry knows how to run.
type JobType string

const (
	JobTypeFeedFetch             JobType = "feed_fetch"
	JobTypeContentProcess        JobType = "content_process"
	JobTypePodcastTranscription  JobType = "podcast_transcription"
	JobTypeDailyAnalysis         JobType = "daily_analysis"
	JobTypeGeneratePredictions   JobType = "generate_predictions"
	JobTypePredictionCompare     JobType = "prediction_compare"
	JobTypeCleanup               JobType = "cleanup"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetry      JobStatus = "retry"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsOpen reports whether a job in this status still occupies a dedup slot
// and is eligible for future dequeue.
func (s JobStatus) IsOpen() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusRetry:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a job in this status will never transition again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Payload is the structured JSON bag carried by a job, schema defined per
// job_type. Implements Scanner/Valuer so GORM can round-trip it through the
// jsonb column.
type Payload map[string]interface{}

func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = Payload{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, p)
}

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal(Payload{})
	}
	return json.Marshal(p)
}

// MaxPayloadBytes is the enqueue-time size boundary; larger payloads are
// rejected by the queue engine rather than the store.
const MaxPayloadBytes = 64 * 1024

// DefaultMaxAttempts holds the per-type retry ceilings of the handler
// registry table.
var DefaultMaxAttempts = map[JobType]int{
	JobTypeFeedFetch:            5,
	JobTypeContentProcess:       5,
	JobTypePodcastTranscription: 4,
	JobTypeDailyAnalysis:        3,
	JobTypeGeneratePredictions:  3,
	JobTypePredictionCompare:    3,
	JobTypeCleanup:              1,
}

// DefaultPriority holds the fixed priorities from the pipeline table; lower
// values are dequeued first.
var DefaultPriority = map[JobType]int{
	JobTypeFeedFetch:            1,
	JobTypeContentProcess:       2,
	JobTypeDailyAnalysis:        1,
	JobTypeGeneratePredictions:  3,
	JobTypePodcastTranscription: 4,
	JobTypePredictionCompare:    5,
	JobTypeCleanup:              10,
}

// Job is a single unit of queued work. The queue engine is the only
// component permitted to mutate these rows.
type Job struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Type         JobType        `json:"job_type" gorm:"column:job_type;type:varchar(40);not null;index:idx_jobs_type_status"`
	Payload      Payload        `json:"payload" gorm:"type:jsonb"`
	Priority     int            `json:"priority" gorm:"not null;default:5;index:idx_jobs_dispatch"`
	Status       JobStatus      `json:"status" gorm:"type:varchar(20);not null;default:'pending';index:idx_jobs_type_status;index:idx_jobs_dispatch"`
	Attempts     int            `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts  int            `json:"max_attempts" gorm:"not null;default:3"`
	ScheduledAt  time.Time      `json:"scheduled_at" gorm:"not null;index:idx_jobs_dispatch"`
	StartedAt    *time.Time     `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
	ErrorMessage string         `json:"error_message"`
	WorkerID     *string        `json:"worker_id"`
	DedupKey     *string        `json:"dedup_key,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Job) TableName() string { return "jobs" }

func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return
}

// CacheEntry is a content-addressed memoization of an expensive handler
// computation (AI calls, transcription, feed HTTP responses).
type CacheEntry struct {
	Key       string    `json:"key" gorm:"primaryKey;type:varchar(64)"`
	Value     Payload   `json:"value" gorm:"type:jsonb"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
}

func (CacheEntry) TableName() string { return "cache" }

// Worker is a heartbeat row announcing a worker process is alive. Staleness
// of this row (see reaper) is how the system distinguishes a slow handler
// from a dead worker.
type Worker struct {
	ID       string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Hostname string    `json:"hostname"`
	LastSeen time.Time `json:"last_seen" gorm:"not null;index"`
}

func (Worker) TableName() string { return "workers" }
