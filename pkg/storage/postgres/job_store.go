package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketpulse/pkg/models"
	"marketpulse/pkg/storage"
)

type JobStore struct {
	db *gorm.DB
}

// NewJobStore opens the connection and AutoMigrates the queue-owned schema.
func NewJobStore(connString string) (*JobStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Job{}, &models.CacheEntry{}, &models.Worker{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_open_dedup
		ON jobs (job_type, dedup_key)
		WHERE dedup_key IS NOT NULL AND status IN ('pending', 'processing', 'retry')
	`).Error; err != nil {
		return nil, fmt.Errorf("dedup index migration failed: %w", err)
	}

	return &JobStore{db: db}, nil
}

// DB exposes the underlying connection so DomainStore and HeartbeatStore can
// share it rather than opening a second pool.
func (s *JobStore) DB() *gorm.DB {
	return s.db
}

func (s *JobStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Enqueue inserts job with status=pending, or returns the existing open
// row's id when a dedup_key collision is suppressed by the partial unique
// index. The caller is expected to have already populated Priority,
// MaxAttempts, and ScheduledAt.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	job.Status = models.JobStatusPending
	job.Attempts = 0

	err := s.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job.ID, nil
	}
	if !isUniqueViolation(err) {
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	// Lost the dedup race: look up the existing open row.
	var existing models.Job
	q := s.db.WithContext(ctx).
		Where("job_type = ? AND dedup_key = ?", job.Type, job.DedupKey).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing, models.JobStatusRetry})
	if err := q.First(&existing).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve dedup collision: %w", err)
	}
	return existing.ID, nil
}

// Dequeue atomically claims the single highest-priority eligible row,
// skipping rows already locked by a concurrent claimant.
func (s *JobStore) Dequeue(ctx context.Context, workerID string, eligibleTypes []models.JobType) (*models.Job, error) {
	var job models.Job
	now := time.Now()

	typeClause := ""
	selectArgs := []interface{}{now}
	if len(eligibleTypes) > 0 {
		typeClause = "AND job_type IN (?)"
		selectArgs = append(selectArgs, eligibleTypes)
	}

	query := fmt.Sprintf(`
		UPDATE jobs
		SET status = 'processing', worker_id = ?, started_at = ?, attempts = attempts + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN ('pending', 'retry')
			  AND scheduled_at <= ?
			  %s
			ORDER BY priority ASC, scheduled_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, typeClause)

	// SET clause placeholders (worker_id, started_at) come first, then the
	// subselect's WHERE clause placeholders.
	fullArgs := append([]interface{}{workerID, now}, selectArgs...)

	result := s.db.WithContext(ctx).Raw(query, fullArgs...).Scan(&job)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &job, nil
}

// Complete marks a held row completed. Returns ErrStateConflict if the
// caller does not hold the row.
func (s *JobStore) Complete(ctx context.Context, jobID uuid.UUID, workerID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND worker_id = ? AND status = ?", jobID, workerID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"completed_at": time.Now(),
			"worker_id":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrStateConflict
	}
	return nil
}

// Fail transitions a held row to retry or, when attempts are exhausted, to
// failed.
func (s *JobStore) Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string, nextRunAt time.Time, exhausted bool) error {
	updates := map[string]interface{}{
		"error_message": truncate(errMsg, 2048),
		"worker_id":     nil,
	}
	if exhausted {
		updates["status"] = models.JobStatusFailed
		updates["completed_at"] = time.Now()
	} else {
		updates["status"] = models.JobStatusRetry
		updates["scheduled_at"] = nextRunAt
	}

	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND worker_id = ? AND status = ?", jobID, workerID, models.JobStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to fail job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrStateConflict
	}
	return nil
}

// Throttle returns a row just claimed by workerID back to pending without
// counting it as an attempt, scheduled d in the future. Used when the
// worker pool's per-type semaphore is saturated at claim time.
func (s *JobStore) Throttle(ctx context.Context, jobID uuid.UUID, workerID string, d time.Duration) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND worker_id = ? AND status = ?", jobID, workerID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.JobStatusPending,
			"attempts":     gorm.Expr("attempts - 1"),
			"scheduled_at": time.Now().Add(d),
			"started_at":   nil,
			"worker_id":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to throttle job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrStateConflict
	}
	return nil
}

// Reset moves any non-terminal row back to pending.
func (s *JobStore) Reset(ctx context.Context, jobID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status NOT IN ?", jobID, []models.JobStatus{
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":       models.JobStatusPending,
			"attempts":     0,
			"scheduled_at": time.Now(),
			"worker_id":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reset job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrStateConflict
	}
	return nil
}

// Cancel moves any non-terminal row to cancelled.
func (s *JobStore) Cancel(ctx context.Context, jobID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status NOT IN ?", jobID, []models.JobStatus{
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCancelled,
			"completed_at": time.Now(),
			"worker_id":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to cancel job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrStateConflict
	}
	return nil
}

func (s *JobStore) Delete(ctx context.Context, jobID uuid.UUID) error {
	result := s.db.WithContext(ctx).Unscoped().Delete(&models.Job{}, "id = ?", jobID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (s *JobStore) ListJobs(ctx context.Context, filter storage.JobListFilter) ([]models.Job, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("job_type = ?", filter.Type)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var jobs []models.Job
	result := q.Order("created_at desc").Limit(limit).Offset(filter.Offset).Find(&jobs)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", result.Error)
	}
	return jobs, total, nil
}

func (s *JobStore) Stats(ctx context.Context) (storage.Stats, error) {
	type row struct {
		JobType models.JobType
		Status  models.JobStatus
		Count   int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Select("job_type, status, count(*) as count").
		Group("job_type, status").
		Scan(&rows).Error
	if err != nil {
		return storage.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}

	stats := storage.Stats{
		ByStatus:        map[models.JobStatus]int64{},
		ByTypeAndStatus: map[models.JobType]map[models.JobStatus]int64{},
	}
	for _, r := range rows {
		stats.ByStatus[r.Status] += r.Count
		if stats.ByTypeAndStatus[r.JobType] == nil {
			stats.ByTypeAndStatus[r.JobType] = map[models.JobStatus]int64{}
		}
		stats.ByTypeAndStatus[r.JobType][r.Status] = r.Count
	}
	return stats, nil
}

// ReapStuck returns processing rows started before deadline whose worker_id
// is not among currently-live workers; the live set is selected here with a
// NOT IN subquery over workers whose last_seen is at or after staleAfter.
func (s *JobStore) ReapStuck(ctx context.Context, deadline time.Time, staleAfter time.Time) ([]models.Job, error) {
	var jobs []models.Job
	result := s.db.WithContext(ctx).
		Where("status = ?", models.JobStatusProcessing).
		Where("started_at < ?", deadline).
		Where("worker_id NOT IN (SELECT id FROM workers WHERE last_seen >= ?)", staleAfter).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list stuck jobs: %w", result.Error)
	}
	return jobs, nil
}

func (s *JobStore) PruneTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Unscoped().
		Where("status IN ?", []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled}).
		Where("completed_at < ?", olderThan).
		Delete(&models.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune terminal jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *JobStore) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	var job models.Job
	now := time.Now()
	result := s.db.WithContext(ctx).
		Where("status IN ? AND scheduled_at <= ?", []models.JobStatus{models.JobStatusPending, models.JobStatusRetry}, now).
		Order("scheduled_at asc").
		Limit(1).
		Find(&job)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to find oldest pending job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, nil
	}
	return now.Sub(job.ScheduledAt), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isUniqueViolation(err error) bool {
	// gorm.io/driver/postgres surfaces the pgx error; string match avoids an
	// extra direct pgconn import just to unwrap the SQLSTATE.
	return err != nil && (containsCode23505(err.Error()))
}

func containsCode23505(msg string) bool {
	for i := 0; i+5 <= len(msg); i++ {
		if msg[i:i+5] == "23505" {
			return true
		}
	}
	return false
}
