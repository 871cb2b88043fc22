package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketpulse/pkg/models"
)

// HeartbeatStore tracks live workers in the `workers` table so the reaper
// can tell a slow handler from a dead worker.
type HeartbeatStore struct {
	db *gorm.DB
}

func NewHeartbeatStore(db *gorm.DB) *HeartbeatStore {
	return &HeartbeatStore{db: db}
}

func (s *HeartbeatStore) Heartbeat(ctx context.Context, workerID, hostname string) error {
	w := models.Worker{ID: workerID, Hostname: hostname, LastSeen: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hostname", "last_seen"}),
	}).Create(&w).Error
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

func (s *HeartbeatStore) LiveWorkerIDs(ctx context.Context, staleAfter time.Time) ([]string, error) {
	var ids []string
	result := s.db.WithContext(ctx).Model(&models.Worker{}).
		Where("last_seen >= ?", staleAfter).
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list live workers: %w", result.Error)
	}
	return ids, nil
}

func (s *HeartbeatStore) Forget(ctx context.Context, workerID string) error {
	if err := s.db.WithContext(ctx).Delete(&models.Worker{}, "id = ?", workerID).Error; err != nil {
		return fmt.Errorf("failed to forget worker %s: %w", workerID, err)
	}
	return nil
}
