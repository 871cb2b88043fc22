package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketpulse/pkg/models"
)

// DomainStore persists the external-facing pipeline entities (feed sources,
// raw items, processed content, analyses, predictions) in the same database
// as the queue, using a separate *gorm.DB handle so AutoMigrate ownership
// stays with the caller that constructed it.
type DomainStore struct {
	db *gorm.DB
}

// NewDomainStore wraps an already-open *gorm.DB (typically shared with
// JobStore's connection) and migrates the domain tables.
func NewDomainStore(db *gorm.DB) (*DomainStore, error) {
	if err := db.AutoMigrate(
		&models.FeedSource{},
		&models.RawFeedItem{},
		&models.ProcessedContent{},
		&models.DailyAnalysis{},
		&models.Prediction{},
	); err != nil {
		return nil, fmt.Errorf("domain schema migration failed: %w", err)
	}
	return &DomainStore{db: db}, nil
}

func (s *DomainStore) ListActiveFeedSources(ctx context.Context) ([]models.FeedSource, error) {
	var sources []models.FeedSource
	result := s.db.WithContext(ctx).Where("active = ?", true).Find(&sources)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list feed sources: %w", result.Error)
	}
	return sources, nil
}

func (s *DomainStore) MarkFeedSourceProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.FeedSource{}).
		Where("id = ?", id).
		Update("last_processed_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to mark feed source processed: %w", result.Error)
	}
	return nil
}

// UpsertRawFeedItem inserts the item if (source_id, external_id) is new.
// Returns true when a new row was inserted.
func (s *DomainStore) UpsertRawFeedItem(ctx context.Context, item *models.RawFeedItem) (bool, error) {
	err := s.db.WithContext(ctx).
		Where("source_id = ? AND external_id = ?", item.SourceID, item.ExternalID).
		FirstOrCreate(item).Error
	if err != nil {
		return false, fmt.Errorf("failed to upsert raw feed item: %w", err)
	}
	return item.CreatedAt.After(time.Now().Add(-5 * time.Second)), nil
}

func (s *DomainStore) GetRawFeedItem(ctx context.Context, id uuid.UUID) (*models.RawFeedItem, error) {
	var item models.RawFeedItem
	result := s.db.WithContext(ctx).First(&item, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("raw feed item %s: %w", id, gorm.ErrRecordNotFound)
		}
		return nil, result.Error
	}
	return &item, nil
}

func (s *DomainStore) MarkRawFeedItemStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.RawFeedItem{}).
		Where("id = ?", id).
		Update("processing_status", status)
	return wrapUpdateErr(result, "raw feed item status")
}

func (s *DomainStore) SetRawFeedItemTranscript(ctx context.Context, id uuid.UUID, transcript string) error {
	result := s.db.WithContext(ctx).
		Model(&models.RawFeedItem{}).
		Where("id = ?", id).
		Update("transcript", transcript)
	return wrapUpdateErr(result, "raw feed item transcript")
}

func (s *DomainStore) CreateProcessedContent(ctx context.Context, pc *models.ProcessedContent) error {
	if err := s.db.WithContext(ctx).Create(pc).Error; err != nil {
		return fmt.Errorf("failed to create processed content: %w", err)
	}
	return nil
}

func (s *DomainStore) ListProcessedContentForDate(ctx context.Context, date string) ([]models.ProcessedContent, error) {
	var rows []models.ProcessedContent
	result := s.db.WithContext(ctx).
		Joins("JOIN raw_feed_items ON raw_feed_items.id = processed_content.raw_feed_id").
		Where("raw_feed_items.published_at::date = ?", date).
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list processed content for %s: %w", date, result.Error)
	}
	return rows, nil
}

// UpsertDailyAnalysis inserts a new analysis for the date. When force is
// true, a new versioned row is always inserted (version = max+1); otherwise
// an existing row for the date is left untouched and this is a no-op.
func (s *DomainStore) UpsertDailyAnalysis(ctx context.Context, analysis *models.DailyAnalysis, force bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DailyAnalysis
		err := tx.Where("date = ?", analysis.Date).Order("version desc").First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			analysis.Version = 1
			return tx.Create(analysis).Error
		case err != nil:
			return fmt.Errorf("failed to look up existing analysis: %w", err)
		case !force:
			*analysis = existing
			return nil
		default:
			analysis.Version = existing.Version + 1
			return tx.Create(analysis).Error
		}
	})
}

func (s *DomainStore) GetDailyAnalysis(ctx context.Context, id uuid.UUID) (*models.DailyAnalysis, error) {
	var analysis models.DailyAnalysis
	result := s.db.WithContext(ctx).First(&analysis, "id = ?", id)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get daily analysis %s: %w", id, result.Error)
	}
	return &analysis, nil
}

func (s *DomainStore) CreatePredictions(ctx context.Context, preds []models.Prediction) error {
	if len(preds) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&preds).Error; err != nil {
		return fmt.Errorf("failed to create predictions: %w", err)
	}
	return nil
}

func (s *DomainStore) ListPredictionsForHorizon(ctx context.Context, horizon string) ([]models.Prediction, error) {
	var preds []models.Prediction
	result := s.db.WithContext(ctx).Where("horizon = ?", horizon).Find(&preds)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list predictions for horizon %s: %w", horizon, result.Error)
	}
	return preds, nil
}

func (s *DomainStore) UpdatePredictionRealized(ctx context.Context, id uuid.UUID, realized bool) error {
	result := s.db.WithContext(ctx).
		Model(&models.Prediction{}).
		Where("id = ?", id).
		Update("realized", realized)
	return wrapUpdateErr(result, "prediction realized flag")
}

func wrapUpdateErr(result *gorm.DB, what string) error {
	if result.Error != nil {
		return fmt.Errorf("failed to update %s: %w", what, result.Error)
	}
	return nil
}
