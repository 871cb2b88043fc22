package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProcessingStatus tracks a raw feed item through processing, independent of
// any particular job's lifecycle.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingRunning   ProcessingStatus = "running"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
)

// FeedSource is an ingestible content origin polled by the feed_fetch handler.
type FeedSource struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Kind             string     `json:"kind" gorm:"type:varchar(20);not null"` // rss | podcast | api | youtube | reddit
	Endpoint         string     `json:"endpoint" gorm:"not null"`
	Config           Payload    `json:"config" gorm:"type:jsonb"`
	CadenceSeconds   int        `json:"cadence_seconds" gorm:"not null;default:3600"`
	Active           bool       `json:"active" gorm:"not null;default:true"`
	LastProcessedAt  *time.Time `json:"last_processed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (FeedSource) TableName() string { return "feed_sources" }

func (f *FeedSource) BeforeCreate(tx *gorm.DB) (err error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return
}

// RawFeedItem is a normalized, unprocessed item pulled from a feed source.
type RawFeedItem struct {
	ID                uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	SourceID          uuid.UUID        `json:"source_id" gorm:"type:uuid;not null;index:idx_raw_source_external,unique"`
	ExternalID        string           `json:"external_id" gorm:"not null;index:idx_raw_source_external,unique"`
	Title             string           `json:"title"`
	PublishedAt       *time.Time       `json:"published_at"`
	Body              string           `json:"body"`
	AudioURL          string           `json:"audio_url,omitempty"`
	Transcript        string           `json:"transcript,omitempty"`
	ProcessingStatus  ProcessingStatus `json:"processing_status" gorm:"type:varchar(20);not null;default:'pending'"`
	ArchiveURI        string           `json:"archive_uri,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func (RawFeedItem) TableName() string { return "raw_feed_items" }

func (r *RawFeedItem) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// ProcessedContent is the structured output of the content processor for a
// single raw feed item.
type ProcessedContent struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	RawFeedID   uuid.UUID `json:"raw_feed_id" gorm:"type:uuid;not null;index"`
	Sentiment   float64   `json:"sentiment"`
	Entities    Payload   `json:"entities" gorm:"type:jsonb"`
	Summary     string    `json:"summary"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ProcessedContent) TableName() string { return "processed_content" }

func (p *ProcessedContent) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

// DailyAnalysis is the one-per-date aggregate market summary. Version
// increments on a forced re-analysis instead of overwriting in place, so
// prior predictions keep a stable analysis_id to compare against.
type DailyAnalysis struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Date       string    `json:"date" gorm:"type:date;not null;index:idx_analysis_date"`
	Version    int       `json:"version" gorm:"not null;default:1"`
	Sentiment  float64   `json:"sentiment"`
	Themes     Payload   `json:"themes" gorm:"type:jsonb"`
	Summary    string    `json:"summary"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (DailyAnalysis) TableName() string { return "daily_analyses" }

func (d *DailyAnalysis) BeforeCreate(tx *gorm.DB) (err error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return
}

// Prediction is a single forward-looking statement derived from a
// DailyAnalysis.
type Prediction struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	AnalysisID uuid.UUID `json:"analysis_id" gorm:"type:uuid;not null;index"`
	Type       string    `json:"type" gorm:"type:varchar(40)"`
	Horizon    string    `json:"horizon" gorm:"type:varchar(20)"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Data       Payload   `json:"data" gorm:"type:jsonb"`
	Realized   *bool     `json:"realized,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Prediction) TableName() string { return "predictions" }

func (p *Prediction) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
