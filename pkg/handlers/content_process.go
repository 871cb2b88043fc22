package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"marketpulse/pkg/adapters/content"
	"marketpulse/pkg/models"
	"marketpulse/pkg/storage"
	"marketpulse/pkg/storage/archive"
)

// ContentProcessHandler loads a raw item, runs the content processor, and
// persists the structured result.
type ContentProcessHandler struct {
	Domain    storage.DomainStore
	Processor content.Processor
	Archive   archive.ContentArchive
}

func (h *ContentProcessHandler) Run(ctx context.Context, job *models.Job) Result {
	rawIDStr, ok := job.Payload["raw_feed_id"].(string)
	if !ok || rawIDStr == "" {
		return Permanent(fmt.Errorf("content_process payload missing raw_feed_id"))
	}
	rawID, err := uuid.Parse(rawIDStr)
	if err != nil {
		return Permanent(fmt.Errorf("content_process payload has invalid raw_feed_id: %w", err))
	}

	item, err := h.Domain.GetRawFeedItem(ctx, rawID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Permanent(fmt.Errorf("raw feed item %s does not exist: %w", rawID, err))
		}
		return Transient(fmt.Errorf("failed to load raw feed item: %w", err))
	}

	body := item.Body
	if body == "" && item.ArchiveURI != "" && h.Archive != nil {
		data, err := h.Archive.Retrieve(ctx, item.ArchiveURI)
		if err != nil {
			return Transient(fmt.Errorf("failed to retrieve archived body: %w", err))
		}
		body = string(data)
	}

	if item.Transcript != "" {
		body = body + "\n" + item.Transcript
	}

	processed, err := h.Processor.Process(ctx, item.Title, body)
	if err != nil {
		return Transient(fmt.Errorf("content processor failed: %w", err))
	}

	pc := &models.ProcessedContent{
		RawFeedID: item.ID,
		Sentiment: processed.Sentiment,
		Entities:  processed.Entities,
		Summary:   processed.Summary,
	}
	if err := h.Domain.CreateProcessedContent(ctx, pc); err != nil {
		return Transient(fmt.Errorf("failed to persist processed content: %w", err))
	}

	if err := h.Domain.MarkRawFeedItemStatus(ctx, item.ID, models.ProcessingCompleted); err != nil {
		return Transient(fmt.Errorf("failed to mark raw feed item completed: %w", err))
	}

	return Success()
}
