package handlers

import (
	"context"
	"fmt"
	"time"

	"marketpulse/pkg/adapters/feed"
	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
	"marketpulse/pkg/storage/archive"
)

// FeedFetchHandler calls the feed adapter, upserts raw items, and enqueues
// podcast_transcription for each newly-seen item with an audio URL, or
// content_process for each other newly-seen item.
type FeedFetchHandler struct {
	Domain  storage.DomainStore
	Engine  *queue.Engine
	Fetcher feed.Fetcher
	Archive archive.ContentArchive
}

func (h *FeedFetchHandler) Run(ctx context.Context, job *models.Job) Result {
	sourceID, ok := job.Payload["source_id"].(string)
	if !ok || sourceID == "" {
		return Permanent(fmt.Errorf("feed_fetch payload missing source_id"))
	}

	sources, err := h.Domain.ListActiveFeedSources(ctx)
	if err != nil {
		return Transient(fmt.Errorf("failed to list feed sources: %w", err))
	}

	var source *models.FeedSource
	for i := range sources {
		if sources[i].ID.String() == sourceID {
			source = &sources[i]
			break
		}
	}
	if source == nil {
		return Permanent(fmt.Errorf("feed source %s not found or inactive", sourceID))
	}

	items, err := h.Fetcher.Fetch(ctx, *source)
	if err != nil {
		return Transient(fmt.Errorf("failed to fetch feed: %w", err))
	}

	for _, item := range items {
		raw := &models.RawFeedItem{
			SourceID:         source.ID,
			ExternalID:       item.ExternalID,
			Title:            item.Title,
			Body:             item.Body,
			AudioURL:         item.AudioURL,
			ProcessingStatus: models.ProcessingPending,
		}
		if !item.PublishedAt.IsZero() {
			raw.PublishedAt = &item.PublishedAt
		}

		if len(raw.Body) > models.MaxPayloadBytes && h.Archive != nil {
			uri, err := h.Archive.Store(ctx, raw.ExternalID, []byte(raw.Body))
			if err != nil {
				return Transient(fmt.Errorf("failed to archive oversized item body: %w", err))
			}
			raw.ArchiveURI = uri
			raw.Body = ""
		}

		inserted, err := h.Domain.UpsertRawFeedItem(ctx, raw)
		if err != nil {
			return Transient(fmt.Errorf("failed to upsert raw feed item: %w", err))
		}
		if !inserted {
			continue
		}

		dedup := raw.ID.String()
		if raw.AudioURL != "" {
			if _, err := h.Engine.Enqueue(ctx, models.JobTypePodcastTranscription, models.Payload{
				"raw_feed_id": raw.ID.String(),
				"audio_url":   raw.AudioURL,
			}, queue.EnqueueOptions{DedupKey: dedup}); err != nil {
				return Transient(fmt.Errorf("failed to enqueue podcast_transcription: %w", err))
			}
			continue
		}

		if _, err := h.Engine.Enqueue(ctx, models.JobTypeContentProcess, models.Payload{
			"raw_feed_id": raw.ID.String(),
		}, queue.EnqueueOptions{DedupKey: dedup}); err != nil {
			return Transient(fmt.Errorf("failed to enqueue content_process: %w", err))
		}
	}

	if err := h.Domain.MarkFeedSourceProcessed(ctx, source.ID, time.Now()); err != nil {
		return Transient(fmt.Errorf("failed to mark feed source processed: %w", err))
	}

	return Success()
}
