package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"

	aiadapter "marketpulse/pkg/adapters/ai"
	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

// Transcriber is the external collaborator the podcast_transcription
// handler calls.
type Transcriber interface {
	Transcribe(ctx context.Context, audioFilePath string) (string, error)
}

var _ Transcriber = (*aiadapter.Client)(nil)

// PodcastTranscriptionHandler downloads the episode audio, transcribes it,
// and hands the item off to content_process.
type PodcastTranscriptionHandler struct {
	Domain      storage.DomainStore
	Engine      *queue.Engine
	Transcriber Transcriber
	HTTPClient  *http.Client
}

func (h *PodcastTranscriptionHandler) Run(ctx context.Context, job *models.Job) Result {
	rawIDStr, _ := job.Payload["raw_feed_id"].(string)
	audioURL, _ := job.Payload["audio_url"].(string)
	if rawIDStr == "" || audioURL == "" {
		return Permanent(fmt.Errorf("podcast_transcription payload missing raw_feed_id or audio_url"))
	}
	rawID, err := uuid.Parse(rawIDStr)
	if err != nil {
		return Permanent(fmt.Errorf("podcast_transcription payload has invalid raw_feed_id: %w", err))
	}

	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	tmpFile, err := os.CreateTemp("", "podcast-*.audio")
	if err != nil {
		return Transient(fmt.Errorf("failed to create temp file: %w", err))
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return Permanent(fmt.Errorf("invalid audio url: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("failed to download audio: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Transient(fmt.Errorf("audio download returned status %d", resp.StatusCode))
	}
	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return Transient(fmt.Errorf("failed to save audio: %w", err))
	}

	transcript, err := h.Transcriber.Transcribe(ctx, tmpFile.Name())
	if err != nil {
		return Transient(fmt.Errorf("transcription failed: %w", err))
	}

	if err := h.Domain.SetRawFeedItemTranscript(ctx, rawID, transcript); err != nil {
		return Transient(fmt.Errorf("failed to persist transcript: %w", err))
	}

	if _, err := h.Engine.Enqueue(ctx, models.JobTypeContentProcess, models.Payload{
		"raw_feed_id": rawIDStr,
	}, queue.EnqueueOptions{DedupKey: rawIDStr}); err != nil {
		return Transient(fmt.Errorf("failed to enqueue content_process: %w", err))
	}

	return Success()
}
