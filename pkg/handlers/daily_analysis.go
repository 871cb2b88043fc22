package handlers

import (
	"context"
	"fmt"

	aiadapter "marketpulse/pkg/adapters/ai"
	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

// Analyzer is the external collaborator the daily_analysis handler calls.
type Analyzer interface {
	Analyze(ctx context.Context, date string, summaries []string) (aiadapter.AnalysisResult, error)
}

var _ Analyzer = (*aiadapter.Client)(nil)

// DailyAnalysisHandler aggregates the day's processed content, invokes the
// analyzer, and enqueues generate_predictions once the analysis is
// persisted.
type DailyAnalysisHandler struct {
	Domain   storage.DomainStore
	Engine   *queue.Engine
	Analyzer Analyzer
}

func (h *DailyAnalysisHandler) Run(ctx context.Context, job *models.Job) Result {
	date, ok := job.Payload["date"].(string)
	if !ok || date == "" {
		return Permanent(fmt.Errorf("daily_analysis payload missing date"))
	}
	force, _ := job.Payload["force"].(bool)

	content, err := h.Domain.ListProcessedContentForDate(ctx, date)
	if err != nil {
		return Transient(fmt.Errorf("failed to load processed content for %s: %w", date, err))
	}

	summaries := make([]string, 0, len(content))
	for _, c := range content {
		summaries = append(summaries, c.Summary)
	}

	result, err := h.Analyzer.Analyze(ctx, date, summaries)
	if err != nil {
		return Transient(fmt.Errorf("analyzer failed: %w", err))
	}

	analysis := &models.DailyAnalysis{
		Date:       date,
		Sentiment:  result.Sentiment,
		Themes:     result.Themes,
		Summary:    result.Summary,
		Confidence: result.Confidence,
	}
	if err := h.Domain.UpsertDailyAnalysis(ctx, analysis, force); err != nil {
		return Transient(fmt.Errorf("failed to persist daily analysis: %w", err))
	}

	if _, err := h.Engine.Enqueue(ctx, models.JobTypeGeneratePredictions, models.Payload{
		"analysis_id": analysis.ID.String(),
	}, queue.EnqueueOptions{Delay: fiveMinutes, DedupKey: analysis.ID.String()}); err != nil {
		return Transient(fmt.Errorf("failed to enqueue generate_predictions: %w", err))
	}

	return Success()
}
