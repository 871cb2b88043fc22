package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	aiadapter "marketpulse/pkg/adapters/ai"
	"marketpulse/pkg/models"
	"marketpulse/pkg/storage"
)

// Predictor is the external collaborator the generate_predictions handler
// calls.
type Predictor interface {
	Predict(ctx context.Context, summary string) ([]aiadapter.PredictionResult, error)
}

var _ Predictor = (*aiadapter.Client)(nil)

// GeneratePredictionsHandler invokes the predictor against an analysis and
// persists the resulting predictions.
type GeneratePredictionsHandler struct {
	Domain    storage.DomainStore
	Predictor Predictor
}

func (h *GeneratePredictionsHandler) Run(ctx context.Context, job *models.Job) Result {
	analysisIDStr, ok := job.Payload["analysis_id"].(string)
	if !ok || analysisIDStr == "" {
		return Permanent(fmt.Errorf("generate_predictions payload missing analysis_id"))
	}
	analysisID, err := uuid.Parse(analysisIDStr)
	if err != nil {
		return Permanent(fmt.Errorf("generate_predictions payload has invalid analysis_id: %w", err))
	}

	analysis, err := h.Domain.GetDailyAnalysis(ctx, analysisID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Permanent(fmt.Errorf("analysis %s does not exist: %w", analysisID, err))
		}
		return Transient(fmt.Errorf("failed to load analysis: %w", err))
	}

	results, err := h.Predictor.Predict(ctx, analysis.Summary)
	if err != nil {
		return Transient(fmt.Errorf("predictor failed: %w", err))
	}

	preds := make([]models.Prediction, 0, len(results))
	for _, r := range results {
		preds = append(preds, models.Prediction{
			AnalysisID: analysis.ID,
			Type:       r.Type,
			Horizon:    r.Horizon,
			Text:       r.Text,
			Confidence: r.Confidence,
			Data:       r.Data,
		})
	}

	if err := h.Domain.CreatePredictions(ctx, preds); err != nil {
		return Transient(fmt.Errorf("failed to persist predictions: %w", err))
	}

	return Success()
}
