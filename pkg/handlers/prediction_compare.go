package handlers

import (
	"context"
	"fmt"

	"marketpulse/pkg/models"
	"marketpulse/pkg/storage"
)

// PredictionCompareHandler compares matured predictions for a horizon
// against realized outcomes supplied in the job payload (the realized
// feed is an out-of-scope external collaborator; the handler only
// persists the comparison result it is handed).
type PredictionCompareHandler struct {
	Domain storage.DomainStore
}

func (h *PredictionCompareHandler) Run(ctx context.Context, job *models.Job) Result {
	horizon, ok := job.Payload["horizon"].(string)
	if !ok || horizon == "" {
		return Permanent(fmt.Errorf("prediction_compare payload missing horizon"))
	}

	preds, err := h.Domain.ListPredictionsForHorizon(ctx, horizon)
	if err != nil {
		return Transient(fmt.Errorf("failed to list predictions for horizon %s: %w", horizon, err))
	}

	outcomes, _ := job.Payload["outcomes"].(map[string]interface{})
	for _, pred := range preds {
		realized, ok := outcomes[pred.ID.String()].(bool)
		if !ok {
			continue
		}
		if err := h.Domain.UpdatePredictionRealized(ctx, pred.ID, realized); err != nil {
			return Transient(fmt.Errorf("failed to record realized outcome: %w", err))
		}
	}

	return Success()
}
