package handlers

import (
	"context"

	"marketpulse/pkg/models"
)

// Reconciler runs the reaper's stuck-row/terminal-row/cache sweep on
// demand. Satisfied by *marketpulse/pkg/reaper.Core.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// CleanupHandler is the job_type=cleanup handler the producer enqueues
// hourly; it delegates to the same reconcile pass the reaper's own ticker
// runs, so a worker picking up the job performs an out-of-band sweep
// without waiting for the next reaper tick.
type CleanupHandler struct {
	Reconciler Reconciler
}

func (h *CleanupHandler) Run(ctx context.Context, job *models.Job) Result {
	if err := h.Reconciler.Reconcile(ctx); err != nil {
		return Transient(err)
	}
	return Success()
}
