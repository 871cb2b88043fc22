package handlers

import (
	"context"
	"errors"
	"testing"

	"marketpulse/pkg/models"
)

type fakeReconciler struct{ err error }

func (f *fakeReconciler) Reconcile(ctx context.Context) error { return f.err }

func TestCleanupHandler_Run_SuccessWhenReconcileSucceeds(t *testing.T) {
	h := &CleanupHandler{Reconciler: &fakeReconciler{}}
	result := h.Run(context.Background(), &models.Job{})
	if result.Outcome != Ok {
		t.Errorf("expected Ok outcome, got %v", result)
	}
}

func TestCleanupHandler_Run_TransientOnReconcileFailure(t *testing.T) {
	h := &CleanupHandler{Reconciler: &fakeReconciler{err: errors.New("db unavailable")}}
	result := h.Run(context.Background(), &models.Job{})
	if result.Outcome != TransientError {
		t.Errorf("expected transient outcome, got %v", result)
	}
}
