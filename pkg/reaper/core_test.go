package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

type fakeJobStore struct {
	storage.JobStore
	stuck        []models.Job
	reapErr      error
	failed       []uuid.UUID
	prunedCutoff time.Time
	pruneCount   int64
	stats        storage.Stats
	oldestAge    time.Duration
}

func (f *fakeJobStore) ReapStuck(ctx context.Context, deadline, staleAfter time.Time) ([]models.Job, error) {
	return f.stuck, f.reapErr
}

func (f *fakeJobStore) Fail(ctx context.Context, jobID uuid.UUID, workerID, errMsg string, nextRunAt time.Time, exhausted bool) error {
	f.failed = append(f.failed, jobID)
	return nil
}

func (f *fakeJobStore) PruneTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	f.prunedCutoff = olderThan
	return f.pruneCount, nil
}

func (f *fakeJobStore) Stats(ctx context.Context) (storage.Stats, error) { return f.stats, nil }

func (f *fakeJobStore) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	return f.oldestAge, nil
}

type fakeHeartbeatStore struct {
	storage.HeartbeatStore
	live []string
}

func (f *fakeHeartbeatStore) LiveWorkerIDs(ctx context.Context, staleAfter time.Time) ([]string, error) {
	return f.live, nil
}

type fakeCache struct {
	cleaned int64
	err     error
}

func (f *fakeCache) Cleanup(ctx context.Context) (int64, error) { return f.cleaned, f.err }

func TestReconcile_ReapsStuckJobsAndPrunesTerminalRows(t *testing.T) {
	store := &fakeJobStore{
		stuck:      []models.Job{{ID: uuid.New()}, {ID: uuid.New()}},
		pruneCount: 5,
	}
	core := NewCore(queue.NewEngine(store), store, &fakeHeartbeatStore{}, &fakeCache{}, time.Minute, 30*time.Second, 7)

	if err := core.Reconcile(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.failed) != 2 {
		t.Errorf("expected both stuck jobs to be failed/requeued, got %d", len(store.failed))
	}
	wantCutoff := time.Now().Add(-7 * 24 * time.Hour)
	if d := store.prunedCutoff.Sub(wantCutoff); d < -time.Minute || d > time.Minute {
		t.Errorf("expected prune cutoff near %v (7-day retention), got %v", wantCutoff, store.prunedCutoff)
	}
}

func TestReconcile_SkipsCacheCleanupWhenNilCache(t *testing.T) {
	store := &fakeJobStore{}
	core := NewCore(queue.NewEngine(store), store, &fakeHeartbeatStore{}, nil, time.Minute, 30*time.Second, 7)

	if err := core.Reconcile(context.Background()); err != nil {
		t.Fatalf("expected a nil cache to be tolerated, got %v", err)
	}
}

func TestReconcile_PropagatesReapStuckErrorsButNotCacheErrors(t *testing.T) {
	failing := &fakeJobStore{reapErr: errors.New("db unavailable")}
	core := NewCore(queue.NewEngine(failing), failing, &fakeHeartbeatStore{}, &fakeCache{}, time.Minute, 30*time.Second, 7)

	if err := core.Reconcile(context.Background()); err == nil {
		t.Error("expected a ReapStuck error to be returned from Reconcile")
	}

	store := &fakeJobStore{}
	core = NewCore(queue.NewEngine(store), store, &fakeHeartbeatStore{}, &fakeCache{err: errors.New("redis unavailable")}, time.Minute, 30*time.Second, 7)

	if err := core.Reconcile(context.Background()); err != nil {
		t.Fatalf("expected a cache cleanup error to be logged, not returned, got %v", err)
	}
}
