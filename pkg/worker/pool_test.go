package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketpulse/pkg/handlers"
	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

type nopJobStore struct{ storage.JobStore }
type nopHeartbeatStore struct{ storage.HeartbeatStore }

func newTestPool() *Pool {
	registry := handlers.NewRegistry()
	registry.Register(models.JobTypeCleanup, handlers.Entry{
		Handler:        handlers.HandlerFunc(func(ctx context.Context, job *models.Job) handlers.Result { return handlers.Success() }),
		MaxConcurrency: 1,
		Timeout:        time.Second,
	})
	engine := queue.NewEngine(&nopJobStore{})
	return New(engine, registry, &nopHeartbeatStore{}, 1, time.Millisecond)
}

func TestPool_PauseResume(t *testing.T) {
	p := newTestPool()
	if p.Paused() {
		t.Fatal("expected new pool to start unpaused")
	}
	p.Pause()
	if !p.Paused() {
		t.Error("expected Paused() to report true after Pause()")
	}
	p.Resume()
	if p.Paused() {
		t.Error("expected Paused() to report false after Resume()")
	}
}

type fakePauseStore struct {
	paused bool
	err    error
}

func (f *fakePauseStore) IsPaused(ctx context.Context) (bool, error) { return f.paused, f.err }

func TestPool_SyncPause_AdoptsSharedFlag(t *testing.T) {
	p := newTestPool()
	store := &fakePauseStore{paused: true}
	p.SetPauseStore(store)

	p.syncPause(context.Background())

	if !p.Paused() {
		t.Error("expected syncPause to adopt the shared pause flag")
	}
}

func TestPool_SyncPause_IgnoresErrorsAndKeepsPriorState(t *testing.T) {
	p := newTestPool()
	p.Pause()
	p.SetPauseStore(&fakePauseStore{err: errors.New("redis down")})

	p.syncPause(context.Background())

	if !p.Paused() {
		t.Error("expected syncPause to leave local state untouched on error")
	}
}

func TestPool_SyncPause_NoopWithoutStore(t *testing.T) {
	p := newTestPool()
	p.syncPause(context.Background())
	if p.Paused() {
		t.Error("expected syncPause with no pause store configured to be a no-op")
	}
}

func TestPool_Invoke_ReturnsHandlerResult(t *testing.T) {
	p := newTestPool()
	h := handlers.HandlerFunc(func(ctx context.Context, job *models.Job) handlers.Result { return handlers.Success() })

	result := p.invoke(context.Background(), h, &models.Job{}, time.Second)
	if result.Outcome != handlers.Ok {
		t.Errorf("expected Ok outcome, got %v", result)
	}
}

func TestPool_Invoke_TimesOutAsTransient(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises the 5s grace period, skipped in -short runs")
	}
	p := newTestPool()
	block := make(chan struct{})
	h := handlers.HandlerFunc(func(ctx context.Context, job *models.Job) handlers.Result {
		<-block // never returns within the grace period
		return handlers.Success()
	})
	defer close(block)

	result := p.invoke(context.Background(), h, &models.Job{}, 10*time.Millisecond)
	if result.Outcome != handlers.TransientError {
		t.Errorf("expected transient timeout error, got %v", result)
	}
}
