package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"marketpulse/pkg/models"
	. "marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

type fakeStore struct {
	storage.JobStore
	enqueued *models.Job
}

func (f *fakeStore) Enqueue(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	f.enqueued = job
	return uuid.New(), nil
}

func TestEngine_Enqueue_AppliesDefaultPriorityAndMaxAttempts(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store)

	if _, err := engine.Enqueue(context.Background(), models.JobTypeFeedFetch, models.Payload{}, EnqueueOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.enqueued.Priority != models.DefaultPriority[models.JobTypeFeedFetch] {
		t.Errorf("expected default priority %d, got %d", models.DefaultPriority[models.JobTypeFeedFetch], store.enqueued.Priority)
	}
	if store.enqueued.MaxAttempts != models.DefaultMaxAttempts[models.JobTypeFeedFetch] {
		t.Errorf("expected default max attempts %d, got %d", models.DefaultMaxAttempts[models.JobTypeFeedFetch], store.enqueued.MaxAttempts)
	}
}

func TestEngine_Enqueue_HonorsExplicitOverrides(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store)

	if _, err := engine.Enqueue(context.Background(), models.JobTypeFeedFetch, models.Payload{}, EnqueueOptions{Priority: 9, MaxAttempts: 1, DedupKey: "feed:123"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.enqueued.Priority != 9 {
		t.Errorf("expected priority 9, got %d", store.enqueued.Priority)
	}
	if store.enqueued.MaxAttempts != 1 {
		t.Errorf("expected max attempts 1, got %d", store.enqueued.MaxAttempts)
	}
	if store.enqueued.DedupKey == nil || *store.enqueued.DedupKey != "feed:123" {
		t.Errorf("expected dedup key to be set, got %v", store.enqueued.DedupKey)
	}
}

func TestEngine_Enqueue_RejectsOversizedPayload(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store)

	big := models.Payload{"blob": make([]byte, models.MaxPayloadBytes)}
	_, err := engine.Enqueue(context.Background(), models.JobTypeContentProcess, big, EnqueueOptions{})
	if err != ErrPayloadTooLarge {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestBackoff_IncreasesWithAttemptsAndRespectsCap(t *testing.T) {
	first := Backoff(1)
	later := Backoff(10)

	if later < first {
		t.Errorf("expected backoff to grow with attempts: attempt 1 = %v, attempt 10 = %v", first, later)
	}
	if later > time.Hour+30*time.Second {
		t.Errorf("expected backoff to respect the cap, got %v", later)
	}
}

func TestBackoff_ClampsNonPositiveAttempts(t *testing.T) {
	if Backoff(0) > time.Minute {
		t.Errorf("expected attempt 0 to behave like attempt 1, got %v", Backoff(0))
	}
}
