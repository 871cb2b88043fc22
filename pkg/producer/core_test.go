package producer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	config "marketpulse/configs"
	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		FeedScanInterval:          time.Minute,
		CleanupCronExpr:           "0 * * * *",
		DailyAnalysisCronExpr:     "0 0 * * *",
		PredictionCompareCronExpr: "0 */6 * * *",
		PredictionHorizon:         "1d",
	}
}

type fakeDomainStore struct {
	storage.DomainStore
	sources []models.FeedSource
}

func (f *fakeDomainStore) ListActiveFeedSources(ctx context.Context) ([]models.FeedSource, error) {
	return f.sources, nil
}

type countingJobStore struct {
	storage.JobStore
	enqueues []models.Job
}

func (c *countingJobStore) Enqueue(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	c.enqueues = append(c.enqueues, *job)
	return uuid.New(), nil
}

func TestScanFeedSources_SkipsSourcesNotYetDue(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	store := &countingJobStore{}
	domain := &fakeDomainStore{sources: []models.FeedSource{
		{ID: uuid.New(), CadenceSeconds: 3600, LastProcessedAt: &recent},
	}}
	core := NewCore(testConfig(), queue.NewEngine(store), domain)

	n, err := core.scanFeedSources(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 || len(store.enqueues) != 0 {
		t.Errorf("expected no enqueues for a source not yet due, got %d", n)
	}
}

func TestScanFeedSources_EnqueuesDueSources(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	store := &countingJobStore{}
	domain := &fakeDomainStore{sources: []models.FeedSource{
		{ID: uuid.New(), CadenceSeconds: 3600, LastProcessedAt: &stale},
		{ID: uuid.New(), CadenceSeconds: 3600, LastProcessedAt: nil},
	}}
	core := NewCore(testConfig(), queue.NewEngine(store), domain)

	n, err := core.scanFeedSources(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 || len(store.enqueues) != 2 {
		t.Errorf("expected both due sources to be enqueued, got %d", n)
	}
	for _, job := range store.enqueues {
		if job.Type != models.JobTypeFeedFetch {
			t.Errorf("expected feed_fetch job type, got %s", job.Type)
		}
		if job.DedupKey == nil || *job.DedupKey == "" {
			t.Errorf("expected a dedup key derived from the source id, got %v", job.DedupKey)
		}
	}
}

func TestIsLeader_NilElectionActsAsStandalone(t *testing.T) {
	core := NewCore(testConfig(), queue.NewEngine(&countingJobStore{}), &fakeDomainStore{})
	if !core.isLeader(context.Background(), nil) {
		t.Error("expected a nil election to be treated as always-leader")
	}
}
