package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
	"marketpulse/pkg/storage/postgres"
)

// IntegrationTestSuite exercises the queue engine against a real Postgres
// database. Skipped automatically when no database is reachable.
type IntegrationTestSuite struct {
	suite.Suite
	store  *postgres.JobStore
	engine *queue.Engine
}

func (s *IntegrationTestSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	gin.SetMode(gin.TestMode)

	dbHost := getEnv("TEST_DB_HOST", "localhost")
	dbPort := getEnv("TEST_DB_PORT", "5432")
	dbUser := getEnv("TEST_DB_USER", "marketpulse")
	dbPass := getEnv("TEST_DB_PASS", "password")
	dbName := getEnv("TEST_DB_NAME", "marketpulse_test")

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPass, dbName,
	)

	store, err := postgres.NewJobStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = store
	s.engine = queue.NewEngine(store)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

// TestJobLifecycle exercises enqueue -> dequeue -> complete.
func (s *IntegrationTestSuite) TestJobLifecycle() {
	ctx := context.Background()

	id, err := s.engine.Enqueue(ctx, models.JobTypeCleanup, models.Payload{"reason": "integration-test"}, queue.EnqueueOptions{})
	require.NoError(s.T(), err, "failed to enqueue job")

	job, err := s.engine.GetJob(ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusPending, job.Status)

	claimed, err := s.engine.Dequeue(ctx, "test-worker-1", []models.JobType{models.JobTypeCleanup})
	require.NoError(s.T(), err)
	require.NotNil(s.T(), claimed, "expected a claimable job")
	assert.Equal(s.T(), id, claimed.ID)
	assert.Equal(s.T(), models.JobStatusProcessing, claimed.Status)

	err = s.engine.Complete(ctx, id, "test-worker-1")
	require.NoError(s.T(), err)

	completed, err := s.engine.GetJob(ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusCompleted, completed.Status)
}

// TestRetryBehavior exercises the failure -> retry -> exhaustion path.
func (s *IntegrationTestSuite) TestRetryBehavior() {
	ctx := context.Background()

	id, err := s.engine.Enqueue(ctx, models.JobTypeCleanup, models.Payload{}, queue.EnqueueOptions{MaxAttempts: 2})
	require.NoError(s.T(), err)

	job, err := s.engine.Dequeue(ctx, "test-worker-retry", []models.JobType{models.JobTypeCleanup})
	require.NoError(s.T(), err)
	require.NotNil(s.T(), job)

	require.NoError(s.T(), s.engine.Fail(ctx, job, "test-worker-retry", "boom"))

	retried, err := s.engine.GetJob(ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusRetry, retried.Status)
	assert.Equal(s.T(), 1, retried.Attempts)

	// Fail scheduled the retry one backoff interval (at least 30s) ahead;
	// make it due now so the second attempt can be claimed.
	require.NoError(s.T(), s.store.DB().Model(&models.Job{}).Where("id = ?", id).Update("scheduled_at", time.Now()).Error)

	job2, err := s.engine.Dequeue(ctx, "test-worker-retry", []models.JobType{models.JobTypeCleanup})
	require.NoError(s.T(), err)
	require.NotNil(s.T(), job2)
	require.NoError(s.T(), s.engine.Fail(ctx, job2, "test-worker-retry", "boom again"))

	exhausted, err := s.engine.GetJob(ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusFailed, exhausted.Status)
}

// TestDedupKeyRejectsDuplicateOpenJob verifies the partial unique index
// returns the existing row's id instead of inserting a second one.
func (s *IntegrationTestSuite) TestDedupKeyRejectsDuplicateOpenJob() {
	ctx := context.Background()
	key := fmt.Sprintf("dedup-%d", time.Now().UnixNano())

	first, err := s.engine.Enqueue(ctx, models.JobTypeDailyAnalysis, models.Payload{}, queue.EnqueueOptions{DedupKey: key})
	require.NoError(s.T(), err)

	second, err := s.engine.Enqueue(ctx, models.JobTypeDailyAnalysis, models.Payload{}, queue.EnqueueOptions{DedupKey: key})
	require.NoError(s.T(), err)

	assert.Equal(s.T(), first, second, "duplicate dedup key should return the existing job id")
}

// TestConcurrentDequeue verifies two claimants never see the same row.
func (s *IntegrationTestSuite) TestConcurrentDequeue() {
	ctx := context.Background()
	numJobs := 10

	for i := 0; i < numJobs; i++ {
		_, err := s.engine.Enqueue(ctx, models.JobTypeCleanup, models.Payload{"i": i}, queue.EnqueueOptions{})
		require.NoError(s.T(), err)
	}

	seen := map[string]bool{}
	for i := 0; i < numJobs; i++ {
		job, err := s.engine.Dequeue(ctx, fmt.Sprintf("worker-%d", i), []models.JobType{models.JobTypeCleanup})
		require.NoError(s.T(), err)
		if job == nil {
			continue
		}
		assert.False(s.T(), seen[job.ID.String()], "job claimed twice")
		seen[job.ID.String()] = true
		require.NoError(s.T(), s.engine.Complete(ctx, job.ID, fmt.Sprintf("worker-%d", i)))
	}
}

// TestListJobsFilter exercises the management listing filter.
func (s *IntegrationTestSuite) TestListJobsFilter() {
	ctx := context.Background()

	_, err := s.engine.Enqueue(ctx, models.JobTypeFeedFetch, models.Payload{}, queue.EnqueueOptions{})
	require.NoError(s.T(), err)

	jobs, total, err := s.engine.ListJobs(ctx, storage.JobListFilter{
		Status: models.JobStatusPending,
		Type:   models.JobTypeFeedFetch,
		Limit:  10,
	})
	require.NoError(s.T(), err)
	assert.GreaterOrEqual(s.T(), total, int64(1))
	for _, j := range jobs {
		assert.Equal(s.T(), models.JobTypeFeedFetch, j.Type)
		assert.Equal(s.T(), models.JobStatusPending, j.Status)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
