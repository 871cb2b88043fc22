// Package producer runs the declarative cron rules that keep the pipeline
// fed: scanning due feed sources, and enqueuing the periodic cleanup,
// daily-analysis, and prediction-compare jobs. It never writes domain
// tables directly, only enqueues through the queue engine. cmd/scheduler
// starts it only after winning the etcd election.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "marketpulse/configs"
	"marketpulse/pkg/coordination"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

// Core is the leader-gated ticker loop. It is adapted from the teacher's
// pkg/scheduler.Core: same Run(ctx, election) shape, but where the teacher
// used cron.Parser to compute each row's own arbitrary next-run time,
// this producer's rules are a fixed, small set of system schedules, so it
// drives them with cron.Cron's own scheduler instead of reimplementing one.
type Core struct {
	engine *queue.Engine
	domain storage.DomainStore

	cronRunner       *cron.Cron
	feedScanInterval time.Duration
	horizon          string
	election         coordination.Election

	log *zap.Logger
}

func NewCore(cfg *config.Config, engine *queue.Engine, domain storage.DomainStore) *Core {
	log := logger.Get()

	feedScanInterval := cfg.FeedScanInterval
	if feedScanInterval <= 0 {
		feedScanInterval = time.Minute
	}
	horizon := cfg.PredictionHorizon
	if horizon == "" {
		horizon = "1d"
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	runner := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))

	c := &Core{
		engine:           engine,
		domain:           domain,
		cronRunner:       runner,
		feedScanInterval: feedScanInterval,
		horizon:          horizon,
		log:              log,
	}

	c.mustSchedule(runner, cfg.CleanupCronExpr, c.runCleanup)
	c.mustSchedule(runner, cfg.DailyAnalysisCronExpr, c.runDailyAnalysis)
	c.mustSchedule(runner, cfg.PredictionCompareCronExpr, c.runPredictionCompare)

	return c
}

// mustSchedule registers a declarative rule with the cron runner; a bad
// expression is a startup configuration error, not a runtime one.
func (c *Core) mustSchedule(runner *cron.Cron, expr string, job func()) {
	if _, err := runner.AddFunc(expr, job); err != nil {
		c.log.Fatal("invalid cron expression", zap.String("expr", expr), zap.Error(err))
	}
}

// Run starts the cron-scheduled rules and the feed-scan ticker, blocking
// until ctx is cancelled. Every invocation first checks that the election
// reports a leader and skips the work when none is reported or the check
// fails. It does not compare that leader with this process; cmd/scheduler
// calls Run only after its own Campaign call has returned.
func (c *Core) Run(ctx context.Context, election coordination.Election) {
	c.election = election
	c.cronRunner.Start()

	feedTicker := time.NewTicker(c.feedScanInterval)
	defer feedTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("producer shutting down")
			<-c.cronRunner.Stop().Done()
			return

		case <-feedTicker.C:
			if !c.isLeader(ctx, election) {
				continue
			}
			if n, err := c.scanFeedSources(ctx); err != nil {
				c.log.Error("feed source scan failed", zap.Error(err))
			} else if n > 0 {
				c.log.Info("enqueued feed_fetch jobs", zap.Int("count", n))
			}
		}
	}
}

// runCleanup, runDailyAnalysis and runPredictionCompare are cron.Cron job
// funcs: no context or error return, so each builds its own background
// context and logs its own failures.
func (c *Core) runCleanup() {
	ctx := context.Background()
	if !c.isLeader(ctx, c.election) {
		return
	}
	if _, err := c.engine.Enqueue(ctx, models.JobTypeCleanup, models.Payload{}, queue.EnqueueOptions{}); err != nil {
		c.log.Error("failed to enqueue cleanup", zap.Error(err))
	}
}

func (c *Core) runDailyAnalysis() {
	ctx := context.Background()
	if !c.isLeader(ctx, c.election) {
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	if _, err := c.engine.Enqueue(ctx, models.JobTypeDailyAnalysis, models.Payload{"date": today}, queue.EnqueueOptions{DedupKey: today}); err != nil {
		c.log.Error("failed to enqueue daily_analysis", zap.Error(err))
	}
}

func (c *Core) runPredictionCompare() {
	ctx := context.Background()
	if !c.isLeader(ctx, c.election) {
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	dedupKey := fmt.Sprintf("%s:%s", c.horizon, today)
	if _, err := c.engine.Enqueue(ctx, models.JobTypePredictionCompare, models.Payload{"horizon": c.horizon}, queue.EnqueueOptions{DedupKey: dedupKey}); err != nil {
		c.log.Error("failed to enqueue prediction_compare", zap.Error(err))
	}
}

func (c *Core) isLeader(ctx context.Context, election coordination.Election) bool {
	if election == nil {
		return true
	}
	leader, err := election.Leader(ctx)
	if err != nil {
		c.log.Warn("leader check failed", zap.Error(err))
		return false
	}
	return leader != ""
}

// scanFeedSources enqueues feed_fetch for every active source whose cadence
// has elapsed, de-duplicated by (feed_fetch, source_id) so a slow leader
// failover can never double-enqueue the same source.
func (c *Core) scanFeedSources(ctx context.Context) (int, error) {
	sources, err := c.domain.ListActiveFeedSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active feed sources: %w", err)
	}

	now := time.Now()
	enqueued := 0
	for _, src := range sources {
		due := src.LastProcessedAt == nil ||
			now.Sub(*src.LastProcessedAt) >= time.Duration(src.CadenceSeconds)*time.Second
		if !due {
			continue
		}

		dedupKey := src.ID.String()
		payload := models.Payload{"source_id": src.ID.String()}
		if _, err := c.engine.Enqueue(ctx, models.JobTypeFeedFetch, payload, queue.EnqueueOptions{DedupKey: dedupKey}); err != nil {
			c.log.Error("failed to enqueue feed_fetch", zap.String("source_id", src.ID.String()), zap.Error(err))
			continue
		}
		enqueued++
	}
	return enqueued, nil
}
