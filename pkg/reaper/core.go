// Package reaper recovers stuck jobs, prunes terminal rows past retention,
// and sweeps the cache, on its own leader-gated ticker. Split out of the
// teacher's pkg/scheduler.Core.Reconcile, which did the same job for
// etcd-tracked executor nodes instead of a Postgres heartbeat table.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketpulse/pkg/coordination"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/metrics"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

// staleAfter is how old a worker heartbeat may get before the worker is
// considered dead, per spec.md §4.5's fixed 30s staleness window.
const staleAfter = 30 * time.Second

type cacheCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Core ticks every interval (default spec.md §6 REAPER_INTERVAL_SEC=60) and,
// while the election reports a leader, reaps stuck processing rows, prunes
// old terminal rows, and drops cache entries that have no TTL. Run does not
// compare the reported leader with this process; cmd/scheduler starts Run
// only after its own Campaign call has returned.
type Core struct {
	engine          *queue.Engine
	store           storage.JobStore
	heartbeats      storage.HeartbeatStore
	cache           cacheCleaner
	interval        time.Duration
	handlerTimeout  time.Duration
	retentionWindow time.Duration

	log *zap.Logger
}

func NewCore(engine *queue.Engine, store storage.JobStore, heartbeats storage.HeartbeatStore, cache cacheCleaner, interval, handlerTimeout time.Duration, retentionDays int) *Core {
	return &Core{
		engine:          engine,
		store:           store,
		heartbeats:      heartbeats,
		cache:           cache,
		interval:        interval,
		handlerTimeout:  handlerTimeout,
		retentionWindow: time.Duration(retentionDays) * 24 * time.Hour,
		log:             logger.Get(),
	}
}

func (c *Core) Run(ctx context.Context, election coordination.Election) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("reaper shutting down")
			return
		case <-ticker.C:
			if election != nil {
				leader, err := election.Leader(ctx)
				if err != nil {
					c.log.Warn("leader check failed", zap.Error(err))
					continue
				}
				if leader == "" {
					continue
				}
			}
			if err := c.Reconcile(ctx); err != nil {
				c.log.Error("reconcile failed", zap.Error(err))
			}
		}
	}
}

// Reconcile runs the four spec.md §4.5 reaper steps: reap stuck processing
// rows, prune terminal rows past retention, drop cache entries that have no
// TTL, and emit the gauge metrics.
func (c *Core) Reconcile(ctx context.Context) error {
	if err := c.reapStuck(ctx); err != nil {
		return err
	}
	if err := c.pruneTerminal(ctx); err != nil {
		return err
	}
	if c.cache != nil {
		if dropped, err := c.cache.Cleanup(ctx); err != nil {
			c.log.Warn("cache cleanup failed", zap.Error(err))
		} else if dropped > 0 {
			c.log.Info("cache cleanup dropped stale entries", zap.Int64("count", dropped))
		}
	}
	c.emitMetrics(ctx)
	return nil
}

// reapStuck finds processing rows whose worker has gone silent for
// staleAfter and started before 2x the handler timeout, then fails or
// retries each per the normal backoff/exhaustion rules.
func (c *Core) reapStuck(ctx context.Context) error {
	deadline := time.Now().Add(-2 * c.handlerTimeout)
	live := time.Now().Add(-staleAfter)

	stuck, err := c.store.ReapStuck(ctx, deadline, live)
	if err != nil {
		return err
	}

	for _, job := range stuck {
		workerID := ""
		if job.WorkerID != nil {
			workerID = *job.WorkerID
		}
		if err := c.engine.Fail(ctx, &job, workerID, "worker heartbeat lost; reaped by reaper"); err != nil {
			c.log.Error("failed to reap stuck job", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		metrics.ReaperReapedTotal.Inc()
	}
	if len(stuck) > 0 {
		c.log.Info("reaped stuck jobs", zap.Int("count", len(stuck)))
	}
	return nil
}

func (c *Core) pruneTerminal(ctx context.Context) error {
	cutoff := time.Now().Add(-c.retentionWindow)
	n, err := c.store.PruneTerminal(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.ReaperPrunedTotal.Add(float64(n))
		c.log.Info("pruned terminal jobs", zap.Int64("count", n))
	}
	return nil
}

// emitMetrics publishes queue depth per (type, status) and the age of the
// oldest eligible pending row, per spec.md §4.5 point 4.
func (c *Core) emitMetrics(ctx context.Context) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		c.log.Warn("failed to compute stats", zap.Error(err))
		return
	}
	for jobType, byStatus := range stats.ByTypeAndStatus {
		for status, count := range byStatus {
			metrics.QueueDepth.WithLabelValues(string(jobType), string(status)).Set(float64(count))
		}
	}

	age, err := c.store.OldestPendingAge(ctx)
	if err != nil {
		c.log.Warn("failed to compute oldest pending age", zap.Error(err))
		return
	}
	metrics.OldestPendingAge.Set(age.Seconds())

	if c.heartbeats != nil {
		live, err := c.heartbeats.LiveWorkerIDs(ctx, time.Now().Add(-staleAfter))
		if err == nil {
			metrics.ActiveWorkers.Set(float64(len(live)))
		}
	}
}
