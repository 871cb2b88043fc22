// Package worker runs the dispatch loop that turns queued jobs into handler
// invocations. It keeps the teacher's executor shape (heartbeat goroutine
// plus N dispatching fibers guarded by a semaphore) but claims work through
// the queue engine instead of a Redis stream, and the semaphore is now one
// per job type rather than one pool-wide CPU-count gate.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"marketpulse/pkg/handlers"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/metrics"
	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

// gracePeriod is how long a handler gets to return after its timeout fires
// before the fiber gives up waiting on it and reports the job failed anyway.
const gracePeriod = 5 * time.Second

// PauseStore is a cross-process pause flag (backed by the cache) so the
// management API's pause/resume endpoints, running in a separate process
// from the worker pool, can still take effect.
type PauseStore interface {
	IsPaused(ctx context.Context) (bool, error)
}

// Pool runs Concurrency fibers, each repeatedly dequeuing and running jobs
// through the handler registry until ctx is cancelled.
type Pool struct {
	ID          string
	Hostname    string
	Concurrency int

	engine       *queue.Engine
	registry     *handlers.Registry
	heartbeats   storage.HeartbeatStore
	pauseStore   PauseStore
	pollInterval time.Duration

	paused atomic.Bool
	sems   map[models.JobType]chan struct{}

	log *zap.Logger
}

// New builds a pool with one fiber per Concurrency slot and one semaphore
// per registered job type, sized by that type's Entry.MaxConcurrency.
func New(engine *queue.Engine, registry *handlers.Registry, heartbeats storage.HeartbeatStore, concurrency int, pollInterval time.Duration) *Pool {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	sems := make(map[models.JobType]chan struct{})
	for _, t := range registry.Types() {
		entry, _ := registry.Lookup(t)
		n := entry.MaxConcurrency
		if n <= 0 {
			n = 1
		}
		sems[t] = make(chan struct{}, n)
	}

	return &Pool{
		ID:           id,
		Hostname:     hostname,
		Concurrency:  concurrency,
		engine:       engine,
		registry:     registry,
		heartbeats:   heartbeats,
		pollInterval: pollInterval,
		sems:         sems,
		log:          logger.Get(),
	}
}

// Pause stops the pool from claiming new work; in-flight jobs finish normally.
func (p *Pool) Pause()  { p.paused.Store(true) }
func (p *Pool) Resume() { p.paused.Store(false) }
func (p *Pool) Paused() bool { return p.paused.Load() }

// SetPauseStore wires a cross-process pause flag, polled alongside the
// heartbeat ticker. Optional: a pool with no pause store only honors local
// Pause/Resume calls.
func (p *Pool) SetPauseStore(ps PauseStore) { p.pauseStore = ps }

// Run starts the heartbeat goroutine and Concurrency dispatch fibers,
// blocking until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("worker pool starting", zap.String("id", p.ID), zap.Int("concurrency", p.Concurrency))

	hbTicker := time.NewTicker(10 * time.Second)
	defer hbTicker.Stop()
	go func() {
		p.heartbeat(ctx)
		p.syncPause(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hbTicker.C:
				p.heartbeat(ctx)
				p.syncPause(ctx)
			}
		}
	}()

	memTicker := time.NewTicker(30 * time.Second)
	defer memTicker.Stop()
	go func() {
		p.sampleMemory()
		for {
			select {
			case <-ctx.Done():
				return
			case <-memTicker.C:
				p.sampleMemory()
			}
		}
	}()

	done := make(chan struct{}, p.Concurrency)
	for i := 0; i < p.Concurrency; i++ {
		go func(fiber int) {
			p.dispatchLoop(ctx, fiber)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.Concurrency; i++ {
		<-done
	}

	if p.heartbeats != nil {
		_ = p.heartbeats.Forget(context.Background(), p.ID)
	}
}

func (p *Pool) heartbeat(ctx context.Context) {
	if p.heartbeats == nil {
		return
	}
	if err := p.heartbeats.Heartbeat(ctx, p.ID, p.Hostname); err != nil {
		p.log.Warn("heartbeat failed", zap.Error(err))
		return
	}
	metrics.HeartbeatsSent.Inc()
}

// sampleMemory reports host memory usage so dashboards can correlate
// handler OOM kills with resource pressure rather than just attempt counts.
func (p *Pool) sampleMemory() {
	v, err := mem.VirtualMemory()
	if err != nil {
		p.log.Warn("memory sample failed", zap.Error(err))
		return
	}
	metrics.WorkerMemoryUsedBytes.Set(float64(v.Used))
	metrics.WorkerMemoryTotalBytes.Set(float64(v.Total))
}

func (p *Pool) syncPause(ctx context.Context) {
	if p.pauseStore == nil {
		return
	}
	paused, err := p.pauseStore.IsPaused(ctx)
	if err != nil {
		p.log.Warn("pause flag check failed", zap.Error(err))
		return
	}
	p.paused.Store(paused)
}

// dispatchLoop is one fiber: dequeue, run, complete/fail, repeat until ctx
// is cancelled. Honors pause by not dequeuing (in-flight work still drains).
func (p *Pool) dispatchLoop(ctx context.Context, fiber int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.paused.Load() {
			sleep(ctx, p.pollInterval)
			continue
		}

		job, err := p.engine.Dequeue(ctx, p.ID, p.registry.Types())
		if err != nil {
			p.log.Error("dequeue failed", zap.Error(err))
			sleep(ctx, p.pollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, p.pollInterval)
			continue
		}

		p.runOne(ctx, job)
	}
}

// runOne enforces the per-type concurrency cap, invokes the handler under a
// timeout, and resolves the job to complete/fail/throttled.
func (p *Pool) runOne(ctx context.Context, job *models.Job) {
	entry, ok := p.registry.Lookup(job.Type)
	if !ok {
		p.log.Error("no handler registered", zap.String("job_type", string(job.Type)))
		_ = p.engine.Fail(ctx, job, p.ID, fmt.Sprintf("no handler registered for job_type %q", job.Type))
		metrics.RecordJobOutcome(string(job.Type), "failed", 0)
		return
	}

	sem := p.sems[job.Type]
	select {
	case sem <- struct{}{}:
	default:
		// Per-type semaphore saturated: hand the row back without
		// burning an attempt, small delay to avoid a hot requeue loop.
		if err := p.engine.Throttle(ctx, job.ID, p.ID, 500*time.Millisecond); err != nil {
			p.log.Warn("throttle failed", zap.Error(err))
		}
		return
	}
	defer func() { <-sem }()

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	start := time.Now()
	result := p.invoke(ctx, entry.Handler, job, timeout)
	duration := time.Since(start)

	switch result.Outcome {
	case handlers.Ok:
		if err := p.engine.Complete(ctx, job.ID, p.ID); err != nil {
			p.log.Error("complete failed", zap.Error(err), zap.String("job_id", job.ID.String()))
		}
		metrics.RecordJobOutcome(string(job.Type), "completed", duration.Seconds())
	default:
		msg := "handler returned no error"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		if result.Outcome == handlers.PermanentError {
			job.Attempts = job.MaxAttempts
		}
		if err := p.engine.Fail(ctx, job, p.ID, msg); err != nil {
			p.log.Error("fail failed", zap.Error(err), zap.String("job_id", job.ID.String()))
		}
		metrics.RecordJobOutcome(string(job.Type), "failed", duration.Seconds())
	}
}

// invoke runs h.Run under timeout, waiting up to an extra gracePeriod for a
// cooperative return before giving up and reporting a transient timeout.
func (p *Pool) invoke(ctx context.Context, h handlers.Handler, job *models.Job, timeout time.Duration) handlers.Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan handlers.Result, 1)
	go func() {
		resultCh <- h.Run(runCtx, job)
	}()

	select {
	case r := <-resultCh:
		return r
	case <-runCtx.Done():
		select {
		case r := <-resultCh:
			return r
		case <-time.After(gracePeriod):
			return handlers.Transient(fmt.Errorf("handler timed out after %s", timeout))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
