// Package handlers maps job types to the code that runs them. The worker
// pool looks handlers up by type and invokes them under the registered
// timeout; each handler checks its own payload fields.
package handlers

import (
	"context"
	"fmt"
	"time"

	"marketpulse/pkg/models"
)

// Outcome tags a handler's result the way the queue engine needs to see it:
// a plain success, a transient failure eligible for retry, or a permanent
// failure that should skip remaining retries.
type Outcome int

const (
	Ok Outcome = iota
	TransientError
	PermanentError
)

// Result is the tagged value every Handler returns.
type Result struct {
	Outcome Outcome
	Err     error
}

func Success() Result                { return Result{Outcome: Ok} }
func Transient(err error) Result      { return Result{Outcome: TransientError, Err: err} }
func Permanent(err error) Result      { return Result{Outcome: PermanentError, Err: err} }
func (r Result) String() string {
	switch r.Outcome {
	case Ok:
		return "ok"
	case TransientError:
		return fmt.Sprintf("transient_error(%v)", r.Err)
	default:
		return fmt.Sprintf("permanent_error(%v)", r.Err)
	}
}

// Handler performs the work for one job type.
type Handler interface {
	Run(ctx context.Context, job *models.Job) Result
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, job *models.Job) Result

func (f HandlerFunc) Run(ctx context.Context, job *models.Job) Result { return f(ctx, job) }

// Entry is one row of the registry table: a handler plus the per-type
// dispatch parameters the worker pool enforces.
type Entry struct {
	Handler        Handler
	MaxConcurrency int
	Timeout        time.Duration
	CachePolicy    *CachePolicy
}

// CachePolicy declares that a handler's result may be memoized in the
// content-addressed cache.
type CachePolicy struct {
	TTL time.Duration
}

// Registry is the closed mapping from job_type to Entry.
type Registry struct {
	entries map[models.JobType]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[models.JobType]Entry)}
}

func (r *Registry) Register(jobType models.JobType, entry Entry) {
	r.entries[jobType] = entry
}

func (r *Registry) Lookup(jobType models.JobType) (Entry, bool) {
	e, ok := r.entries[jobType]
	return e, ok
}

// Types returns every registered job type, used by the worker pool to build
// its per-type semaphores and as the eligible-type list it dequeues with.
func (r *Registry) Types() []models.JobType {
	types := make([]models.JobType, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}
