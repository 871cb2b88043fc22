package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketpulse/pkg/models"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage"
)

// envelope is the standard {success, data?, error?, meta?} response shape.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func okMeta(c *gin.Context, status int, data interface{}, meta interface{}) {
	c.JSON(status, envelope{Success: true, Data: data, Meta: meta})
}

func fail(c *gin.Context, status int, err string) {
	c.JSON(status, envelope{Success: false, Error: err})
}

// storeErrStatus maps a storage-layer sentinel error to its HTTP status.
func storeErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "job not found"
	case errors.Is(err, storage.ErrStateConflict):
		return http.StatusConflict, "job is not in the required state"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// CreateJobRequest is the payload for POST /api/v1/queue/jobs.
type CreateJobRequest struct {
	JobType     models.JobType `json:"job_type" binding:"required"`
	Payload     models.Payload `json:"payload"`
	Priority    int            `json:"priority"`
	DelaySec    int            `json:"delay_seconds"`
	DedupKey    string         `json:"dedup_key"`
	MaxAttempts int            `json:"max_attempts"`
}

// createJob handles POST /api/v1/queue/jobs
func (s *Server) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.validator.ValidateJobType(string(req.JobType)); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validator.ValidateDedupKey(req.DedupKey); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if encoded, err := json.Marshal(req.Payload); err == nil {
		if err := s.validator.ValidatePayloadSize(encoded); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	id, err := s.engine.Enqueue(c.Request.Context(), req.JobType, req.Payload, queue.EnqueueOptions{
		Priority:    req.Priority,
		Delay:       time.Duration(req.DelaySec) * time.Second,
		DedupKey:    req.DedupKey,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		if errors.Is(err, queue.ErrPayloadTooLarge) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	ok(c, http.StatusCreated, gin.H{"id": id})
}

// queueStats handles GET /api/v1/queue/stats
func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.engine.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

// listJobs handles GET /api/v1/queue/jobs
func (s *Server) listJobs(c *gin.Context) {
	filter := storage.JobListFilter{
		Status: models.JobStatus(c.Query("status")),
		Type:   models.JobType(c.Query("type")),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}

	jobs, total, err := s.engine.ListJobs(c.Request.Context(), filter)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	okMeta(c, http.StatusOK, jobs, gin.H{
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getJob handles GET /api/v1/queue/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.engine.GetJob(c.Request.Context(), id)
	if err != nil {
		status, msg := storeErrStatus(err)
		fail(c, status, msg)
		return
	}

	ok(c, http.StatusOK, job)
}

// retryJob handles POST /api/v1/queue/jobs/:id/retry
func (s *Server) retryJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.engine.GetJob(c.Request.Context(), id)
	if err != nil {
		status, msg := storeErrStatus(err)
		fail(c, status, msg)
		return
	}
	if job.Status != models.JobStatusFailed {
		fail(c, http.StatusConflict, "only failed jobs can be retried")
		return
	}

	if err := s.engine.Reset(c.Request.Context(), id); err != nil {
		status, msg := storeErrStatus(err)
		fail(c, status, msg)
		return
	}

	ok(c, http.StatusOK, gin.H{"id": id, "status": models.JobStatusPending})
}

// cancelJob handles POST /api/v1/queue/jobs/:id/cancel
func (s *Server) cancelJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := s.engine.Cancel(c.Request.Context(), id); err != nil {
		status, msg := storeErrStatus(err)
		fail(c, status, msg)
		return
	}

	ok(c, http.StatusOK, gin.H{"id": id, "status": models.JobStatusCancelled})
}

// resetJob handles POST /api/v1/queue/jobs/:id/reset
func (s *Server) resetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := s.engine.Reset(c.Request.Context(), id); err != nil {
		status, msg := storeErrStatus(err)
		fail(c, status, msg)
		return
	}

	ok(c, http.StatusOK, gin.H{"id": id, "status": models.JobStatusPending})
}

// deleteJob handles DELETE /api/v1/queue/jobs/:id
func (s *Server) deleteJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := s.engine.Delete(c.Request.Context(), id); err != nil {
		status, msg := storeErrStatus(err)
		fail(c, status, msg)
		return
	}

	ok(c, http.StatusOK, gin.H{"id": id})
}

// pauseQueue handles POST /api/v1/queue/pause
func (s *Server) pauseQueue(c *gin.Context) {
	if s.pool != nil {
		s.pool.Pause()
	}
	if s.pause != nil {
		if err := s.pause.SetPaused(c.Request.Context(), true); err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
	}
	ok(c, http.StatusOK, gin.H{"paused": true})
}

// resumeQueue handles POST /api/v1/queue/resume
func (s *Server) resumeQueue(c *gin.Context) {
	if s.pool != nil {
		s.pool.Resume()
	}
	if s.pause != nil {
		if err := s.pause.SetPaused(c.Request.Context(), false); err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
	}
	ok(c, http.StatusOK, gin.H{"paused": false})
}

// clearQueue handles POST /api/v1/queue/clear?status=completed
//
// Clearing is a management action, not a hot path: it lists matching jobs a
// page at a time and deletes each one through the engine rather than adding
// a bulk-delete primitive to JobStore.
func (s *Server) clearQueue(c *gin.Context) {
	status := models.JobStatus(c.Query("status"))
	switch status {
	case models.JobStatusCompleted, models.JobStatusFailed:
	default:
		fail(c, http.StatusBadRequest, "status must be one of: completed, failed")
		return
	}

	ctx := c.Request.Context()
	var cleared int64
	for {
		jobs, _, err := s.engine.ListJobs(ctx, storage.JobListFilter{Status: status, Limit: 200})
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		if len(jobs) == 0 {
			break
		}
		for _, j := range jobs {
			if err := s.engine.Delete(ctx, j.ID); err != nil {
				fail(c, http.StatusInternalServerError, err.Error())
				return
			}
			cleared++
		}
	}

	ok(c, http.StatusOK, gin.H{"cleared": cleared, "status": status})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
