package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketpulse/pkg/cache/redis"
)

// idempotencyTTL bounds how long a replayed response stays valid; long
// enough to cover client retry backoffs, short enough not to accumulate
// forever in Redis.
const idempotencyTTL = 24 * time.Hour

// IdempotencyStore is the subset of *marketpulse/pkg/cache/redis.Cache the
// middleware depends on.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	SaveIdempotentResponse(ctx context.Context, key string, resp redis.IdempotentResponse, ttl time.Duration) error
	GetIdempotentResponse(ctx context.Context, key string) (*redis.IdempotentResponse, bool, error)
}

// bodyRecorder captures the handler's response so it can be persisted for replay.
type bodyRecorder struct {
	gin.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// IdempotencyMiddleware honors an optional Idempotency-Key header on
// mutating requests: the first request with a given key runs normally and
// has its response recorded; a retry presenting the same key gets the
// recorded response replayed instead of re-running the handler, so a
// client's retried POST never double-enqueues or double-cancels a job.
func IdempotencyMiddleware(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key == "" || store == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		if cached, found, err := store.GetIdempotentResponse(ctx, key); err == nil && found {
			c.Data(cached.Status, "application/json", cached.Body)
			c.Abort()
			return
		}

		claimed, err := store.ClaimIdempotencyKey(ctx, key, idempotencyTTL)
		if err != nil {
			c.Next()
			return
		}
		if !claimed {
			// Lost the race with a concurrent identical request; the other
			// request's response hasn't been saved yet. Dedup here is
			// best-effort, not a lock, so let this one through rather than block.
			c.Next()
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = rec
		c.Next()

		if rec.buf.Len() > 0 && json.Valid(rec.buf.Bytes()) {
			resp := redis.IdempotentResponse{Status: rec.status, Body: append([]byte(nil), rec.buf.Bytes()...)}
			_ = store.SaveIdempotentResponse(ctx, key, resp, idempotencyTTL)
		}
	}
}
