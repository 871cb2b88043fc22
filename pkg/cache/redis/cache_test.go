package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"marketpulse/pkg/models"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return &Cache{client: client}, mr
}

func TestCache_SetGet_RoundTrips(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	value := models.Payload{"title": "example"}
	if err := cache.Set(ctx, "key1", value, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, found, err := cache.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}
	if got["title"] != "example" {
		t.Errorf("expected title=example, got %v", got["title"])
	}
}

func TestCache_Get_MissReturnsFalseNotError(t *testing.T) {
	cache, _ := newTestCache(t)
	_, found, err := cache.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error on miss: %v", err)
	}
	if found {
		t.Error("expected a miss to report found=false")
	}
}

func TestCache_Delete_RemovesEntry(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	_ = cache.Set(ctx, "key1", models.Payload{"a": 1}, time.Minute)

	if err := cache.Delete(ctx, "key1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	_, found, _ := cache.Get(ctx, "key1")
	if found {
		t.Error("expected key to be gone after delete")
	}
}

func TestFingerprint_IsOrderIndependent(t *testing.T) {
	a := Fingerprint(models.JobTypeFeedFetch, map[string]interface{}{"source_id": "1", "url": "x"})
	b := Fingerprint(models.JobTypeFeedFetch, map[string]interface{}{"url": "x", "source_id": "1"})
	if a != b {
		t.Error("expected fingerprint to be independent of map key insertion order")
	}
}

func TestFingerprint_DiffersByJobType(t *testing.T) {
	parts := map[string]interface{}{"id": "1"}
	a := Fingerprint(models.JobTypeFeedFetch, parts)
	b := Fingerprint(models.JobTypeContentProcess, parts)
	if a == b {
		t.Error("expected fingerprint to vary by job type even with identical parts")
	}
}

func TestSetPausedIsPaused_RoundTrips(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	paused, err := cache.IsPaused(ctx)
	if err != nil {
		t.Fatalf("unexpected error on unset flag: %v", err)
	}
	if paused {
		t.Error("expected an unset pause flag to default to false")
	}

	if err := cache.SetPaused(ctx, true); err != nil {
		t.Fatalf("set paused failed: %v", err)
	}
	paused, err = cache.IsPaused(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !paused {
		t.Error("expected IsPaused to report true after SetPaused(true)")
	}

	if err := cache.SetPaused(ctx, false); err != nil {
		t.Fatalf("set paused failed: %v", err)
	}
	paused, _ = cache.IsPaused(ctx)
	if paused {
		t.Error("expected IsPaused to report false after SetPaused(false)")
	}
}

func TestCleanup_DropsKeysWithNoTTL(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_ = cache.Set(ctx, "expiring", models.Payload{}, time.Minute)
	if err := cache.client.Set(ctx, keyPrefix+"stale", []byte("{}"), 0).Err(); err != nil {
		t.Fatalf("failed to seed stale key: %v", err)
	}

	dropped, err := cache.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected exactly one TTL-less key dropped, got %d", dropped)
	}

	n, err := cache.client.Exists(ctx, keyPrefix+"expiring").Result()
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if n != 1 {
		t.Error("expected the TTL'd key to survive cleanup")
	}
}
