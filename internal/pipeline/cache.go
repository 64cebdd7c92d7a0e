package pipeline

import (
	"context"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-analytics/internal/metrics"
)

// Fetcher resolves the active pipelines configured for a camera.
type Fetcher interface {
	PipelinesByCamera(ctx context.Context, cameraName string) ([]Pipeline, error)
}

type cacheEntry struct {
	pipeline *Pipeline // nil marks a negative entry
	addedAt  time.Time
}

// Cache holds one resolved pipeline per camera name. Entries are
// filled lazily from the API, invalidated by config events, and expire
// after a TTL as a safety net against missed invalidations. A missing
// or failed lookup is cached as nil so frames for unconfigured cameras
// stay cheap.
type Cache struct {
	fetcher Fetcher
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
}

func NewCache(fetcher Fetcher, maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	entries, _ := lru.New[string, cacheEntry](maxEntries)
	return &Cache{fetcher: fetcher, entries: entries, ttl: ttl}
}

// Get returns the pipeline for a camera, or nil when none is
// configured. When multiple active pipelines target the camera the
// first one wins.
func (c *Cache) Get(ctx context.Context, cameraName string) *Pipeline {
	if e, ok := c.entries.Get(cameraName); ok && time.Since(e.addedAt) < c.ttl {
		metrics.PipelineCacheHitsTotal.Inc()
		return e.pipeline
	}

	metrics.PipelineCacheMissesTotal.Inc()
	pipelines, err := c.fetcher.PipelinesByCamera(ctx, cameraName)
	if err != nil {
		log.Printf("[ERROR] Pipeline Cache: fetching pipeline for camera %q: %v", cameraName, err)
		c.entries.Add(cameraName, cacheEntry{addedAt: time.Now()})
		return nil
	}
	if len(pipelines) == 0 {
		log.Printf("[WARN] Pipeline Cache: no active pipeline for camera %q", cameraName)
		c.entries.Add(cameraName, cacheEntry{addedAt: time.Now()})
		return nil
	}

	p := pipelines[0]
	c.entries.Add(cameraName, cacheEntry{pipeline: &p, addedAt: time.Now()})
	return &p
}

// Invalidate drops the entry for a camera; the next Get refetches.
func (c *Cache) Invalidate(cameraName string) {
	if c.entries.Remove(cameraName) {
		log.Printf("Pipeline Cache: invalidated entry for camera %q", cameraName)
	}
}
