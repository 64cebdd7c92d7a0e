package tracker

import (
	"log"
	"time"

	"github.com/technosupport/ts-analytics/internal/metrics"
	"github.com/technosupport/ts-analytics/internal/vision"
)

// Object is one tracked identity as reported to processing nodes.
type Object struct {
	ID              int
	Box             vision.Rect
	Speed           float64
	Direction       float64
	Trajectory      []vision.Point
	MovementPattern string
	TrajectoryStats *TrajectoryStats
}

// LoiteringInfo describes one track whose still period exceeded the
// loitering threshold.
type LoiteringInfo struct {
	ID         int
	Duration   time.Duration
	Box        vision.Rect
	Confidence string
	Hits       int
}

// Stats counts hybrid tracker activity and mode switches.
type Stats struct {
	TotalUpdates        int    `json:"total_updates"`
	AdvancedErrors      int    `json:"advanced_tracker_errors"`
	FallbackActivations int    `json:"fallback_activations"`
	CurrentMode         string `json:"current_mode"`
}

type backend interface {
	Update(frame *vision.Frame, dets []vision.Detection) ([]Object, error)
	LoiteringIDs(threshold time.Duration) []int
	DetailedLoitering(threshold time.Duration) map[int]LoiteringInfo
}

// Config selects the tracking back-end and its expiry behaviour.
type Config struct {
	UseAdvanced        bool
	MaxDisappeared     int
	LoiteringThreshold time.Duration
	// Features overrides the appearance embedder of the advanced
	// back-end. Nil selects the default extractor.
	Features FeatureFunc
}

// Hybrid serves the tracker API through the advanced back-end and
// falls back to the centroid back-end permanently after the first
// advanced-side failure.
type Hybrid struct {
	cfg     Config
	backend backend
	stats   Stats
}

func NewHybrid(cfg Config) *Hybrid {
	if cfg.MaxDisappeared <= 0 {
		cfg.MaxDisappeared = 30
	}
	if cfg.LoiteringThreshold <= 0 {
		cfg.LoiteringThreshold = 15 * time.Second
	}
	h := &Hybrid{cfg: cfg}
	if cfg.UseAdvanced {
		h.backend = NewAdvanced(cfg.Features)
		h.stats.CurrentMode = "advanced"
	} else {
		h.backend = NewCentroid(cfg.MaxDisappeared)
		h.stats.CurrentMode = "fallback"
	}
	return h
}

// Update feeds one frame's detections to the active back-end. An error
// from the advanced back-end demotes the tracker to centroid mode and
// the frame is replayed there, so callers always get a result.
func (h *Hybrid) Update(frame *vision.Frame, dets []vision.Detection) []Object {
	h.stats.TotalUpdates++

	objects, err := h.backend.Update(frame, dets)
	if err == nil {
		return objects
	}

	log.Printf("[ERROR] Tracker: advanced update failed, switching to fallback: %v", err)
	h.stats.AdvancedErrors++
	h.stats.FallbackActivations++
	h.stats.CurrentMode = "fallback"
	metrics.TrackerFallbacksTotal.Inc()
	h.backend = NewCentroid(h.cfg.MaxDisappeared)

	objects, err = h.backend.Update(frame, dets)
	if err != nil {
		log.Printf("[ERROR] Tracker: fallback update failed: %v", err)
		return nil
	}
	return objects
}

// LoiteringIDs uses the configured threshold when none is given.
func (h *Hybrid) LoiteringIDs(threshold time.Duration) []int {
	if threshold <= 0 {
		threshold = h.cfg.LoiteringThreshold
	}
	return h.backend.LoiteringIDs(threshold)
}

func (h *Hybrid) DetailedLoitering(threshold time.Duration) map[int]LoiteringInfo {
	if threshold <= 0 {
		threshold = h.cfg.LoiteringThreshold
	}
	return h.backend.DetailedLoitering(threshold)
}

func (h *Hybrid) Stats() Stats { return h.stats }
