package tracker

import (
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

const (
	defaultMaxAge  = 50
	defaultMinHits = 3
	matchThreshold = 0.3
	iouWeight      = 0.7
	featureWeight  = 0.3
)

// Advanced is a Kalman + appearance Re-ID multi-object tracker with
// greedy detection-to-track assignment.
type Advanced struct {
	maxAge  int
	minHits int

	tracks  []*track
	nextID  int
	extract FeatureFunc
	now     func() time.Time
}

func NewAdvanced(extract FeatureFunc) *Advanced {
	if extract == nil {
		extract = ExtractFeatures
	}
	return &Advanced{
		maxAge:  defaultMaxAge,
		minHits: defaultMinHits,
		extract: extract,
		now:     time.Now,
	}
}

// Update advances every track one prediction step, associates the new
// detections, seeds tracks for the unmatched ones and expires stale
// tracks. Every track updated this frame is returned, so an identity
// never vanishes mid-stream and downstream per-track state stays
// continuous.
func (a *Advanced) Update(frame *vision.Frame, dets []vision.Detection) ([]Object, error) {
	for _, t := range a.tracks {
		t.predict()
	}

	var features [][]float32
	if frame != nil && len(dets) > 0 {
		var err error
		features, err = a.extract(frame, dets)
		if err != nil {
			return nil, err
		}
	}

	matched, unmatchedDets := a.associate(dets, features)

	for detIdx, trkIdx := range matched {
		var feat []float32
		if features != nil {
			feat = features[detIdx]
		}
		a.tracks[trkIdx].update(dets[detIdx].Box, feat)
	}

	for _, detIdx := range unmatchedDets {
		var feat []float32
		if features != nil {
			feat = features[detIdx]
		}
		t := newTrack(a.nextID, dets[detIdx].Box, feat, a.now)
		a.nextID++
		t.update(dets[detIdx].Box, nil)
		a.tracks = append(a.tracks, t)
	}

	alive := a.tracks[:0]
	for _, t := range a.tracks {
		if t.timeSinceUpdate <= a.maxAge {
			alive = append(alive, t)
		}
	}
	a.tracks = alive

	var out []Object
	for _, t := range a.tracks {
		if t.timeSinceUpdate == 0 {
			out = append(out, a.objectFor(t))
		}
	}
	return out, nil
}

func (a *Advanced) objectFor(t *track) Object {
	return Object{
		ID:              t.id,
		Box:             t.state(),
		Speed:           t.speed,
		Direction:       t.direction,
		Trajectory:      append([]vision.Point(nil), t.trajectory...),
		MovementPattern: t.movementPattern(),
		TrajectoryStats: t.trajectoryStats(),
	}
}

// associate scores every detection/track pair with
// 0.7·IoU + 0.3·cosine similarity and assigns greedily by repeatedly
// taking the best remaining cell. Pairs at or below the combined
// threshold are demoted to unmatched.
func (a *Advanced) associate(dets []vision.Detection, features [][]float32) (map[int]int, []int) {
	matched := make(map[int]int)
	if len(a.tracks) == 0 || len(dets) == 0 {
		unmatched := make([]int, len(dets))
		for i := range dets {
			unmatched[i] = i
		}
		return matched, unmatched
	}

	trackBoxes := make([]vision.Rect, len(a.tracks))
	trackFeatures := make([][]float32, len(a.tracks))
	for i, t := range a.tracks {
		trackBoxes[i] = t.state()
		trackFeatures[i] = t.matchFeature()
	}

	score := make([][]float64, len(dets))
	for d := range dets {
		score[d] = make([]float64, len(a.tracks))
		for t := range a.tracks {
			s := iouWeight * vision.IoU(dets[d].Box, trackBoxes[t])
			if features != nil && trackFeatures[t] != nil {
				s += featureWeight * vision.CosineSimilarity(features[d], trackFeatures[t])
			}
			score[d][t] = s
		}
	}

	usedDet := make([]bool, len(dets))
	usedTrk := make([]bool, len(a.tracks))
	n := len(dets)
	if len(a.tracks) < n {
		n = len(a.tracks)
	}
	for i := 0; i < n; i++ {
		bestD, bestT, best := -1, -1, -1.0
		for d := range dets {
			if usedDet[d] {
				continue
			}
			for t := range a.tracks {
				if usedTrk[t] {
					continue
				}
				if score[d][t] > best {
					bestD, bestT, best = d, t, score[d][t]
				}
			}
		}
		if bestD < 0 {
			break
		}
		usedDet[bestD] = true
		usedTrk[bestT] = true
		if best > matchThreshold {
			matched[bestD] = bestT
		}
	}

	var unmatched []int
	for d := range dets {
		if _, ok := matched[d]; !ok {
			unmatched = append(unmatched, d)
		}
	}
	return matched, unmatched
}

// LoiteringIDs reports the ids of currently-visible tracks whose still
// period exceeds the threshold.
func (a *Advanced) LoiteringIDs(threshold time.Duration) []int {
	var ids []int
	for _, t := range a.tracks {
		if t.timeSinceUpdate < 1 && t.isLoitering(threshold) {
			ids = append(ids, t.id)
		}
	}
	return ids
}

// DetailedLoitering reports duration, box and a confidence grade per
// loitering track. Confidence is HIGH once the still period exceeds
// one and a half thresholds.
func (a *Advanced) DetailedLoitering(threshold time.Duration) map[int]LoiteringInfo {
	info := make(map[int]LoiteringInfo)
	for _, t := range a.tracks {
		if t.timeSinceUpdate >= 1 || !t.isLoitering(threshold) {
			continue
		}
		duration := a.now().Sub(t.loiteringStart)
		confidence := "MEDIUM"
		if duration > threshold*3/2 {
			confidence = "HIGH"
		}
		info[t.id] = LoiteringInfo{
			ID:         t.id,
			Duration:   duration,
			Box:        t.state(),
			Confidence: confidence,
			Hits:       t.hits,
		}
	}
	return info
}
