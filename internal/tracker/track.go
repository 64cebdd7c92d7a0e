package tracker

import (
	"math"
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

const (
	maxFeatureHistory  = 10
	maxPositionHistory = 30
	movementThreshold  = 25.0
)

// Movement pattern labels, ordered by speed band.
const (
	PatternStationary = "stationary"
	PatternWalking    = "walking"
	PatternRunning    = "running"
	PatternIrregular  = "irregular"
)

// TrajectoryStats summarises a track's full path.
type TrajectoryStats struct {
	TotalDistance    float64 `json:"total_distance"`
	StraightDistance float64 `json:"straight_distance"`
	Sinuosity        float64 `json:"sinuosity"`
	AvgSpeed         float64 `json:"avg_speed"`
	Direction        float64 `json:"direction"`
	Pattern          string  `json:"pattern"`
	Duration         int     `json:"duration"`
}

// track is one persistent identity: Kalman-predicted motion state,
// appearance memory and behavioural state.
type track struct {
	id int
	kf *kalmanBox

	hits            int
	hitStreak       int
	age             int
	timeSinceUpdate int

	features  [][]float32
	positions []vision.Point

	trajectory []vision.Point
	speed      float64
	direction  float64

	loiteringStart time.Time

	now func() time.Time
}

func newTrack(id int, box vision.Rect, feature []float32, now func() time.Time) *track {
	t := &track{
		id:  id,
		kf:  newKalmanBox(box),
		now: now,
	}
	if feature != nil {
		t.features = append(t.features, feature)
	}
	return t
}

func (t *track) predict() vision.Rect {
	t.kf.predict()
	t.age++
	if t.timeSinceUpdate > 0 {
		t.hitStreak = 0
	}
	t.timeSinceUpdate++
	return t.kf.state()
}

func (t *track) update(box vision.Rect, feature []float32) {
	t.timeSinceUpdate = 0
	t.hits++
	t.hitStreak++
	t.kf.update(box)

	if feature != nil {
		t.features = append(t.features, feature)
		if len(t.features) > maxFeatureHistory {
			t.features = t.features[1:]
		}
	}

	center := box.Center()
	t.positions = append(t.positions, center)
	if len(t.positions) > maxPositionHistory {
		t.positions = t.positions[1:]
	}

	if t.hasMovedSignificantly() {
		t.loiteringStart = time.Time{}
	} else if t.loiteringStart.IsZero() {
		t.loiteringStart = t.now()
	}

	t.trajectory = append(t.trajectory, center)
	if len(t.trajectory) > 2 {
		t.speed = t.estimateSpeed()
		t.direction = t.estimateDirection()
	}
}

func (t *track) state() vision.Rect { return t.kf.state() }

func (t *track) matchFeature() []float32 { return meanFeature(t.features) }

// hasMovedSignificantly compares the mean of the last ten observed
// positions against an older window. Insufficient history counts as
// movement so that fresh tracks never loiter immediately.
func (t *track) hasMovedSignificantly() bool {
	if len(t.positions) < 10 {
		return true
	}
	recent := t.positions[len(t.positions)-10:]
	var old []vision.Point
	if len(t.positions) >= 20 {
		old = t.positions[:10]
	} else {
		old = recent[:5]
	}
	return meanPoint(recent).Dist(meanPoint(old)) > movementThreshold
}

func meanPoint(pts []vision.Point) vision.Point {
	var sum vision.Point
	for _, p := range pts {
		sum.X += p.X
		sum.Y += p.Y
	}
	n := float64(len(pts))
	return vision.Point{X: sum.X / n, Y: sum.Y / n}
}

func (t *track) isLoitering(threshold time.Duration) bool {
	if t.loiteringStart.IsZero() {
		return false
	}
	return t.now().Sub(t.loiteringStart) > threshold
}

// estimateSpeed is the mean displacement per frame over the last five
// trajectory points, in pixels.
func (t *track) estimateSpeed() float64 {
	pts := t.trajectory
	if len(pts) > 5 {
		pts = pts[len(pts)-5:]
	}
	if len(pts) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += pts[i].Dist(pts[i-1])
	}
	return total / float64(len(pts)-1)
}

// estimateDirection is the heading in degrees of the displacement over
// the last five points. 0 = right, 90 = down.
func (t *track) estimateDirection() float64 {
	if len(t.trajectory) < 2 {
		return 0
	}
	start := t.trajectory[0]
	if len(t.trajectory) >= 5 {
		start = t.trajectory[len(t.trajectory)-5]
	}
	end := t.trajectory[len(t.trajectory)-1]
	d := end.Sub(start)
	return math.Atan2(d.Y, d.X) * 180 / math.Pi
}

func (t *track) movementPattern() string {
	switch {
	case t.speed < 2:
		return PatternStationary
	case t.speed < 8:
		return PatternWalking
	case t.speed < 20:
		return PatternRunning
	default:
		return PatternIrregular
	}
}

func (t *track) trajectoryStats() *TrajectoryStats {
	if len(t.trajectory) < 3 {
		return nil
	}
	total := 0.0
	for i := 1; i < len(t.trajectory); i++ {
		total += t.trajectory[i].Dist(t.trajectory[i-1])
	}
	straight := t.trajectory[len(t.trajectory)-1].Dist(t.trajectory[0])
	sinuosity := 1.0
	if straight > 0 {
		sinuosity = total / straight
	}
	if sinuosity < 1 {
		sinuosity = 1
	}
	return &TrajectoryStats{
		TotalDistance:    total,
		StraightDistance: straight,
		Sinuosity:        sinuosity,
		AvgSpeed:         t.speed,
		Direction:        t.direction,
		Pattern:          t.movementPattern(),
		Duration:         len(t.trajectory),
	}
}
