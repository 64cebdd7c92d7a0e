package nodes

import (
	"context"
	"math"
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

const (
	directionHistoryTTL = 60 * time.Second
	directionMaxPoints  = 10
	// directionAgreement is the minimum dot product between movement
	// and the allowed direction for a crossing to count as correct.
	directionAgreement = 0.5
)

type crossingTrack struct {
	positions []vision.Point
	crossed   bool
	lastSeen  time.Time
}

// directionFilterNode detects objects crossing a virtual line and
// splits them by travel direction. A track registers at most one
// crossing. Untracked detections pass through unchecked.
type directionFilterNode struct {
	id           string
	lineA, lineB vision.Point
	allowed      vision.Point
	hasLine      bool
	tracks       map[int]*crossingTrack

	correct int
	wrong   int
}

func newDirectionFilterNode(id string, config map[string]any) Node {
	n := &directionFilterNode{
		id:     id,
		tracks: make(map[int]*crossingTrack),
	}
	n.lineA, n.lineB, n.hasLine = cfgLine(config, "line")
	if dir := cfgPoints(config, "direction"); len(dir) == 1 {
		n.allowed = dir[0].Unit()
	} else {
		n.allowed = vision.Point{
			X: cfgFloat(config, "direction_x", 1),
			Y: cfgFloat(config, "direction_y", 0),
		}.Unit()
	}
	return n
}

func (n *directionFilterNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input == nil {
		return &Output{Detections: []Detection{}}, nil
	}
	if !n.hasLine {
		return &Output{Detections: input.Detections}, nil
	}
	now := tools.now()

	passed := make([]Detection, 0, len(input.Detections))
	var wrongWay []Detection
	var alerts []Alert

	for _, det := range input.Detections {
		if det.TrackID == nil {
			passed = append(passed, det)
			continue
		}

		trk, ok := n.tracks[*det.TrackID]
		if !ok {
			trk = &crossingTrack{}
			n.tracks[*det.TrackID] = trk
		}
		trk.lastSeen = now
		trk.positions = append(trk.positions, det.Box.Center())
		if len(trk.positions) > directionMaxPoints {
			trk.positions = trk.positions[len(trk.positions)-directionMaxPoints:]
		}

		if trk.crossed || len(trk.positions) < 2 {
			passed = append(passed, det)
			continue
		}

		prev := trk.positions[len(trk.positions)-2]
		cur := trk.positions[len(trk.positions)-1]
		if !vision.SegmentsIntersect(prev, cur, n.lineA, n.lineB) {
			passed = append(passed, det)
			continue
		}
		trk.crossed = true

		move := cur.Sub(prev).Unit()
		dot := move.Dot(n.allowed)
		angle := math.Acos(math.Max(-1, math.Min(1, dot))) * 180 / math.Pi
		speed := crossingSpeed(trk.positions)

		det.LineCrossed = true
		det.CrossingDirection = []float64{move.X, move.Y}
		det.CrossingTime = float64(now.UnixNano()) / 1e9
		det.CrossingAngle = &angle
		det.CrossingSpeed = &speed

		if dot > directionAgreement {
			n.correct++
			correct := true
			det.CorrectDirection = &correct
			passed = append(passed, det)
		} else {
			n.wrong++
			correct := false
			det.CorrectDirection = &correct
			det.ViolationType = "wrong_direction"
			det.AlertLevel = "high"
			wrongWay = append(wrongWay, det)
		}
	}

	if len(wrongWay) > 0 {
		alerts = append(alerts, Alert{
			Type:      "wrong_way_violation",
			Count:     len(wrongWay),
			Severity:  "high",
			Timestamp: float64(now.UnixNano()) / 1e9,
		})
	}

	n.expireStale(now)

	if tools.TrafficAnalytics != nil {
		total := n.correct + n.wrong
		stats := TrafficStats{
			CorrectDirection: n.correct,
			WrongDirection:   n.wrong,
			TotalCrossings:   total,
		}
		if total > 0 {
			stats.WrongWayRatio = float64(n.wrong) / float64(total)
		}
		tools.TrafficAnalytics[n.id] = stats
	}

	return &Output{Detections: passed, WrongWay: wrongWay, Alerts: alerts}, nil
}

func (n *directionFilterNode) expireStale(now time.Time) {
	for id, trk := range n.tracks {
		if now.Sub(trk.lastSeen) > directionHistoryTTL {
			delete(n.tracks, id)
		}
	}
}

// crossingSpeed is the mean inter-frame displacement over the
// remembered positions, in pixels per frame.
func crossingSpeed(positions []vision.Point) float64 {
	if len(positions) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(positions); i++ {
		total += positions[i].Dist(positions[i-1])
	}
	return total / float64(len(positions)-1)
}
