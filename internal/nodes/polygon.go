package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// zoneHistoryTTL drops presence records for objects not seen inside
// the zone for this long.
const zoneHistoryTTL = 300 * time.Second

type zonePresence struct {
	enteredAt time.Time
	lastSeen  time.Time
}

// polygonFilterNode keeps only detections whose bottom-center point
// lies inside the configured polygon and tracks per-object zone
// presence for enter, dwell and exit events. Points on the polygon
// boundary count as inside.
type polygonFilterNode struct {
	id      string
	polygon []vision.Point
	area    float64
	present map[string]zonePresence
}

func newPolygonFilterNode(id string, config map[string]any) Node {
	polygon := cfgPoints(config, "polygon")
	if len(polygon) == 0 {
		polygon = cfgPoints(config, "points")
	}
	return &polygonFilterNode{
		id:      id,
		polygon: polygon,
		area:    vision.PolygonArea(polygon),
		present: make(map[string]zonePresence),
	}
}

func (n *polygonFilterNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input == nil || len(n.polygon) < 3 {
		return &Output{Detections: []Detection{}}, nil
	}
	now := tools.now()

	var (
		inside     []Detection
		newEntries int
		exits      int
	)
	seen := make(map[string]struct{}, len(input.Detections))

	for i, det := range input.Detections {
		key := presenceKey(det, i)
		ref := det.Box.BottomCenter()
		if !vision.PointInPolygon(ref, n.polygon) {
			if _, was := n.present[key]; was {
				delete(n.present, key)
				exits++
			}
			continue
		}

		seen[key] = struct{}{}
		p, was := n.present[key]
		if !was {
			p = zonePresence{enteredAt: now}
			det.ZoneEvent = "enter"
			newEntries++
		} else {
			det.ZoneEvent = "dwell"
			det.ZoneDwellTime = now.Sub(p.enteredAt).Seconds()
		}
		p.lastSeen = now
		n.present[key] = p
		inside = append(inside, det)
	}

	n.expireStale(now, seen)

	if tools.ZoneAnalytics != nil {
		stats := ZoneStats{
			ObjectsInZone: len(inside),
			NewEntries:    newEntries,
			Exits:         exits,
		}
		if n.area > 0 {
			stats.ZoneDensity = float64(len(inside)) / (n.area / 1000)
		}
		tools.ZoneAnalytics[n.id] = stats
	}

	if inside == nil {
		inside = []Detection{}
	}
	return &Output{Detections: inside}, nil
}

// expireStale removes presence records the detector has stopped
// reporting, after a grace period.
func (n *polygonFilterNode) expireStale(now time.Time, seen map[string]struct{}) {
	for key, p := range n.present {
		if _, ok := seen[key]; ok {
			continue
		}
		if now.Sub(p.lastSeen) > zoneHistoryTTL {
			delete(n.present, key)
		}
	}
}

func presenceKey(det Detection, idx int) string {
	if det.TrackID != nil {
		return fmt.Sprintf("track_%d", *det.TrackID)
	}
	return fmt.Sprintf("untracked_%d", idx)
}
