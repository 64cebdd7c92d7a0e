package nodes

import (
	"context"
	"math"
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// loiterBoxTolerance is the mean per-coordinate difference under which
// a tracker box and a detector box count as the same object.
const loiterBoxTolerance = 10

// loiteringNode reports only objects that stayed near one spot longer
// than the configured threshold. With the advanced tracker active it
// emits synthetic detections straight from the tracker state; after a
// fallback it decorates matching input detections instead.
type loiteringNode struct {
	id        string
	threshold time.Duration
}

func newLoiteringNode(id string, config map[string]any) Node {
	return &loiteringNode{
		id:        id,
		threshold: time.Duration(cfgFloat(config, "time_threshold", 10) * float64(time.Second)),
	}
}

func (n *loiteringNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if tools.Tracker == nil {
		return &Output{Detections: []Detection{}}, nil
	}

	detailed := tools.Tracker.DetailedLoitering(n.threshold)
	ids := tools.Tracker.LoiteringIDs(n.threshold)

	loitering := make([]Detection, 0, len(ids))
	if tools.Tracker.Stats().CurrentMode == "advanced" {
		for _, id := range ids {
			info, ok := detailed[id]
			if !ok {
				continue
			}
			objectID := id
			loitering = append(loitering, Detection{
				Box:                 info.Box,
				ClassName:           "person",
				Confidence:          0.9,
				Loitering:           true,
				LoiteringDuration:   info.Duration.Seconds(),
				LoiteringConfidence: info.Confidence,
				TrackerHits:         info.Hits,
				ObjectID:            &objectID,
				DetectionType:       "advanced_loitering",
			})
		}
		return &Output{Detections: loitering}, nil
	}

	var inputDets []Detection
	if input != nil {
		inputDets = input.Detections
	}
	for _, id := range ids {
		info, ok := detailed[id]
		if !ok {
			continue
		}
		objectID := id
		det := Detection{
			Box:        info.Box,
			ClassName:  "person",
			Confidence: 0.9,
		}
		if match := closestDetection(inputDets, info.Box); match != nil {
			det = *match
		}
		det.Loitering = true
		det.LoiteringDuration = info.Duration.Seconds()
		det.LoiteringConfidence = info.Confidence
		det.ObjectID = &objectID
		det.DetectionType = "basic_loitering"
		loitering = append(loitering, det)
	}
	return &Output{Detections: loitering}, nil
}

// closestDetection finds the input detection whose box coordinates
// average within the tolerance of the tracker box.
func closestDetection(dets []Detection, box vision.Rect) *Detection {
	for i := range dets {
		b := dets[i].Box
		diff := (math.Abs(b.X1-box.X1) + math.Abs(b.Y1-box.Y1) +
			math.Abs(b.X2-box.X2) + math.Abs(b.Y2-box.Y2)) / 4
		if diff <= loiterBoxTolerance {
			return &dets[i]
		}
	}
	return nil
}
