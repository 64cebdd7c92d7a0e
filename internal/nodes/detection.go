package nodes

import (
	"context"
	"fmt"

	"github.com/technosupport/ts-analytics/internal/tracker"
	"github.com/technosupport/ts-analytics/internal/vision"
)

// trackMatchRadius is how far (px) a detection center may sit from a
// track center and still inherit that track's decorations.
const trackMatchRadius = 50

type detectionNode struct {
	id             string
	model          string
	classes        map[string]struct{}
	minConfidence  float64
	enableTracking bool
}

func newDetectionNode(id string, config map[string]any) Node {
	// model_filename is the canonical key; older graphs used "model".
	model := cfgString(config, "model_filename", "")
	if model == "" {
		model = cfgString(config, "model", "")
	}
	n := &detectionNode{
		id:             id,
		model:          model,
		minConfidence:  cfgFloat(config, "confidence", 0.5),
		enableTracking: cfgBool(config, "enable_tracking", true),
	}
	if classes := cfgStrings(config, "classes"); len(classes) > 0 {
		n.classes = make(map[string]struct{}, len(classes))
		for _, c := range classes {
			n.classes[c] = struct{}{}
		}
	}
	return n
}

func (n *detectionNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	detector := tools.Models.Get(n.model)
	raw, err := detector.Detect(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("node %s: inference: %w", n.id, err)
	}

	kept := raw[:0]
	for _, d := range raw {
		if d.Confidence < n.minConfidence {
			continue
		}
		if n.classes != nil {
			if _, ok := n.classes[d.ClassName]; !ok {
				continue
			}
		}
		kept = append(kept, d)
	}

	detections := FromVision(kept)
	if n.enableTracking && tools.Tracker != nil {
		objects := tools.Tracker.Update(frame, kept)
		decorateWithTracks(detections, objects)
	}

	return &Output{Detections: detections}, nil
}

// decorateWithTracks attaches track identity and motion summaries to
// detections near a confirmed track center.
func decorateWithTracks(detections []Detection, objects []tracker.Object) {
	for i := range detections {
		center := detections[i].Box.Center()
		for j := range objects {
			if center.Dist(objects[j].Box.Center()) > trackMatchRadius {
				continue
			}
			obj := objects[j]
			id := obj.ID
			speed := obj.Speed
			direction := obj.Direction
			detections[i].TrackID = &id
			detections[i].Speed = &speed
			detections[i].Direction = &direction
			detections[i].TrajectoryLength = len(obj.Trajectory)
			detections[i].MovementPattern = obj.MovementPattern
			if s := obj.TrajectoryStats; s != nil {
				detections[i].TrajectoryAnalysis = &TrajectoryAnalysis{
					TotalDistance:    s.TotalDistance,
					StraightDistance: s.StraightDistance,
					Sinuosity:        s.Sinuosity,
					AverageSpeed:     s.AvgSpeed,
					Direction:        s.Direction,
					Pattern:          s.Pattern,
				}
			}
			break
		}
	}
}
