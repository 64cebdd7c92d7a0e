package nodes

import (
	"context"
	"math"
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

const (
	trajectoryMaxPoints = 50
	trajectoryTTL       = 300 * time.Second
	dwellClusterRadius  = 30
	dwellMinPoints      = 5
	turnThresholdDeg    = 45
)

type timedPoint struct {
	p vision.Point
	t time.Time
}

type trajectoryTrack struct {
	points   []timedPoint
	lastSeen time.Time
}

// trajectoryNode accumulates per-track paths and derives path metrics,
// short-term position prediction, abnormal-behaviour flags, dwell
// clusters and, across all detections, crowd statistics.
type trajectoryNode struct {
	id             string
	minLength      int
	predictFrames  int
	speedThreshold float64
	enableCrowd    bool
	tracks         map[int]*trajectoryTrack
}

func newTrajectoryNode(id string, config map[string]any) Node {
	return &trajectoryNode{
		id:             id,
		minLength:      cfgInt(config, "min_trajectory_length", 5),
		predictFrames:  cfgInt(config, "prediction_frames", 10),
		speedThreshold: cfgFloat(config, "abnormal_speed_threshold", 50),
		enableCrowd:    cfgBool(config, "enable_crowd_analysis", true),
		tracks:         make(map[int]*trajectoryTrack),
	}
}

func (n *trajectoryNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input == nil {
		return &Output{Detections: []Detection{}}, nil
	}
	now := tools.now()

	out := make([]Detection, 0, len(input.Detections))
	for _, det := range input.Detections {
		if det.TrackID == nil {
			out = append(out, det)
			continue
		}

		trk, ok := n.tracks[*det.TrackID]
		if !ok {
			trk = &trajectoryTrack{}
			n.tracks[*det.TrackID] = trk
		}
		trk.lastSeen = now
		trk.points = append(trk.points, timedPoint{p: det.Box.Center(), t: now})
		if len(trk.points) > trajectoryMaxPoints {
			trk.points = trk.points[len(trk.points)-trajectoryMaxPoints:]
		}

		if len(trk.points) >= n.minLength {
			metrics := pathMetrics(trk.points)
			det.TrajectoryAnalysis = metrics
			det.PredictedPosition = predictPosition(trk.points, n.predictFrames)
			det.AbnormalBehavior = abnormalBehavior(metrics, n.speedThreshold)
			if len(det.AbnormalBehavior) > 0 {
				det.AlertLevel = "medium"
			}
			complexity := pathComplexity(trk.points)
			det.PathComplexity = &complexity
			det.DwellAnalysis = dwellAnalysis(trk.points)
		}
		out = append(out, det)
	}

	n.expireStale(now)

	if n.enableCrowd {
		if crowd := crowdAnalysis(out); crowd != nil {
			tools.CrowdAnalysis = crowd
		}
	}

	return &Output{Detections: out}, nil
}

func (n *trajectoryNode) expireStale(now time.Time) {
	for id, trk := range n.tracks {
		if now.Sub(trk.lastSeen) > trajectoryTTL {
			delete(n.tracks, id)
		}
	}
}

func pathMetrics(points []timedPoint) *TrajectoryAnalysis {
	var (
		total   float64
		speeds  []float64
		turns   int
		prevAng = math.NaN()
	)
	for i := 1; i < len(points); i++ {
		d := points[i].p.Dist(points[i-1].p)
		total += d

		dt := points[i].t.Sub(points[i-1].t).Seconds()
		if dt < 0.001 {
			dt = 0.001
		}
		speeds = append(speeds, d/dt)

		delta := points[i].p.Sub(points[i-1].p)
		ang := math.Atan2(delta.Y, delta.X) * 180 / math.Pi
		if !math.IsNaN(prevAng) {
			diff := math.Abs(ang - prevAng)
			if diff > 180 {
				diff = 360 - diff
			}
			if diff > turnThresholdDeg {
				turns++
			}
		}
		prevAng = ang
	}

	straight := points[len(points)-1].p.Dist(points[0].p)
	mean, variance := meanVariance(speeds)
	maxSpeed, minSpeed := extrema(speeds)

	return &TrajectoryAnalysis{
		TotalDistance:      total,
		StraightDistance:   straight,
		Sinuosity:          total / math.Max(straight, 1),
		AverageSpeed:       mean,
		SpeedVariance:      variance,
		MaxSpeed:           maxSpeed,
		MinSpeed:           minSpeed,
		DirectionChanges:   turns,
		TrajectoryDuration: points[len(points)-1].t.Sub(points[0].t).Seconds(),
		Smoothness:         1 / math.Max(variance, 0.1),
	}
}

// predictPosition extrapolates the mean velocity of the last three
// segments framesAhead frames forward.
func predictPosition(points []timedPoint, framesAhead int) []float64 {
	if len(points) < 2 {
		return nil
	}
	start := len(points) - 4
	if start < 0 {
		start = 0
	}
	recent := points[start:]
	var vx, vy float64
	for i := 1; i < len(recent); i++ {
		vx += recent[i].p.X - recent[i-1].p.X
		vy += recent[i].p.Y - recent[i-1].p.Y
	}
	segs := float64(len(recent) - 1)
	last := points[len(points)-1].p
	return []float64{
		last.X + vx/segs*float64(framesAhead),
		last.Y + vy/segs*float64(framesAhead),
	}
}

func abnormalBehavior(m *TrajectoryAnalysis, speedThreshold float64) []string {
	var flags []string
	if m.MaxSpeed > speedThreshold {
		flags = append(flags, "excessive_speed")
	}
	if m.DirectionChanges > 10 {
		flags = append(flags, "erratic_movement")
	}
	if m.Smoothness < 0.3 {
		flags = append(flags, "irregular_path")
	}
	if m.Sinuosity > 3 {
		flags = append(flags, "highly_winding_path")
	}
	if m.SpeedVariance > 100 {
		flags = append(flags, "sudden_speed_changes")
	}
	return flags
}

// pathComplexity is the variance of the inter-segment heading angles.
func pathComplexity(points []timedPoint) float64 {
	var angles []float64
	for i := 1; i < len(points); i++ {
		delta := points[i].p.Sub(points[i-1].p)
		angles = append(angles, math.Atan2(delta.Y, delta.X))
	}
	_, variance := meanVariance(angles)
	return variance
}

// dwellAnalysis clusters consecutive positions staying within the
// dwell radius of their running centroid.
func dwellAnalysis(points []timedPoint) *DwellAnalysis {
	var (
		areas   []DwellArea
		cluster []timedPoint
	)
	flush := func() {
		if len(cluster) >= dwellMinPoints {
			c := clusterCentroid(cluster)
			areas = append(areas, DwellArea{
				Position: []float64{c.X, c.Y},
				Duration: cluster[len(cluster)-1].t.Sub(cluster[0].t).Seconds(),
			})
		}
		cluster = nil
	}

	for _, pt := range points {
		if len(cluster) == 0 {
			cluster = append(cluster, pt)
			continue
		}
		if pt.p.Dist(clusterCentroid(cluster)) <= dwellClusterRadius {
			cluster = append(cluster, pt)
		} else {
			flush()
			cluster = append(cluster, pt)
		}
	}
	flush()

	analysis := &DwellAnalysis{DwellAreas: areas}
	for _, a := range areas {
		analysis.TotalDwellTime += a.Duration
		if a.Duration > analysis.MaxDwellDuration {
			analysis.MaxDwellDuration = a.Duration
		}
	}
	return analysis
}

func clusterCentroid(cluster []timedPoint) vision.Point {
	var c vision.Point
	for _, pt := range cluster {
		c.X += pt.p.X
		c.Y += pt.p.Y
	}
	c.X /= float64(len(cluster))
	c.Y /= float64(len(cluster))
	return c
}

// crowdAnalysis aggregates motion across all decorated detections.
func crowdAnalysis(dets []Detection) *CrowdAnalysis {
	if len(dets) < 2 {
		return nil
	}

	var (
		speeds  []float64
		ux, uy  float64
		nDirs   int
		centers []vision.Point
	)
	for _, det := range dets {
		centers = append(centers, det.Box.Center())
		if det.Speed != nil {
			speeds = append(speeds, *det.Speed)
		}
		if det.Direction != nil {
			rad := *det.Direction * math.Pi / 180
			ux += math.Cos(rad)
			uy += math.Sin(rad)
			nDirs++
		}
	}

	meanSpeed, speedVar := meanVariance(speeds)
	analysis := &CrowdAnalysis{
		ObjectCount:    len(dets),
		AverageSpeed:   meanSpeed,
		SpeedDeviation: math.Sqrt(speedVar),
		CrowdCoherence: 1 / math.Max(math.Sqrt(speedVar), 0.1),
	}
	if nDirs > 0 {
		dominant := math.Atan2(uy, ux) * 180 / math.Pi
		analysis.DominantDirection = &dominant
	}

	var cx, cy float64
	for _, c := range centers {
		cx += c.X
		cy += c.Y
	}
	cx /= float64(len(centers))
	cy /= float64(len(centers))
	analysis.DensityCenter = []float64{cx, cy}

	var sx, sy float64
	for _, c := range centers {
		sx += (c.X - cx) * (c.X - cx)
		sy += (c.Y - cy) * (c.Y - cy)
	}
	analysis.DensitySpread = []float64{
		math.Sqrt(sx / float64(len(centers))),
		math.Sqrt(sy / float64(len(centers))),
	}
	return analysis
}

func meanVariance(values []float64) (mean, variance float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, variance
}

func extrema(values []float64) (maxV, minV float64) {
	if len(values) == 0 {
		return 0, 0
	}
	maxV, minV = values[0], values[0]
	for _, v := range values[1:] {
		if v > maxV {
			maxV = v
		}
		if v < minV {
			minV = v
		}
	}
	return maxV, minV
}
