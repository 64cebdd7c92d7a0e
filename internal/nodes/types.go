package nodes

import (
	"github.com/technosupport/ts-analytics/internal/vision"
)

// Detection is one object flowing through a pipeline, progressively
// decorated by the nodes it passes.
type Detection struct {
	Box        vision.Rect `json:"box"`
	Confidence float64     `json:"confidence"`
	ClassName  string      `json:"class_name,omitempty"`
	ClassID    int         `json:"class_id,omitempty"`

	// Tracking decorations.
	TrackID            *int                `json:"track_id,omitempty"`
	Speed              *float64            `json:"speed,omitempty"`
	Direction          *float64            `json:"direction,omitempty"`
	TrajectoryLength   int                 `json:"trajectory_length,omitempty"`
	MovementPattern    string              `json:"movement_pattern,omitempty"`
	TrajectoryAnalysis *TrajectoryAnalysis `json:"trajectory_analysis,omitempty"`

	// Zone decorations.
	ZoneEvent     string  `json:"zone_event,omitempty"`
	ZoneDwellTime float64 `json:"zone_dwell_time,omitempty"`

	// Line-crossing decorations.
	LineCrossed       bool      `json:"line_crossed,omitempty"`
	CrossingDirection []float64 `json:"crossing_direction,omitempty"`
	CrossingTime      float64   `json:"crossing_time,omitempty"`
	CorrectDirection  *bool     `json:"correct_direction,omitempty"`
	CrossingSpeed     *float64  `json:"crossing_speed,omitempty"`
	CrossingAngle     *float64  `json:"crossing_angle,omitempty"`
	ViolationType     string    `json:"violation_type,omitempty"`
	AlertLevel        string    `json:"alert_level,omitempty"`

	// Loitering decorations.
	Loitering           bool    `json:"loitering,omitempty"`
	LoiteringDuration   float64 `json:"loitering_duration,omitempty"`
	LoiteringConfidence string  `json:"loitering_confidence,omitempty"`
	TrackerHits         int     `json:"tracker_hits,omitempty"`
	ObjectID            *int    `json:"object_id,omitempty"`
	DetectionType       string  `json:"detection_type,omitempty"`

	// Trajectory-analysis decorations.
	PredictedPosition []float64      `json:"predicted_position,omitempty"`
	AbnormalBehavior  []string       `json:"abnormal_behavior,omitempty"`
	PathComplexity    *float64       `json:"path_complexity,omitempty"`
	DwellAnalysis     *DwellAnalysis `json:"dwell_analysis,omitempty"`
}

// TrajectoryAnalysis summarises a track's path. The detection node
// fills the subset the tracker computes; the trajectoryAnalysis node
// fills all fields.
type TrajectoryAnalysis struct {
	TotalDistance      float64 `json:"total_distance"`
	StraightDistance   float64 `json:"straight_distance"`
	Sinuosity          float64 `json:"sinuosity"`
	AverageSpeed       float64 `json:"average_speed"`
	SpeedVariance      float64 `json:"speed_variance,omitempty"`
	MaxSpeed           float64 `json:"max_speed,omitempty"`
	MinSpeed           float64 `json:"min_speed,omitempty"`
	DirectionChanges   int     `json:"direction_changes,omitempty"`
	TrajectoryDuration float64 `json:"trajectory_duration,omitempty"`
	Smoothness         float64 `json:"smoothness,omitempty"`
	Direction          float64 `json:"direction,omitempty"`
	Pattern            string  `json:"pattern,omitempty"`
}

// DwellAnalysis describes where a track lingered.
type DwellAnalysis struct {
	DwellAreas       []DwellArea `json:"dwell_areas"`
	TotalDwellTime   float64     `json:"total_dwell_time"`
	MaxDwellDuration float64     `json:"max_dwell_duration"`
}

// DwellArea is one cluster of near-stationary positions.
type DwellArea struct {
	Position []float64 `json:"position"`
	Duration float64   `json:"duration"`
}

// Alert is a summarised incident raised by a filter node.
type Alert struct {
	Type      string  `json:"type"`
	Count     int     `json:"count"`
	Severity  string  `json:"severity"`
	Timestamp float64 `json:"timestamp"`
}

// Identity is the recognition outcome attached to a face.
type Identity struct {
	Name       string  `json:"name,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Face is one detected face, optionally with embedding and identity.
type Face struct {
	Box        vision.Rect `json:"box"`
	Confidence float64     `json:"confidence"`
	Embedding  []float64   `json:"embedding,omitempty"`
	Identity   *Identity   `json:"identity,omitempty"`
	Matched    bool        `json:"-"`
}

// ZoneStats are the per-node polygon zone counters.
type ZoneStats struct {
	ObjectsInZone int     `json:"objects_in_zone"`
	NewEntries    int     `json:"new_entries"`
	Exits         int     `json:"exits"`
	ZoneDensity   float64 `json:"zone_density"`
}

// TrafficStats are the per-node direction-filter counters.
type TrafficStats struct {
	CorrectDirection int     `json:"correct_direction"`
	WrongDirection   int     `json:"wrong_direction"`
	TotalCrossings   int     `json:"total_crossings"`
	WrongWayRatio    float64 `json:"wrong_way_ratio"`
}

// CrowdAnalysis summarises aggregate movement across detections.
type CrowdAnalysis struct {
	ObjectCount       int       `json:"object_count"`
	AverageSpeed      float64   `json:"average_speed"`
	SpeedDeviation    float64   `json:"speed_deviation"`
	DominantDirection *float64  `json:"dominant_direction"`
	DensityCenter     []float64 `json:"density_center,omitempty"`
	DensitySpread     []float64 `json:"density_spread,omitempty"`
	CrowdCoherence    float64   `json:"crowd_coherence"`
}

// Output is one node's result map. Merging is per field, last write
// wins, mirroring how predecessor outputs combine into a node input.
type Output struct {
	Detections []Detection `json:"detections,omitempty"`
	WrongWay   []Detection `json:"wrong_way_detections,omitempty"`
	Alerts     []Alert     `json:"alerts,omitempty"`
	Faces      []Face      `json:"faces,omitempty"`
	Embeddings []Face      `json:"embeddings,omitempty"`
}

// Merge folds another output into this one, field-wise.
func (o *Output) Merge(other *Output) {
	if other == nil {
		return
	}
	if other.Detections != nil {
		o.Detections = other.Detections
	}
	if other.WrongWay != nil {
		o.WrongWay = other.WrongWay
	}
	if other.Alerts != nil {
		o.Alerts = other.Alerts
	}
	if other.Faces != nil {
		o.Faces = other.Faces
	}
	if other.Embeddings != nil {
		o.Embeddings = other.Embeddings
	}
}

// FromVision wraps raw detector output into pipeline detections.
func FromVision(dets []vision.Detection) []Detection {
	out := make([]Detection, len(dets))
	for i, d := range dets {
		out[i] = Detection{
			Box:        d.Box,
			Confidence: d.Confidence,
			ClassName:  d.ClassName,
			ClassID:    d.ClassID,
		}
	}
	return out
}

// ToVision strips decorations for tracker consumption.
func ToVision(dets []Detection) []vision.Detection {
	out := make([]vision.Detection, len(dets))
	for i, d := range dets {
		out[i] = vision.Detection{
			Box:        d.Box,
			Confidence: d.Confidence,
			ClassName:  d.ClassName,
			ClassID:    d.ClassID,
		}
	}
	return out
}
