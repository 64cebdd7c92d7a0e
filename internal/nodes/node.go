package nodes

import (
	"context"
	"time"

	"github.com/technosupport/ts-analytics/internal/models"
	"github.com/technosupport/ts-analytics/internal/tracker"
	"github.com/technosupport/ts-analytics/internal/vision"
)

// Node is one processing step of a pipeline graph. Implementations
// keep per-track state across frames, so one instance serves one node
// of one pipeline for the pipeline's lifetime.
type Node interface {
	Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error)
}

// EventRecord is what a sink node persists.
type EventRecord struct {
	PipelineID int
	CameraName string
	EventType  string
	Message    string
	Details    any
}

// EventRecorder persists an event row plus its frame snapshot and
// notifies subscribed clients.
type EventRecorder interface {
	Record(ctx context.Context, frame *vision.Frame, ev EventRecord) error
}

// NotificationPublisher queues a deferred notification.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, subject, body string) error
}

// IdentityResult is the outcome of a face-embedding lookup.
type IdentityResult struct {
	Match      bool
	Name       string
	Similarity float64
}

// IdentityMatcher resolves a face embedding against stored identities.
type IdentityMatcher interface {
	MatchIdentity(ctx context.Context, embedding []float64) (*IdentityResult, error)
}

// Tools is the per-pipeline shared context handed to every node.
type Tools struct {
	Models       *models.Registry
	Tracker      *tracker.Hybrid
	CameraName   string
	PipelineID   int
	PipelineName string
	FrameMeta    map[string]any

	Recorder EventRecorder
	Notifier NotificationPublisher
	Identity IdentityMatcher

	ZoneAnalytics    map[string]ZoneStats
	TrafficAnalytics map[string]TrafficStats
	CrowdAnalysis    *CrowdAnalysis

	// Now is the node clock; tests override it.
	Now func() time.Time
}

func (t *Tools) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Constructor builds a node instance from its graph configuration.
type Constructor func(id string, config map[string]any) Node

var constructors = map[string]Constructor{
	"objectDetection":    newDetectionNode,
	"polygonFilter":      newPolygonFilterNode,
	"directionFilter":    newDirectionFilterNode,
	"loiteringDetection": newLoiteringNode,
	"trajectoryAnalysis": newTrajectoryNode,
	"dataSink":           newDataSinkNode,
	"notification":       newNotificationNode,
	"telegram":           newTelegramNode,
	"email":              newEmailNode,
	"whatsapp":           newWhatsAppNode,
	"faceDetector":       newFaceDetectorNode,
	"faceEmbedding":      newFaceEmbeddingNode,
	"faceMatcher":        newFaceMatcherNode,
}

// New builds a node of the given type; ok is false for unknown types.
func New(nodeType, id string, config map[string]any) (Node, bool) {
	c, ok := constructors[nodeType]
	if !ok {
		return nil, false
	}
	return c(id, config), true
}
