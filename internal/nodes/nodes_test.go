package nodes

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-analytics/internal/models"
	"github.com/technosupport/ts-analytics/internal/tracker"
	"github.com/technosupport/ts-analytics/internal/vision"
)

func testFrame() *vision.Frame {
	return &vision.Frame{
		Image:      image.NewRGBA(image.Rect(0, 0, 320, 240)),
		CameraName: "cam-A",
		Timestamp:  time.Now(),
	}
}

func testTools() *Tools {
	return &Tools{
		CameraName:       "cam-A",
		PipelineID:       7,
		PipelineName:     "entrance",
		ZoneAnalytics:    make(map[string]ZoneStats),
		TrafficAnalytics: make(map[string]TrafficStats),
	}
}

func trackedDet(id int, box vision.Rect) Detection {
	return Detection{Box: box, Confidence: 0.9, ClassName: "person", TrackID: &id}
}

func TestNewKnownNodeTypes(t *testing.T) {
	for _, nodeType := range []string{
		"objectDetection", "polygonFilter", "directionFilter",
		"loiteringDetection", "trajectoryAnalysis", "dataSink",
		"notification", "telegram", "email", "whatsapp",
		"faceDetector", "faceEmbedding", "faceMatcher",
	} {
		n, ok := New(nodeType, "n1", map[string]any{})
		require.True(t, ok, nodeType)
		require.NotNil(t, n, nodeType)
	}

	_, ok := New("videoInput", "n0", nil)
	assert.False(t, ok)
	_, ok = New("bogus", "n9", nil)
	assert.False(t, ok)
}

func TestOutputMergeLastWriteWins(t *testing.T) {
	a := &Output{Detections: []Detection{{ClassName: "person"}}, Alerts: []Alert{{Type: "x"}}}
	b := &Output{Detections: []Detection{{ClassName: "car"}, {ClassName: "truck"}}}

	a.Merge(b)
	require.Len(t, a.Detections, 2)
	assert.Equal(t, "car", a.Detections[0].ClassName)
	// Fields absent from the newer output survive.
	require.Len(t, a.Alerts, 1)

	a.Merge(nil)
	require.Len(t, a.Detections, 2)
}

func TestPolygonFilterZoneEvents(t *testing.T) {
	n := newPolygonFilterNode("zone1", map[string]any{
		"polygon": []any{
			[]any{0.0, 0.0}, []any{100.0, 0.0},
			[]any{100.0, 100.0}, []any{0.0, 100.0},
		},
	})

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tools := testTools()
	tools.Now = func() time.Time { return now }

	inside := trackedDet(1, vision.Rect{X1: 40, Y1: 30, X2: 60, Y2: 80})
	outside := trackedDet(2, vision.Rect{X1: 200, Y1: 200, X2: 220, Y2: 230})

	out, err := n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{inside, outside}}, tools)
	require.NoError(t, err)
	require.Len(t, out.Detections, 1)
	assert.Equal(t, "enter", out.Detections[0].ZoneEvent)
	assert.Equal(t, 1, tools.ZoneAnalytics["zone1"].NewEntries)
	assert.Equal(t, 1, tools.ZoneAnalytics["zone1"].ObjectsInZone)
	assert.InDelta(t, 1.0/(10000.0/1000), tools.ZoneAnalytics["zone1"].ZoneDensity, 1e-9)

	now = now.Add(3 * time.Second)
	out, err = n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{inside}}, tools)
	require.NoError(t, err)
	require.Len(t, out.Detections, 1)
	assert.Equal(t, "dwell", out.Detections[0].ZoneEvent)
	assert.InDelta(t, 3.0, out.Detections[0].ZoneDwellTime, 1e-9)
}

func TestPolygonFilterBoundaryCountsAsInside(t *testing.T) {
	n := newPolygonFilterNode("zone1", map[string]any{
		"polygon": []any{
			[]any{0.0, 0.0}, []any{100.0, 0.0},
			[]any{100.0, 100.0}, []any{0.0, 100.0},
		},
	})
	tools := testTools()

	// Bottom-center lands exactly on the polygon edge (50, 100).
	onEdge := trackedDet(1, vision.Rect{X1: 40, Y1: 60, X2: 60, Y2: 100})
	for i := 0; i < 5; i++ {
		out, err := n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{onEdge}}, tools)
		require.NoError(t, err)
		require.Len(t, out.Detections, 1, "iteration %d", i)
	}
}

func TestDirectionFilterWrongWay(t *testing.T) {
	n := newDirectionFilterNode("dir1", map[string]any{
		"line":      []any{[]any{0.0, 50.0}, []any{100.0, 50.0}},
		"direction": []any{[]any{1.0, 0.0}},
	})
	tools := testTools()

	above := trackedDet(1, vision.Rect{X1: 25, Y1: 0, X2: 75, Y2: 40})   // center (50,20)
	below := trackedDet(1, vision.Rect{X1: 25, Y1: 60, X2: 75, Y2: 100}) // center (50,80)

	out, err := n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{above}}, tools)
	require.NoError(t, err)
	require.Len(t, out.Detections, 1)
	assert.Empty(t, out.WrongWay)

	out, err = n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{below}}, tools)
	require.NoError(t, err)
	require.Len(t, out.WrongWay, 1)
	assert.Empty(t, out.Detections)

	violation := out.WrongWay[0]
	assert.True(t, violation.LineCrossed)
	assert.Equal(t, "wrong_direction", violation.ViolationType)
	assert.Equal(t, "high", violation.AlertLevel)
	require.NotNil(t, violation.CorrectDirection)
	assert.False(t, *violation.CorrectDirection)
	require.NotNil(t, violation.CrossingAngle)
	assert.InDelta(t, 90, *violation.CrossingAngle, 1e-6)

	require.Len(t, out.Alerts, 1)
	assert.Equal(t, "wrong_way_violation", out.Alerts[0].Type)
	assert.Equal(t, "high", out.Alerts[0].Severity)

	stats := tools.TrafficAnalytics["dir1"]
	assert.Equal(t, 1, stats.WrongDirection)
	assert.Equal(t, 1, stats.TotalCrossings)
	assert.InDelta(t, 1.0, stats.WrongWayRatio, 1e-9)
}

func TestDirectionFilterCorrectDirection(t *testing.T) {
	n := newDirectionFilterNode("dir1", map[string]any{
		"line":      []any{[]any{0.0, 50.0}, []any{100.0, 50.0}},
		"direction": []any{[]any{0.0, 1.0}},
	})
	tools := testTools()

	above := trackedDet(3, vision.Rect{X1: 25, Y1: 0, X2: 75, Y2: 40})
	below := trackedDet(3, vision.Rect{X1: 25, Y1: 60, X2: 75, Y2: 100})

	_, err := n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{above}}, tools)
	require.NoError(t, err)
	out, err := n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{below}}, tools)
	require.NoError(t, err)

	require.Len(t, out.Detections, 1)
	assert.Empty(t, out.WrongWay)
	require.NotNil(t, out.Detections[0].CorrectDirection)
	assert.True(t, *out.Detections[0].CorrectDirection)
	assert.Equal(t, 1, tools.TrafficAnalytics["dir1"].CorrectDirection)
}

func TestDirectionFilterOneCrossingPerTrack(t *testing.T) {
	n := newDirectionFilterNode("dir1", map[string]any{
		"line":      []any{[]any{0.0, 50.0}, []any{100.0, 50.0}},
		"direction": []any{[]any{0.0, 1.0}},
	})
	tools := testTools()

	boxes := []vision.Rect{
		{X1: 25, Y1: 0, X2: 75, Y2: 40},
		{X1: 25, Y1: 60, X2: 75, Y2: 100},
		{X1: 25, Y1: 0, X2: 75, Y2: 40}, // back across the line
	}
	for _, box := range boxes {
		_, err := n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{trackedDet(5, box)}}, tools)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tools.TrafficAnalytics["dir1"].TotalCrossings)
}

func TestDirectionFilterUntrackedPassThrough(t *testing.T) {
	n := newDirectionFilterNode("dir1", map[string]any{
		"line": []any{[]any{0.0, 50.0}, []any{100.0, 50.0}},
	})
	tools := testTools()

	det := Detection{Box: vision.Rect{X1: 25, Y1: 60, X2: 75, Y2: 100}, ClassName: "car"}
	out, err := n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{det}}, tools)
	require.NoError(t, err)
	require.Len(t, out.Detections, 1)
	assert.False(t, out.Detections[0].LineCrossed)
}

func TestLoiteringNodeFallbackMode(t *testing.T) {
	trk := tracker.NewHybrid(tracker.Config{
		UseAdvanced:        false,
		MaxDisappeared:     2,
		LoiteringThreshold: time.Millisecond,
	})
	tools := testTools()
	tools.Tracker = trk

	box := vision.Rect{X1: 40, Y1: 40, X2: 80, Y2: 120}
	det := vision.Detection{Box: box, Confidence: 0.9, ClassName: "person"}
	for i := 0; i < 3; i++ {
		trk.Update(testFrame(), []vision.Detection{det})
	}
	time.Sleep(5 * time.Millisecond)
	trk.Update(testFrame(), []vision.Detection{det})

	n := newLoiteringNode("loiter1", map[string]any{"time_threshold": 0.001})
	input := &Output{Detections: []Detection{{Box: box, Confidence: 0.92, ClassName: "person"}}}
	out, err := n.Execute(context.Background(), testFrame(), input, tools)
	require.NoError(t, err)

	require.Len(t, out.Detections, 1)
	got := out.Detections[0]
	assert.Equal(t, "basic_loitering", got.DetectionType)
	assert.True(t, got.Loitering)
	assert.Greater(t, got.LoiteringDuration, 0.0)
	assert.Equal(t, "MEDIUM", got.LoiteringConfidence)
	require.NotNil(t, got.ObjectID)
	// The matched input detection keeps its own confidence.
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
}

func TestLoiteringNodeAdvancedMode(t *testing.T) {
	noFeatures := func(_ *vision.Frame, dets []vision.Detection) ([][]float32, error) {
		return make([][]float32, len(dets)), nil
	}
	trk := tracker.NewHybrid(tracker.Config{
		UseAdvanced:        true,
		Features:           noFeatures,
		LoiteringThreshold: time.Millisecond,
	})
	tools := testTools()
	tools.Tracker = trk

	det := vision.Detection{Box: vision.Rect{X1: 40, Y1: 40, X2: 80, Y2: 120}, Confidence: 0.9, ClassName: "person"}
	for i := 0; i < 12; i++ {
		trk.Update(testFrame(), []vision.Detection{det})
	}
	time.Sleep(5 * time.Millisecond)
	trk.Update(testFrame(), []vision.Detection{det})

	n := newLoiteringNode("loiter1", map[string]any{"time_threshold": 0.001})
	out, err := n.Execute(context.Background(), testFrame(), &Output{}, tools)
	require.NoError(t, err)

	require.Len(t, out.Detections, 1)
	got := out.Detections[0]
	assert.Equal(t, "advanced_loitering", got.DetectionType)
	assert.Equal(t, "person", got.ClassName)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.True(t, got.Loitering)
	assert.Greater(t, got.TrackerHits, 0)
	require.NotNil(t, got.ObjectID)
}

func TestTrajectoryNodeMetricsAndPrediction(t *testing.T) {
	n := newTrajectoryNode("traj1", map[string]any{})
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tools := testTools()
	tools.Now = func() time.Time { return now }

	var out *Output
	var err error
	for i := 0; i < 6; i++ {
		x := float64(i * 10)
		det := trackedDet(1, vision.Rect{X1: x - 5, Y1: -5, X2: x + 5, Y2: 5})
		out, err = n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{det}}, tools)
		require.NoError(t, err)
		now = now.Add(100 * time.Millisecond)
	}

	require.Len(t, out.Detections, 1)
	got := out.Detections[0]
	require.NotNil(t, got.TrajectoryAnalysis)
	assert.InDelta(t, 50, got.TrajectoryAnalysis.TotalDistance, 1e-6)
	assert.InDelta(t, 50, got.TrajectoryAnalysis.StraightDistance, 1e-6)
	assert.InDelta(t, 1, got.TrajectoryAnalysis.Sinuosity, 1e-6)
	assert.InDelta(t, 100, got.TrajectoryAnalysis.AverageSpeed, 1e-6)
	assert.InDelta(t, 0.5, got.TrajectoryAnalysis.TrajectoryDuration, 1e-6)
	assert.Equal(t, 0, got.TrajectoryAnalysis.DirectionChanges)

	// Constant 10px per frame continues for the lookahead window.
	require.Len(t, got.PredictedPosition, 2)
	assert.InDelta(t, 150, got.PredictedPosition[0], 1e-6)
	assert.InDelta(t, 0, got.PredictedPosition[1], 1e-6)

	// 100 px/s peaks above the speeding threshold.
	assert.Contains(t, got.AbnormalBehavior, "excessive_speed")
	assert.Equal(t, "medium", got.AlertLevel)
}

func TestTrajectoryNodeCrowdAnalysis(t *testing.T) {
	n := newTrajectoryNode("traj1", map[string]any{})
	tools := testTools()

	speed := 5.0
	dir := 0.0
	dets := []Detection{
		{Box: vision.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Speed: &speed, Direction: &dir},
		{Box: vision.Rect{X1: 20, Y1: 0, X2: 30, Y2: 10}, Speed: &speed, Direction: &dir},
	}
	_, err := n.Execute(context.Background(), testFrame(), &Output{Detections: dets}, tools)
	require.NoError(t, err)

	require.NotNil(t, tools.CrowdAnalysis)
	assert.Equal(t, 2, tools.CrowdAnalysis.ObjectCount)
	assert.InDelta(t, 5.0, tools.CrowdAnalysis.AverageSpeed, 1e-9)
	require.NotNil(t, tools.CrowdAnalysis.DominantDirection)
	assert.InDelta(t, 0.0, *tools.CrowdAnalysis.DominantDirection, 1e-6)
	assert.InDelta(t, 15.0, tools.CrowdAnalysis.DensityCenter[0], 1e-9)
}

func TestTrajectoryNodeConfigurableThresholds(t *testing.T) {
	n := newTrajectoryNode("traj1", map[string]any{
		"prediction_frames":        2,
		"abnormal_speed_threshold": 500.0,
	})
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	tools := testTools()
	tools.Now = func() time.Time { return now }

	var out *Output
	var err error
	for i := 0; i < 6; i++ {
		x := float64(i * 10)
		det := trackedDet(1, vision.Rect{X1: x - 5, Y1: -5, X2: x + 5, Y2: 5})
		out, err = n.Execute(context.Background(), testFrame(), &Output{Detections: []Detection{det}}, tools)
		require.NoError(t, err)
		now = now.Add(100 * time.Millisecond)
	}

	require.Len(t, out.Detections, 1)
	got := out.Detections[0]

	// 10 px per frame extrapolated 2 frames from x=50.
	require.Len(t, got.PredictedPosition, 2)
	assert.InDelta(t, 70, got.PredictedPosition[0], 1e-6)

	// 100 px/s stays under the raised speeding threshold.
	assert.NotContains(t, got.AbnormalBehavior, "excessive_speed")
	assert.Empty(t, got.AlertLevel)
}

func TestTrajectoryNodeCrowdAnalysisDisabled(t *testing.T) {
	n := newTrajectoryNode("traj1", map[string]any{"enable_crowd_analysis": false})
	tools := testTools()

	speed := 5.0
	dets := []Detection{
		{Box: vision.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Speed: &speed},
		{Box: vision.Rect{X1: 20, Y1: 0, X2: 30, Y2: 10}, Speed: &speed},
	}
	_, err := n.Execute(context.Background(), testFrame(), &Output{Detections: dets}, tools)
	require.NoError(t, err)
	assert.Nil(t, tools.CrowdAnalysis)
}

type staticDetector struct{ dets []vision.Detection }

func (d staticDetector) Detect(image.Image) ([]vision.Detection, error) { return d.dets, nil }

func TestDetectionNodeUsesConfiguredModelFilename(t *testing.T) {
	var loadedPaths []string
	reg := models.NewRegistry("/models", false, func(path string, _ bool) (models.Detector, error) {
		loadedPaths = append(loadedPaths, path)
		return staticDetector{}, nil
	})
	tools := testTools()
	tools.Models = reg

	n, ok := New("objectDetection", "det1", map[string]any{"model_filename": "custom_model.onnx"})
	require.True(t, ok)
	_, err := n.Execute(context.Background(), testFrame(), &Output{}, tools)
	require.NoError(t, err)

	require.NotEmpty(t, loadedPaths)
	assert.Contains(t, loadedPaths[0], "custom_model.onnx")

	// Older graphs name the model under "model".
	legacy, ok := New("objectDetection", "det2", map[string]any{"model": "legacy.pt"})
	require.True(t, ok)
	_, err = legacy.Execute(context.Background(), testFrame(), &Output{}, tools)
	require.NoError(t, err)
	require.Len(t, loadedPaths, 2)
	assert.Contains(t, loadedPaths[1], "legacy.pt")
}

type captureRecorder struct {
	events []EventRecord
	err    error
}

func (r *captureRecorder) Record(_ context.Context, _ *vision.Frame, ev EventRecord) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestDataSinkRecordsEvent(t *testing.T) {
	rec := &captureRecorder{}
	tools := testTools()
	tools.Recorder = rec

	n := newDataSinkNode("sink1", map[string]any{"event_type": "Intrusion"})
	input := &Output{Detections: []Detection{trackedDet(1, vision.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10})}}

	out, err := n.Execute(context.Background(), testFrame(), input, tools)
	require.NoError(t, err)
	assert.Empty(t, out.Detections)

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, 7, ev.PipelineID)
	assert.Equal(t, "cam-A", ev.CameraName)
	assert.Equal(t, "Intrusion", ev.EventType)
	assert.Equal(t, "1 objeto(s) do tipo 'Intrusion' detectados.", ev.Message)
}

func TestDataSinkSkipsWithoutDetections(t *testing.T) {
	rec := &captureRecorder{}
	tools := testTools()
	tools.Recorder = rec

	n := newDataSinkNode("sink1", nil)
	_, err := n.Execute(context.Background(), testFrame(), &Output{}, tools)
	require.NoError(t, err)
	assert.Empty(t, rec.events)
}

func TestDataSinkSwallowsRecorderError(t *testing.T) {
	rec := &captureRecorder{err: assert.AnError}
	tools := testTools()
	tools.Recorder = rec

	n := newDataSinkNode("sink1", nil)
	input := &Output{Detections: []Detection{{Box: vision.Rect{X2: 1, Y2: 1}}}}
	_, err := n.Execute(context.Background(), testFrame(), input, tools)
	assert.NoError(t, err)
}

type captureNotifier struct {
	subjects []string
	bodies   []string
}

func (c *captureNotifier) PublishNotification(_ context.Context, subject, body string) error {
	c.subjects = append(c.subjects, subject)
	c.bodies = append(c.bodies, body)
	return nil
}

func TestNotificationNode(t *testing.T) {
	notifier := &captureNotifier{}
	tools := testTools()
	tools.Notifier = notifier

	n := newNotificationNode("n1", map[string]any{})
	input := &Output{Detections: []Detection{{}, {}}}
	_, err := n.Execute(context.Background(), testFrame(), input, tools)
	require.NoError(t, err)

	require.Len(t, notifier.subjects, 1)
	assert.Equal(t, "Alerta do Pipeline: entrance", notifier.subjects[0])
	assert.Equal(t, "Alerta: 2 objeto(s) detectado(s) na câmera cam-A.", notifier.bodies[0])

	_, err = n.Execute(context.Background(), testFrame(), &Output{}, tools)
	require.NoError(t, err)
	assert.Len(t, notifier.subjects, 1)
}

func TestTelegramNode(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTelegramNode("tg1", map[string]any{
		"bot_token": "token123",
		"chat_id":   "chat42",
		"message":   "{count} em {camera}",
	}).(*telegramNode)
	n.apiBase = srv.URL

	input := &Output{Detections: []Detection{{}}}
	_, err := n.Execute(context.Background(), testFrame(), input, testTools())
	require.NoError(t, err)

	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "chat42", gotPayload["chat_id"])
	assert.Equal(t, "1 em cam-A", gotPayload["text"])
	assert.Equal(t, "Markdown", gotPayload["parse_mode"])
}

func TestTelegramNodeSkipsWithoutCredentials(t *testing.T) {
	n := newTelegramNode("tg1", map[string]any{})
	input := &Output{Detections: []Detection{{}}}
	out, err := n.Execute(context.Background(), testFrame(), input, testTools())
	require.NoError(t, err)
	assert.Empty(t, out.Detections)
}

type fakeMatcher struct {
	result *IdentityResult
	err    error
	calls  int
}

func (m *fakeMatcher) MatchIdentity(_ context.Context, _ []float64) (*IdentityResult, error) {
	m.calls++
	return m.result, m.err
}

func TestFaceEmbeddingDeterministic(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Pix[(y*64+x)*4] = uint8(x * 4)
			img.Pix[(y*64+x)*4+1] = uint8(y * 4)
			img.Pix[(y*64+x)*4+3] = 255
		}
	}

	a, err := FaceEmbedding(img)
	require.NoError(t, err)
	b, err := FaceEmbedding(img)
	require.NoError(t, err)

	require.Len(t, a, 512)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-9)
}

func TestFaceEmbeddingNode(t *testing.T) {
	n := newFaceEmbeddingNode("emb1", nil)
	frame := testFrame()
	input := &Output{Faces: []Face{{Box: vision.Rect{X1: 10, Y1: 10, X2: 60, Y2: 70}, Confidence: 0.99}}}

	out, err := n.Execute(context.Background(), frame, input, testTools())
	require.NoError(t, err)
	require.Len(t, out.Embeddings, 1)
	assert.Len(t, out.Embeddings[0].Embedding, 512)
}

func TestFaceMatcherNode(t *testing.T) {
	matcher := &fakeMatcher{result: &IdentityResult{Match: true, Name: "alice", Similarity: 0.93456}}
	tools := testTools()
	tools.Identity = matcher

	n := newFaceMatcherNode("match1", nil)
	input := &Output{Embeddings: []Face{{Embedding: make([]float64, 512)}}}

	out, err := n.Execute(context.Background(), testFrame(), input, tools)
	require.NoError(t, err)
	require.Len(t, out.Faces, 1)
	require.NotNil(t, out.Faces[0].Identity)
	assert.Equal(t, "alice", out.Faces[0].Identity.Name)
	assert.InDelta(t, 0.93, out.Faces[0].Identity.Similarity, 1e-9)
	assert.Equal(t, 1, matcher.calls)
}

func TestFaceMatcherNodeNoMatch(t *testing.T) {
	matcher := &fakeMatcher{result: &IdentityResult{Match: false}}
	tools := testTools()
	tools.Identity = matcher

	n := newFaceMatcherNode("match1", nil)
	input := &Output{Embeddings: []Face{{Embedding: make([]float64, 512)}}}
	out, err := n.Execute(context.Background(), testFrame(), input, tools)
	require.NoError(t, err)
	require.Len(t, out.Faces, 1)
	assert.Nil(t, out.Faces[0].Identity)
}

func TestFaceMatcherNodeLookupError(t *testing.T) {
	matcher := &fakeMatcher{err: assert.AnError}
	tools := testTools()
	tools.Identity = matcher

	n := newFaceMatcherNode("match1", nil)
	input := &Output{Embeddings: []Face{{Embedding: make([]float64, 512)}}}
	out, err := n.Execute(context.Background(), testFrame(), input, tools)
	require.NoError(t, err)
	require.Len(t, out.Faces, 1)
	require.NotNil(t, out.Faces[0].Identity)
	assert.Equal(t, "identity lookup failed", out.Faces[0].Identity.Error)
}

func TestDecorateWithTracks(t *testing.T) {
	dets := []Detection{
		{Box: vision.Rect{X1: 40, Y1: 40, X2: 60, Y2: 60}},   // center (50,50)
		{Box: vision.Rect{X1: 200, Y1: 200, X2: 220, Y2: 220}}, // far away
	}
	objects := []tracker.Object{{
		ID:              9,
		Box:             vision.Rect{X1: 45, Y1: 45, X2: 65, Y2: 65},
		Speed:           3.5,
		Direction:       90,
		MovementPattern: "walking",
	}}

	decorateWithTracks(dets, objects)

	require.NotNil(t, dets[0].TrackID)
	assert.Equal(t, 9, *dets[0].TrackID)
	assert.Equal(t, "walking", dets[0].MovementPattern)
	require.NotNil(t, dets[0].Speed)
	assert.InDelta(t, 3.5, *dets[0].Speed, 1e-9)

	assert.Nil(t, dets[1].TrackID)
}
