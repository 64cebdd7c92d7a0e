package pipeline

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-analytics/internal/models"
	"github.com/technosupport/ts-analytics/internal/nodes"
	"github.com/technosupport/ts-analytics/internal/tracker"
	"github.com/technosupport/ts-analytics/internal/vision"
)

const (
	trackerMaxDisappeared    = 30
	trackerLoiteringDefault  = 15 * time.Second
	defaultMaxProcessingTime = 5 * time.Second
)

// ExecutorConfig carries the collaborators shared by every pipeline.
type ExecutorConfig struct {
	Models            *models.Registry
	Recorder          nodes.EventRecorder
	Notifier          nodes.NotificationPublisher
	Identity          nodes.IdentityMatcher
	MaxProcessingTime time.Duration
}

// pipelineState is the long-lived execution state of one pipeline:
// instantiated nodes, topological order and the tracker. Nodes keep
// per-track state, so instances must survive across frames.
type pipelineState struct {
	fingerprint uint64
	order       []string
	graph       *Graph
	nodes       map[string]nodes.Node
	tracker     *tracker.Hybrid
}

// Executor runs pipeline graphs over frames. State is built lazily per
// pipeline id and dropped on invalidation.
type Executor struct {
	cfg ExecutorConfig

	mu     sync.Mutex
	states map[int]*pipelineState
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxProcessingTime <= 0 {
		cfg.MaxProcessingTime = defaultMaxProcessingTime
	}
	return &Executor{
		cfg:    cfg,
		states: make(map[int]*pipelineState),
	}
}

// Process runs one frame through a pipeline in topological order. A
// failing node contributes an empty output; the rest of the graph
// still runs.
func (e *Executor) Process(ctx context.Context, frame *vision.Frame, p *Pipeline) error {
	state, err := e.state(p)
	if err != nil {
		return err
	}

	tools := &nodes.Tools{
		Models:       e.cfg.Models,
		Tracker:      state.tracker,
		CameraName:   frame.CameraName,
		PipelineID:   p.ID,
		PipelineName: p.Name,
		FrameMeta: map[string]any{
			"camera_name": frame.CameraName,
			"timestamp":   float64(frame.Timestamp.UnixNano()) / 1e9,
		},
		Recorder:         e.cfg.Recorder,
		Notifier:         e.cfg.Notifier,
		Identity:         e.cfg.Identity,
		ZoneAnalytics:    make(map[string]nodes.ZoneStats),
		TrafficAnalytics: make(map[string]nodes.TrafficStats),
	}

	start := time.Now()
	outputs := make(map[string]*nodes.Output, len(state.order))

	for _, nodeID := range state.order {
		node, ok := state.nodes[nodeID]
		if !ok {
			continue
		}

		input := &nodes.Output{}
		for _, pred := range state.graph.Predecessors(nodeID) {
			input.Merge(outputs[pred])
		}

		out, err := node.Execute(ctx, frame, input, tools)
		if err != nil {
			log.Printf("[ERROR] Executor: pipeline %d node %s failed: %v", p.ID, nodeID, err)
			out = &nodes.Output{}
		}
		outputs[nodeID] = out
	}

	if elapsed := time.Since(start); elapsed > e.cfg.MaxProcessingTime {
		log.Printf("[WARN] Executor: pipeline %d took %v, budget is %v", p.ID, elapsed, e.cfg.MaxProcessingTime)
	}
	return nil
}

// Invalidate drops the cached state of a pipeline; the next frame
// rebuilds nodes and tracker from the current graph.
func (e *Executor) Invalidate(pipelineID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.states[pipelineID]; ok {
		delete(e.states, pipelineID)
		log.Printf("Executor: dropped state for pipeline %d", pipelineID)
	}
}

func (e *Executor) state(p *Pipeline) (*pipelineState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fp := graphFingerprint(&p.Graph)
	if s, ok := e.states[p.ID]; ok {
		if s.fingerprint == fp {
			return s, nil
		}
		// A TTL-driven refetch can change the graph under an unchanged
		// pipeline id without any config event arriving.
		log.Printf("Executor: pipeline %d graph changed, rebuilding state", p.ID)
		delete(e.states, p.ID)
	}

	order, err := TopoSort(&p.Graph)
	if err != nil {
		return nil, err
	}

	s := &pipelineState{
		fingerprint: fp,
		order:       order,
		graph:       &p.Graph,
		nodes:       make(map[string]nodes.Node, len(order)),
		tracker: tracker.NewHybrid(tracker.Config{
			UseAdvanced:        true,
			MaxDisappeared:     trackerMaxDisappeared,
			LoiteringThreshold: trackerLoiteringDefault,
		}),
	}

	for _, nodeID := range order {
		gn, ok := p.Graph.nodeByID(nodeID)
		if !ok {
			continue
		}
		node, ok := nodes.New(gn.Type, gn.ID, gn.Data)
		if !ok {
			log.Printf("[WARN] Executor: pipeline %d has unknown node type %q, skipping node %s", p.ID, gn.Type, gn.ID)
			continue
		}
		s.nodes[nodeID] = node

		if gn.Type == "objectDetection" && e.cfg.Models != nil {
			model, _ := gn.Data["model_filename"].(string)
			if model == "" {
				model, _ = gn.Data["model"].(string)
			}
			if model == "" {
				model = models.DefaultModel
			}
			e.cfg.Models.Preload(model)
		}
	}

	e.states[p.ID] = s
	log.Printf("Executor: built state for pipeline %d (%d nodes)", p.ID, len(s.nodes))
	return s, nil
}

// graphFingerprint summarises a graph so state rebuilds can detect a
// changed definition behind a stable pipeline id.
func graphFingerprint(g *Graph) uint64 {
	data, err := json.Marshal(g)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
