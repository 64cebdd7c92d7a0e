package nodes

import (
	"context"
	"fmt"
	"log"

	"github.com/technosupport/ts-analytics/internal/vision"
)

// dataSinkNode persists an event whenever detections reach it. The
// frame snapshot, the database row and the realtime broadcast are all
// delegated to the recorder; a failed write is logged and swallowed so
// the rest of the graph keeps running.
type dataSinkNode struct {
	id        string
	eventType string
}

func newDataSinkNode(id string, config map[string]any) Node {
	return &dataSinkNode{
		id:        id,
		eventType: cfgString(config, "event_type", "Generic Detection"),
	}
}

func (n *dataSinkNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input == nil || len(input.Detections) == 0 {
		return &Output{}, nil
	}
	if tools.Recorder == nil {
		return &Output{}, nil
	}

	ev := EventRecord{
		PipelineID: tools.PipelineID,
		CameraName: tools.CameraName,
		EventType:  n.eventType,
		Message:    fmt.Sprintf("%d objeto(s) do tipo '%s' detectados.", len(input.Detections), n.eventType),
		Details:    map[string]any{"detections": input.Detections},
	}
	if err := tools.Recorder.Record(ctx, frame, ev); err != nil {
		log.Printf("[ERROR] Data Sink %s: recording event: %v", n.id, err)
	} else {
		log.Printf("Data Sink %s: event %q saved", n.id, n.eventType)
	}

	return &Output{}, nil
}
