package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphFixture() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "in", Type: NodeTypeVideoInput, Data: map[string]any{"camera_name": "cam-A"}},
			{ID: "det", Type: "objectDetection"},
			{ID: "zone", Type: "polygonFilter"},
			{ID: "sink", Type: "dataSink"},
		},
		Edges: []Edge{
			{Source: "in", Target: "det"},
			{Source: "det", Target: "zone"},
			{Source: "zone", Target: "sink"},
		},
	}
}

func TestTopoSortLinearGraph(t *testing.T) {
	g := graphFixture()
	order, err := TopoSort(&g)
	require.NoError(t, err)
	assert.Equal(t, []string{"det", "zone", "sink"}, order)
}

func TestTopoSortExcludesVideoInput(t *testing.T) {
	g := graphFixture()
	order, err := TopoSort(&g)
	require.NoError(t, err)
	assert.NotContains(t, order, "in")
}

func TestTopoSortFanOutIsStable(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "in", Type: NodeTypeVideoInput},
			{ID: "det", Type: "objectDetection"},
			{ID: "b-sink", Type: "dataSink"},
			{ID: "a-sink", Type: "dataSink"},
		},
		Edges: []Edge{
			{Source: "in", Target: "det"},
			{Source: "det", Target: "b-sink"},
			{Source: "det", Target: "a-sink"},
		},
	}

	first, err := TopoSort(&g)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := TopoSort(&g)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"det", "a-sink", "b-sink"}, first)
}

func TestTopoSortRejectsCycle(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "a", Type: "polygonFilter"},
			{ID: "b", Type: "dataSink"},
		},
		Edges: []Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}
	_, err := TopoSort(&g)
	assert.ErrorContains(t, err, "cycle")
}

func TestTopoSortRejectsUnknownNodeEdge(t *testing.T) {
	g := Graph{
		Nodes: []Node{{ID: "a", Type: "dataSink"}},
		Edges: []Edge{{Source: "ghost", Target: "a"}},
	}
	_, err := TopoSort(&g)
	assert.ErrorContains(t, err, "unknown node")
}

func TestTopoSortRejectsInboundVideoInput(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "in", Type: NodeTypeVideoInput},
			{ID: "det", Type: "objectDetection"},
		},
		Edges: []Edge{{Source: "det", Target: "in"}},
	}
	_, err := TopoSort(&g)
	assert.ErrorContains(t, err, "videoInput")
}

func TestPipelineCameraName(t *testing.T) {
	p := Pipeline{Graph: graphFixture()}
	assert.Equal(t, "cam-A", p.CameraName())

	empty := Pipeline{}
	assert.Equal(t, "", empty.CameraName())
}
