package pipeline

// NodeTypeVideoInput is the sentinel node binding a graph to a camera.
// It carries no processing logic and is skipped by the executor.
const NodeTypeVideoInput = "videoInput"

// Node is one typed processing step with its free-form configuration
// as set in the graph editor.
type Node struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Edge is one directed connection between two nodes.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the user-defined processing DAG.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Pipeline is a stored processing graph bound to a camera through its
// videoInput node.
type Pipeline struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
	Graph    Graph  `json:"graph_data"`
}

// CameraName returns the camera the graph's videoInput node binds to,
// or "" when the graph has none.
func (p *Pipeline) CameraName() string {
	for _, n := range p.Graph.Nodes {
		if n.Type == NodeTypeVideoInput {
			if name, ok := n.Data["camera_name"].(string); ok {
				return name
			}
		}
	}
	return ""
}

// nodeByID returns the node with the given id.
func (g *Graph) nodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Predecessors returns the source ids of every edge ending at id.
func (g *Graph) Predecessors(id string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.Target == id {
			out = append(out, e.Source)
		}
	}
	return out
}
