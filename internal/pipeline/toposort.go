package pipeline

import (
	"fmt"
	"sort"
)

// TopoSort orders the graph's processing nodes so that every node runs
// after all of its predecessors. The videoInput sentinel is excluded
// from the result (it feeds the graph but executes nothing) and may
// not have inbound edges. Ties are broken by node id so execution
// order is stable across runs. A graph with a cycle is rejected.
func TopoSort(g *Graph) ([]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string)
	types := make(map[string]string, len(g.Nodes))

	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
		types[n.ID] = n.Type
	}
	for _, e := range g.Edges {
		if _, ok := inDegree[e.Source]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.Source)
		}
		if _, ok := inDegree[e.Target]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.Target)
		}
		if types[e.Target] == NodeTypeVideoInput {
			return nil, fmt.Errorf("videoInput node %q may not have inbound edges", e.Target)
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		inDegree[e.Target]++
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	processed := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		processed++

		if types[id] != NodeTypeVideoInput {
			order = append(order, id)
		}

		next := append([]string(nil), adj[id]...)
		sort.Strings(next)
		for _, v := range next {
			inDegree[v]--
			if inDegree[v] == 0 {
				ready = insertSorted(ready, v)
			}
		}
	}

	if processed != len(g.Nodes) {
		return nil, fmt.Errorf("graph has a cycle: %d of %d nodes unreachable", len(g.Nodes)-processed, len(g.Nodes))
	}
	return order, nil
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
