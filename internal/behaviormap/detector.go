package behaviormap

import (
	"fmt"
	"math"
)

// ChangeType classifies how a map differs from the previous one.
type ChangeType string

const (
	ChangeInitialized     ChangeType = "initialized"
	ChangeNewPattern      ChangeType = "new_pattern"
	ChangeConnectionShift ChangeType = "connection_shift"
	ChangeRebalanced      ChangeType = "rebalanced"
	ChangeStable          ChangeType = "stable"
)

const (
	scoreShift      = 10.0
	occurrenceShift = 3
)

// Update is the change detection result.
type Update struct {
	Changed    bool       `json:"changed"`
	ChangeType ChangeType `json:"change_type"`
	Message    string     `json:"message"`
}

// NodeSummary is the persisted shape of a node.
type NodeSummary struct {
	NodeKey     string  `json:"nodeKey"`
	Label       string  `json:"label"`
	Strength    float64 `json:"strength"`
	Occurrences int     `json:"occurrences"`
}

// EdgeSummary is the persisted shape of an edge.
type EdgeSummary struct {
	FromNodeKey string  `json:"fromNodeKey"`
	ToNodeKey   string  `json:"toNodeKey"`
	Weight      float64 `json:"weight"`
}

func (e EdgeSummary) key() string {
	return e.FromNodeKey + "->" + e.ToNodeKey
}

// Snapshot is the minimal previous-map state kept between builds.
type Snapshot struct {
	Nodes []NodeSummary `json:"nodes"`
	Edges []EdgeSummary `json:"edges"`
}

// IsEmpty reports whether the snapshot holds neither nodes nor edges.
func (s Snapshot) IsEmpty() bool {
	return len(s.Nodes) == 0 && len(s.Edges) == 0
}

// Summarize reduces a payload to its Snapshot.
func Summarize(p Payload) Snapshot {
	s := Snapshot{
		Nodes: make([]NodeSummary, 0, len(p.Nodes)),
		Edges: make([]EdgeSummary, 0, len(p.Edges)),
	}
	for _, n := range p.Nodes {
		s.Nodes = append(s.Nodes, NodeSummary{NodeKey: n.ID, Label: n.Label, Strength: n.Score, Occurrences: n.Occurrences})
	}
	for _, e := range p.Edges {
		s.Edges = append(s.Edges, EdgeSummary{FromNodeKey: e.Source, ToNodeKey: e.Target, Weight: e.Score})
	}
	return s
}

// Detect compares next against prev. The first matching rule wins:
// initialized, new node, top edge shift, new edge, rebalanced node, stable.
func Detect(prev, next Snapshot) Update {
	if prev.IsEmpty() {
		return Update{Changed: true, ChangeType: ChangeInitialized, Message: "Your behavior map is ready. Keep checking in to grow it."}
	}

	prevNodes := make(map[string]NodeSummary, len(prev.Nodes))
	for _, n := range prev.Nodes {
		prevNodes[n.NodeKey] = n
	}
	labels := make(map[string]string, len(next.Nodes))
	for _, n := range next.Nodes {
		labels[n.NodeKey] = n.Label
	}
	label := func(key string) string {
		if l, ok := labels[key]; ok && l != "" {
			return l
		}
		return key
	}

	var shifted *NodeSummary
	var shiftedFrom NodeSummary
	for i, n := range next.Nodes {
		p, ok := prevNodes[n.NodeKey]
		if !ok {
			return Update{Changed: true, ChangeType: ChangeNewPattern,
				Message: fmt.Sprintf("New pattern: %s appeared in your map.", label(n.NodeKey))}
		}
		if shifted == nil && (math.Abs(p.Strength-n.Strength) >= scoreShift || abs(p.Occurrences-n.Occurrences) >= occurrenceShift) {
			shifted = &next.Nodes[i]
			shiftedFrom = p
		}
	}

	prevTop, hasPrevTop := topEdge(prev.Edges)
	nextTop, hasNextTop := topEdge(next.Edges)
	if hasPrevTop && hasNextTop && prevTop.key() != nextTop.key() {
		return Update{Changed: true, ChangeType: ChangeConnectionShift,
			Message: fmt.Sprintf("Your strongest connection is now %s and %s.", label(nextTop.FromNodeKey), label(nextTop.ToNodeKey))}
	}

	prevEdges := make(map[string]bool, len(prev.Edges))
	for _, e := range prev.Edges {
		prevEdges[e.key()] = true
	}
	for _, e := range next.Edges {
		if !prevEdges[e.key()] {
			return Update{Changed: true, ChangeType: ChangeNewPattern,
				Message: fmt.Sprintf("New connection: %s is linked with %s.", label(e.FromNodeKey), label(e.ToNodeKey))}
		}
	}

	if shifted != nil {
		return Update{Changed: true, ChangeType: ChangeRebalanced,
			Message: fmt.Sprintf("%s shifted from %.0f to %.0f.", label(shifted.NodeKey), shiftedFrom.Strength, shifted.Strength)}
	}

	return Update{Changed: false, ChangeType: ChangeStable, Message: "No meaningful change since your last map."}
}

// topEdge returns the highest-weight edge; the first one wins ties.
func topEdge(edges []EdgeSummary) (EdgeSummary, bool) {
	if len(edges) == 0 {
		return EdgeSummary{}, false
	}
	top := edges[0]
	for _, e := range edges[1:] {
		if e.Weight > top.Weight {
			top = e
		}
	}
	return top, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
