package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Issue describes one validation problem found in a graph.
type Issue struct {
	NodeID  string
	Message string
}

func (i Issue) String() string {
	if i.NodeID == "" {
		return i.Message
	}
	return fmt.Sprintf("node %s: %s", i.NodeID, i.Message)
}

// Graph is an in-memory DAG of nodes keyed by id. Edges are implied by
// each node's dependency list. Nodes are held in insertion order so
// ready-set dispatch is deterministic when tests need it to be.
type Graph struct {
	// ID identifies the workflow; persisted contexts record it so a
	// resume against a different workflow is rejected.
	ID string

	nodes map[string]*Node
	order []string
}

// NewGraph returns an empty graph for the given workflow id.
func NewGraph(id string) *Graph {
	return &Graph{
		ID:    id,
		nodes: make(map[string]*Node),
	}
}

// AddNode registers a node. It fails with KindValidation when the id is
// already taken or when a phase/custom node has no executor. The retry
// policy is normalized in place (min one attempt).
func (g *Graph) AddNode(n *Node) error {
	if n == nil || n.ID == "" {
		return &Error{Kind: KindValidation, Message: "node must have an id"}
	}
	if _, exists := g.nodes[n.ID]; exists {
		return &Error{Kind: KindValidation, NodeID: n.ID, Message: "duplicate node id"}
	}
	if n.Executor == nil && (n.Kind == NodePhase || n.Kind == NodeCustom || n.Kind == "") {
		return &Error{Kind: KindValidation, NodeID: n.ID, Message: "executor required"}
	}
	if n.Kind == "" {
		n.Kind = NodeCustom
	}
	n.Retry = n.Retry.normalize()
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// NodeIDs returns all node ids in insertion order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Validate checks the graph and returns all problems found: dangling
// dependency ids, self-dependencies, unparsable condition expressions,
// and cycles (three-color DFS). An empty slice means the graph is
// executable.
func (g *Graph) Validate() []Issue {
	var issues []Issue

	for _, id := range g.order {
		n := g.nodes[id]
		for _, dep := range n.Dependencies {
			if dep == id {
				issues = append(issues, Issue{NodeID: id, Message: "depends on itself"})
				continue
			}
			if _, ok := g.nodes[dep]; !ok {
				issues = append(issues, Issue{NodeID: id, Message: fmt.Sprintf("unknown dependency %q", dep)})
			}
		}
		if n.Condition != "" {
			if _, err := compileCondition(n.Condition); err != nil {
				issues = append(issues, Issue{NodeID: id, Message: fmt.Sprintf("condition does not parse: %v", err)})
			}
		}
	}

	// Cycle detection: white = unvisited, gray = on stack, black = done.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range g.nodes[id].Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				issues = append(issues, Issue{NodeID: id, Message: fmt.Sprintf("cycle through dependency %q", dep)})
				return false
			case white:
				if !visit(dep) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}
	for _, id := range g.order {
		if color[id] == white {
			if !visit(id) {
				break
			}
		}
	}

	return issues
}

// TopologicalLayers partitions the node ids into layers: layer k holds
// exactly the nodes whose dependencies all live in layers < k. Used for
// reporting and by the sequential dispatch path; the runtime scheduler
// works from the ready set instead. Fails on cyclic graphs.
func (g *Graph) TopologicalLayers() ([][]string, error) {
	placed := make(map[string]bool, len(g.nodes))
	var layers [][]string

	remaining := len(g.order)
	for remaining > 0 {
		var layer []string
		for _, id := range g.order {
			if placed[id] {
				continue
			}
			ok := true
			for _, dep := range g.nodes[id].Dependencies {
				if !placed[dep] {
					ok = false
					break
				}
			}
			if ok {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, &Error{Kind: KindValidation, Message: "graph contains a cycle"}
		}
		for _, id := range layer {
			placed[id] = true
		}
		layers = append(layers, layer)
		remaining -= len(layer)
	}
	return layers, nil
}

// ReadySet returns, in insertion order, the nodes not yet terminal
// whose dependencies are all in the supplied terminal set (completed or
// skipped). The caller intersects the result with its pending set.
func (g *Graph) ReadySet(terminal map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if terminal[id] {
			continue
		}
		ok := true
		for _, dep := range g.nodes[id].Dependencies {
			if !terminal[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// StructureHash returns a stable digest of the graph's shape: sorted
// node ids with their sorted dependency lists. Persisted contexts embed
// it so a resume against a structurally different graph is detected.
func (g *Graph) StructureHash() string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		deps := make([]string, len(g.nodes[id].Dependencies))
		copy(deps, g.nodes[id].Dependencies)
		sort.Strings(deps)
		b.WriteString(id)
		b.WriteString("<-")
		b.WriteString(strings.Join(deps, ","))
		b.WriteString(";")
	}

	sum := sha256.Sum256([]byte(b.String()))
	return "sha256:" + hex.EncodeToString(sum[:])
}
