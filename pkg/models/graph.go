package models

import (
	"errors"
	"fmt"
	"strings"
)

// Well-known node types. Action and wait types map to registered capabilities;
// the engine only knows the four structural kinds below.
const (
	NodeTypeCondition = "condition"
	NodeTypeWait      = "wait"
	NodeTypeEnd       = "end"

	// TriggerTypePrefix marks entry nodes. A graph declares its entry point
	// explicitly by giving exactly one node a trigger-prefixed type.
	TriggerTypePrefix = "trigger."
)

// Edge condition tags used on outgoing edges of condition nodes.
const (
	EdgeConditionTrue  = "true"
	EdgeConditionFalse = "false"
)

// Node is a unit of work in a flow graph.
type Node struct {
	ID        string         `json:"id"     validate:"required"`
	Type      string         `json:"type"   validate:"required"`
	Name      string         `json:"name"   validate:"required,min=1"`
	Config    map[string]any `json:"config"`
	PositionX int            `json:"x"`
	PositionY int            `json:"y"`
}

// IsTrigger reports whether the node is the graph's entry point.
func (n *Node) IsTrigger() bool {
	return strings.HasPrefix(n.Type, TriggerTypePrefix)
}

// IsCondition reports whether the node branches on a boolean expression.
func (n *Node) IsCondition() bool {
	return n.Type == NodeTypeCondition
}

// IsWait reports whether the node suspends the run.
func (n *Node) IsWait() bool {
	return n.Type == NodeTypeWait
}

// IsEnd reports whether the node terminates the run.
func (n *Node) IsEnd() bool {
	return n.Type == NodeTypeEnd
}

// IsAction reports whether the node dispatches to an external capability.
func (n *Node) IsAction() bool {
	return !n.IsTrigger() && !n.IsCondition() && !n.IsWait() && !n.IsEnd()
}

// Edge is a directed, optionally condition-tagged transition between nodes.
type Edge struct {
	ID        string `json:"id"        validate:"required"`
	Source    string `json:"source"    validate:"required"`
	Target    string `json:"target"    validate:"required"`
	Condition string `json:"condition,omitempty"`
}

// Graph is the node/edge document persisted inside a FlowVersion.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// GraphValidationError reports a structural problem found during graph
// validation. Malformed graphs are rejected at version-creation time.
type GraphValidationError struct {
	Reason string
	NodeID string
	EdgeID string
}

func (e *GraphValidationError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("invalid graph: %s (node %s)", e.Reason, e.NodeID)
	case e.EdgeID != "":
		return fmt.Sprintf("invalid graph: %s (edge %s)", e.Reason, e.EdgeID)
	default:
		return "invalid graph: " + e.Reason
	}
}

// ErrGraphInvalid is the sentinel all graph validation failures match.
var ErrGraphInvalid = errors.New("graph invalid")

func (e *GraphValidationError) Unwrap() error {
	return ErrGraphInvalid
}

// Validate checks structural well-formedness: unique node ids, edges that
// reference existing nodes, and exactly one explicitly marked entry node with
// no incoming edges and a single unconditioned outgoing edge. An empty graph
// is structurally valid; publishing a flow with no prior version snapshots
// one, and executing it fails at run time instead.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 && len(g.Edges) == 0 {
		return nil
	}

	nodes := make(map[string]*Node, len(g.Nodes))

	for _, node := range g.Nodes {
		if node.ID == "" {
			return &GraphValidationError{Reason: "node id is required"}
		}

		if _, exists := nodes[node.ID]; exists {
			return &GraphValidationError{Reason: "duplicate node id", NodeID: node.ID}
		}

		nodes[node.ID] = node
	}

	incoming := make(map[string]int, len(nodes))
	outgoing := make(map[string][]*Edge, len(nodes))

	for _, edge := range g.Edges {
		if _, ok := nodes[edge.Source]; !ok {
			return &GraphValidationError{Reason: "edge source references unknown node", EdgeID: edge.ID}
		}

		if _, ok := nodes[edge.Target]; !ok {
			return &GraphValidationError{Reason: "edge target references unknown node", EdgeID: edge.ID}
		}

		incoming[edge.Target]++
		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
	}

	var entry *Node

	for _, node := range g.Nodes {
		if !node.IsTrigger() {
			continue
		}

		if entry != nil {
			return &GraphValidationError{Reason: "multiple trigger nodes", NodeID: node.ID}
		}

		entry = node
	}

	if entry == nil {
		return &GraphValidationError{Reason: "no trigger node"}
	}

	if incoming[entry.ID] > 0 {
		return &GraphValidationError{Reason: "trigger node has incoming edges", NodeID: entry.ID}
	}

	entryEdges := outgoing[entry.ID]
	if len(entryEdges) != 1 || entryEdges[0].Condition != "" {
		return &GraphValidationError{Reason: "trigger node requires exactly one unconditioned outgoing edge", NodeID: entry.ID}
	}

	return nil
}

// Entry returns the graph's explicitly marked entry node, or nil for an
// empty graph. Call Validate first; Entry assumes a well-formed graph.
func (g *Graph) Entry() *Node {
	for _, node := range g.Nodes {
		if node.IsTrigger() {
			return node
		}
	}

	return nil
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// OutgoingEdges returns all edges leaving the given node.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range g.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// BranchEdge returns the outgoing edge of a condition node whose condition
// tag matches the evaluation result, or nil when no branch matches.
func (g *Graph) BranchEdge(nodeID string, result bool) *Edge {
	tag := EdgeConditionFalse
	if result {
		tag = EdgeConditionTrue
	}

	for _, edge := range g.OutgoingEdges(nodeID) {
		if edge.Condition == tag {
			return edge
		}
	}

	return nil
}

// Clone returns a deep copy of the graph. Versions snapshot graphs on write,
// so a caller mutating its input never reaches into a stored version.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}

	clone := &Graph{
		Nodes: make([]*Node, 0, len(g.Nodes)),
		Edges: make([]*Edge, 0, len(g.Edges)),
	}

	for _, node := range g.Nodes {
		nodeCopy := *node
		nodeCopy.Config = cloneMap(node.Config)
		clone.Nodes = append(clone.Nodes, &nodeCopy)
	}

	for _, edge := range g.Edges {
		edgeCopy := *edge
		clone.Edges = append(clone.Edges, &edgeCopy)
	}

	return clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
