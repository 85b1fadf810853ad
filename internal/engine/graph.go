package engine

import (
	"fmt"

	"github.com/quorumhq/quorum/internal/errors"
)

// Node names a workflow node. Node names appear in checkpoints and
// events, so they are stable identifiers.
type Node string

const (
	NodeInitialRound    Node = "initial_round"
	NodeDiscussionRound Node = "discussion_round"
	NodeEvaluate        Node = "evaluate"
	NodeCollectVotes    Node = "collect_votes"
	NodeSynthesize      Node = "synthesize"
	NodeAdvance         Node = "advance"
	NodeMetaSynthesize  Node = "meta_synthesize"
	NodeFinalize        Node = "finalize"
)

// Edge is one legal transition. Exit marks an edge whose firing leaves
// a loop; every cycle in the graph must be escapable through at least
// one Exit edge, which is checked at construction time.
type Edge struct {
	From Node
	To   Node
	Exit bool
}

// Graph is the static workflow topology. Node handlers decide which
// outgoing edge fires at runtime; the graph only constrains which
// transitions are legal.
type Graph struct {
	start Node
	nodes map[Node]bool
	edges map[Node][]Edge
}

// NewGraph validates the topology and returns the graph. Validation
// failures wrap ErrGraphInvalid: unknown edge endpoints, nodes
// unreachable from start, and cycles with no Exit edge out.
func NewGraph(start Node, nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		start: start,
		nodes: make(map[Node]bool, len(nodes)),
		edges: make(map[Node][]Edge),
	}
	for _, n := range nodes {
		if g.nodes[n] {
			return nil, errors.Wrapf(errors.ErrGraphInvalid, "duplicate node %q", n)
		}
		g.nodes[n] = true
	}
	if !g.nodes[start] {
		return nil, errors.Wrapf(errors.ErrGraphInvalid, "start node %q not declared", start)
	}
	for _, e := range edges {
		if !g.nodes[e.From] {
			return nil, errors.Wrapf(errors.ErrGraphInvalid, "edge from unknown node %q", e.From)
		}
		if !g.nodes[e.To] {
			return nil, errors.Wrapf(errors.ErrGraphInvalid, "edge to unknown node %q", e.To)
		}
		g.edges[e.From] = append(g.edges[e.From], e)
	}

	if err := g.checkReachability(); err != nil {
		return nil, err
	}
	if err := g.checkCycleExits(); err != nil {
		return nil, err
	}
	return g, nil
}

// Start returns the entry node.
func (g *Graph) Start() Node { return g.start }

// Allowed reports whether the transition from -> to is a declared edge.
func (g *Graph) Allowed(from, to Node) bool {
	for _, e := range g.edges[from] {
		if e.To == to {
			return true
		}
	}
	return false
}

// Has reports whether the node is declared.
func (g *Graph) Has(n Node) bool { return g.nodes[n] }

func (g *Graph) checkReachability() error {
	seen := map[Node]bool{g.start: true}
	stack := []Node{g.start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.edges[n] {
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	for n := range g.nodes {
		if !seen[n] {
			return errors.Wrapf(errors.ErrGraphInvalid, "node %q unreachable from %q", n, g.start)
		}
	}
	return nil
}

// checkCycleExits finds strongly connected components (Tarjan) and
// requires every cyclic component to have at least one Exit edge
// leaving it. A loop nothing can escape would make every safety layer
// downstream of it load-bearing, so it is rejected up front.
func (g *Graph) checkCycleExits() error {
	index := 0
	indices := make(map[Node]int)
	lowlink := make(map[Node]int)
	onStack := make(map[Node]bool)
	var stack []Node
	var sccs [][]Node

	var strongconnect func(Node)
	strongconnect = func(v Node) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range g.edges[v] {
			w := e.To
			if _, visited := indices[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []Node
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for n := range g.nodes {
		if _, visited := indices[n]; !visited {
			strongconnect(n)
		}
	}

	component := make(map[Node]int)
	for i, scc := range sccs {
		for _, n := range scc {
			component[n] = i
		}
	}

	for i, scc := range sccs {
		if !g.isCyclic(scc) {
			continue
		}
		hasExit := false
		for _, n := range scc {
			for _, e := range g.edges[n] {
				if e.Exit && component[e.To] != i {
					hasExit = true
				}
			}
		}
		if !hasExit {
			return errors.Wrapf(errors.ErrGraphInvalid,
				"cycle %s has no exit edge", fmt.Sprint(scc))
		}
	}
	return nil
}

// isCyclic reports whether the component contains a cycle: more than
// one node, or a single node with a self edge.
func (g *Graph) isCyclic(scc []Node) bool {
	if len(scc) > 1 {
		return true
	}
	for _, e := range g.edges[scc[0]] {
		if e.To == scc[0] {
			return true
		}
	}
	return false
}

// WorkflowGraph returns the deliberation workflow:
//
//	initial_round -> evaluate
//	evaluate -> discussion_round (another round) | collect_votes (exit)
//	discussion_round -> evaluate
//	collect_votes -> synthesize -> advance
//	advance -> initial_round (next sub-problem)
//	        | meta_synthesize (exit, all done, multiple sub-problems)
//	        | finalize       (exit, all done, single sub-problem)
//	meta_synthesize -> finalize
//
// Two loops exist: the round loop (evaluate <-> discussion_round) and
// the sub-problem loop (back through initial_round). Both carry exit
// edges, which NewGraph verifies.
func WorkflowGraph() *Graph {
	g, err := NewGraph(
		NodeInitialRound,
		[]Node{
			NodeInitialRound, NodeDiscussionRound, NodeEvaluate,
			NodeCollectVotes, NodeSynthesize, NodeAdvance,
			NodeMetaSynthesize, NodeFinalize,
		},
		[]Edge{
			{From: NodeInitialRound, To: NodeEvaluate},
			{From: NodeEvaluate, To: NodeDiscussionRound},
			{From: NodeEvaluate, To: NodeCollectVotes, Exit: true},
			{From: NodeDiscussionRound, To: NodeEvaluate},
			{From: NodeCollectVotes, To: NodeSynthesize},
			{From: NodeSynthesize, To: NodeAdvance},
			{From: NodeAdvance, To: NodeInitialRound},
			{From: NodeAdvance, To: NodeMetaSynthesize, Exit: true},
			{From: NodeAdvance, To: NodeFinalize, Exit: true},
			{From: NodeMetaSynthesize, To: NodeFinalize},
		},
	)
	if err != nil {
		// The workflow is a compile-time constant; a validation failure
		// here is a programming error, not a runtime condition.
		panic(err)
	}
	return g
}
