package ransac

import (
	"fmt"
	"math"
)

// flowGraph is an s-t network solved with Dinic's algorithm. Nodes 0..n-1 are the
// correspondences; the terminals are implicit.
type flowGraph struct {
	n      int
	source int
	sink   int
	head   []int
	arcs   []flowArc
	level  []int
	next   []int
	failed error
}

type flowArc struct {
	to       int
	capacity float64
	link     int // next arc leaving the same node
}

const flowEpsilon = 1e-12

func newFlowGraph(n, edgeHint int) *flowGraph {
	g := &flowGraph{
		n:      n,
		source: n,
		sink:   n + 1,
		head:   make([]int, n+2),
		arcs:   make([]flowArc, 0, 4*n+2*edgeHint),
	}
	for i := range g.head {
		g.head[i] = -1
	}
	return g
}

func (g *flowGraph) addArcPair(from, to int, forward, backward float64) {
	if g.failed != nil {
		return
	}
	if math.IsNaN(forward) || math.IsNaN(backward) || forward < 0 || backward < 0 {
		g.failed = fmt.Errorf("%w: invalid capacity %v/%v on %d-%d", ErrOptimizationFailure, forward, backward, from, to)
		return
	}
	g.arcs = append(g.arcs, flowArc{to: to, capacity: forward, link: g.head[from]})
	g.head[from] = len(g.arcs) - 1
	g.arcs = append(g.arcs, flowArc{to: from, capacity: backward, link: g.head[to]})
	g.head[to] = len(g.arcs) - 1
}

// addTerminalWeights sets the cost of node i ending up on the source side (inlier)
// and on the sink side (outlier).
func (g *flowGraph) addTerminalWeights(i int, sourceSideCost, sinkSideCost float64) {
	// A node on the sink side cuts s->i, a node on the source side cuts i->t
	g.addArcPair(g.source, i, sinkSideCost, 0)
	g.addArcPair(i, g.sink, sourceSideCost, 0)
}

// addEdge adds a symmetric pairwise term paid when i and j are separated
func (g *flowGraph) addEdge(i, j int, weight float64) {
	g.addArcPair(i, j, weight, weight)
}

// maxFlow saturates the network and returns the flow value
func (g *flowGraph) maxFlow() (float64, error) {
	if g.failed != nil {
		return 0, g.failed
	}
	g.level = make([]int, g.n+2)
	g.next = make([]int, g.n+2)
	var total float64
	for g.buildLevels() {
		copy(g.next, g.head)
		for {
			pushed := g.augment(g.source, math.Inf(1))
			if pushed <= flowEpsilon {
				break
			}
			total += pushed
		}
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("%w: flow diverged", ErrOptimizationFailure)
	}
	return total, nil
}

func (g *flowGraph) buildLevels() bool {
	for i := range g.level {
		g.level[i] = -1
	}
	g.level[g.source] = 0
	queue := []int{g.source}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for a := g.head[u]; a != -1; a = g.arcs[a].link {
			arc := g.arcs[a]
			if arc.capacity > flowEpsilon && g.level[arc.to] < 0 {
				g.level[arc.to] = g.level[u] + 1
				queue = append(queue, arc.to)
			}
		}
	}
	return g.level[g.sink] >= 0
}

func (g *flowGraph) augment(u int, limit float64) float64 {
	if u == g.sink {
		return limit
	}
	for ; g.next[u] != -1; g.next[u] = g.arcs[g.next[u]].link {
		a := g.next[u]
		arc := g.arcs[a]
		if arc.capacity <= flowEpsilon || g.level[arc.to] != g.level[u]+1 {
			continue
		}
		pushed := g.augment(arc.to, math.Min(limit, arc.capacity))
		if pushed > flowEpsilon {
			g.arcs[a].capacity -= pushed
			g.arcs[a^1].capacity += pushed
			return pushed
		}
	}
	return 0
}

// sourceSide returns, after maxFlow, whether each node is reachable from the
// source in the residual network.
func (g *flowGraph) sourceSide() []bool {
	seen := make([]bool, g.n+2)
	seen[g.source] = true
	stack := []int{g.source}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for a := g.head[u]; a != -1; a = g.arcs[a].link {
			arc := g.arcs[a]
			if arc.capacity > flowEpsilon && !seen[arc.to] {
				seen[arc.to] = true
				stack = append(stack, arc.to)
			}
		}
	}
	return seen[:g.n]
}
