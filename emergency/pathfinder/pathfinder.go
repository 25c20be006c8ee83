// Package pathfinder implements the Emergency Manager's A* route planner:
// junctions are nodes, road lengths are edge weights (respecting Oneway),
// and the heuristic is Euclidean distance to the destination. f-cost
// ordering and the iteration cap are implemented over container/heap.
package pathfinder

import (
	"container/heap"
	"math"

	"github.com/trafficgrid/controller/models"
)

// maxIterations bounds the search the way the original's PathNode expansion
// loop does, so a disconnected or pathological grid cannot spin forever.
const maxIterations = 10000

type edge struct {
	to     string
	roadID string
	weight float64
}

// Graph is the directed road graph used for route planning. Build once per
// grid topology; roads are assumed static for the controller's lifetime.
type Graph struct {
	edges     map[string][]edge
	positions map[string]models.Position
}

// NewGraph builds a Graph from the road set and junction positions. A
// two-way road (Oneway=false) contributes edges in both directions; a
// one-way road only start->end.
func NewGraph(roads []models.RoadSegment, positions map[string]models.Position) *Graph {
	g := &Graph{edges: make(map[string][]edge), positions: positions}
	for _, r := range roads {
		g.edges[r.StartJunction] = append(g.edges[r.StartJunction], edge{to: r.EndJunction, roadID: r.ID, weight: r.Geometry.Length})
		if !r.Oneway {
			g.edges[r.EndJunction] = append(g.edges[r.EndJunction], edge{to: r.StartJunction, roadID: r.ID, weight: r.Geometry.Length})
		}
	}
	return g
}

func (g *Graph) heuristic(from, to string) float64 {
	a, okA := g.positions[from]
	b, okB := g.positions[to]
	if !okA || !okB {
		return 0
	}
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

type node struct {
	id       string
	g        float64 // cost so far
	f        float64 // g + heuristic
	parent   string
	hasParent bool
	index    int
}

type openSet []*node

func (o openSet) Len() int            { return len(o) }
func (o openSet) Less(i, j int) bool  { return o[i].f < o[j].f }
func (o openSet) Swap(i, j int)       { o[i], o[j] = o[j], o[i]; o[i].index, o[j].index = i, j }
func (o *openSet) Push(x interface{}) { n := x.(*node); n.index = len(*o); *o = append(*o, n) }
func (o *openSet) Pop() interface{} {
	old := *o
	n := len(old)
	item := old[n-1]
	*o = old[:n-1]
	return item
}

// Result is a computed route: the junction path and the derived road path
// connecting consecutive junctions, plus its total edge-weight distance.
type Result struct {
	JunctionPath  []string
	RoadPath      []string
	TotalDistance float64
}

// FindPath runs A* from start to end. The same-start-end edge case returns a
// single-node path with zero distance. A search that exhausts maxIterations
// or finds no route returns ok=false.
func (g *Graph) FindPath(start, end string) (Result, bool) {
	if start == end {
		return Result{JunctionPath: []string{start}}, true
	}

	nodes := map[string]*node{start: {id: start, g: 0, f: g.heuristic(start, end)}}
	open := &openSet{nodes[start]}
	heap.Init(open)
	closed := make(map[string]bool)

	for iterations := 0; open.Len() > 0 && iterations < maxIterations; iterations++ {
		current := heap.Pop(open).(*node)
		if current.id == end {
			return g.reconstruct(nodes, end), true
		}
		if closed[current.id] {
			continue
		}
		closed[current.id] = true

		for _, e := range g.edges[current.id] {
			if closed[e.to] {
				continue
			}
			tentativeG := current.g + e.weight
			existing, seen := nodes[e.to]
			if !seen || tentativeG < existing.g {
				n := &node{id: e.to, g: tentativeG, f: tentativeG + g.heuristic(e.to, end), parent: current.id, hasParent: true}
				nodes[e.to] = n
				heap.Push(open, n)
			}
		}
	}
	return Result{}, false
}

func (g *Graph) reconstruct(nodes map[string]*node, end string) Result {
	var junctionPath []string
	cur := end
	for {
		junctionPath = append([]string{cur}, junctionPath...)
		n := nodes[cur]
		if !n.hasParent {
			break
		}
		cur = n.parent
	}
	roadPath := make([]string, 0, len(junctionPath)-1)
	var total float64
	for i := 0; i+1 < len(junctionPath); i++ {
		from, to := junctionPath[i], junctionPath[i+1]
		for _, e := range g.edges[from] {
			if e.to == to {
				roadPath = append(roadPath, e.roadID)
				total += e.weight
				break
			}
		}
	}
	return Result{JunctionPath: junctionPath, RoadPath: roadPath, TotalDistance: total}
}
