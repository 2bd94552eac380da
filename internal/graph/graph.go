// Package graph holds the navigation topology: vertices, undirected lanes and
// shortest-path search over them. A Graph is immutable once built and safe for
// concurrent readers.
package graph

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"fleet_traffic/internal/domain"
)

// WeightFunc returns the traversal cost of a lane. Costs must be non-negative.
type WeightFunc func(g *Graph, lane domain.Lane) float64

// HopWeight charges 1 per lane regardless of geometry or speed limit.
func HopWeight(_ *Graph, _ domain.Lane) float64 {
	return 1
}

// DistanceWeight charges the Euclidean length of the lane.
func DistanceWeight(g *Graph, lane domain.Lane) float64 {
	a, b := g.vertices[lane.Start], g.vertices[lane.End]
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// TravelTimeWeight charges length divided by speed limit. Lanes without a
// limit cost their plain length.
func TravelTimeWeight(g *Graph, lane domain.Lane) float64 {
	d := DistanceWeight(g, lane)
	if lane.SpeedLimit <= 0 {
		return d
	}
	return d / float64(lane.SpeedLimit)
}

func ParseWeight(name string) (WeightFunc, error) {
	switch name {
	case "", "hops":
		return HopWeight, nil
	case "distance":
		return DistanceWeight, nil
	case "travel_time":
		return TravelTimeWeight, nil
	default:
		return nil, fmt.Errorf("unknown lane weight %q", name)
	}
}

type Option func(*Graph)

func WithWeight(w WeightFunc) Option {
	return func(g *Graph) {
		if w != nil {
			g.weight = w
		}
	}
}

type Graph struct {
	vertices  []domain.Vertex
	lanes     []domain.Lane
	adj       [][]domain.VertexID
	laneIndex map[domain.LaneKey]int
	weight    WeightFunc
}

// New builds a graph. Vertex ids must be dense and equal to their index;
// every lane must join two distinct known vertices. Failures wrap
// domain.ErrGraphLoad. Duplicate lanes are kept in Lanes but only the first
// one answers LaneBetween.
func New(vertices []domain.Vertex, lanes []domain.Lane, opts ...Option) (*Graph, error) {
	if len(vertices) == 0 {
		return nil, fmt.Errorf("%w: graph has no vertices", domain.ErrGraphLoad)
	}
	g := &Graph{
		vertices:  append([]domain.Vertex(nil), vertices...),
		lanes:     append([]domain.Lane(nil), lanes...),
		adj:       make([][]domain.VertexID, len(vertices)),
		laneIndex: make(map[domain.LaneKey]int, len(lanes)),
		weight:    HopWeight,
	}
	for i, v := range g.vertices {
		if int(v.ID) != i {
			return nil, fmt.Errorf("%w: vertex at index %d has id %d", domain.ErrGraphLoad, i, v.ID)
		}
	}
	for i, lane := range g.lanes {
		if !g.valid(lane.Start) || !g.valid(lane.End) {
			return nil, fmt.Errorf("%w: lane %d references unknown vertex (%d-%d)", domain.ErrGraphLoad, i, lane.Start, lane.End)
		}
		if lane.Start == lane.End {
			return nil, fmt.Errorf("%w: lane %d connects vertex %d to itself", domain.ErrGraphLoad, i, lane.Start)
		}
		if lane.SpeedLimit < 0 {
			return nil, fmt.Errorf("%w: lane %d has negative speed limit %d", domain.ErrGraphLoad, i, lane.SpeedLimit)
		}
		key := lane.Key()
		if _, dup := g.laneIndex[key]; dup {
			continue
		}
		g.laneIndex[key] = i
		g.adj[lane.Start] = append(g.adj[lane.Start], lane.End)
		g.adj[lane.End] = append(g.adj[lane.End], lane.Start)
	}
	for _, nbs := range g.adj {
		sort.Slice(nbs, func(i, j int) bool { return nbs[i] < nbs[j] })
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Graph) valid(id domain.VertexID) bool {
	return id >= 0 && int(id) < len(g.vertices)
}

func (g *Graph) Valid(id domain.VertexID) bool {
	return g.valid(id)
}

func (g *Graph) Len() int {
	return len(g.vertices)
}

func (g *Graph) Vertex(id domain.VertexID) (domain.Vertex, bool) {
	if !g.valid(id) {
		return domain.Vertex{}, false
	}
	return g.vertices[id], true
}

func (g *Graph) Vertices() []domain.Vertex {
	return append([]domain.Vertex(nil), g.vertices...)
}

func (g *Graph) Lanes() []domain.Lane {
	return append([]domain.Lane(nil), g.lanes...)
}

func (g *Graph) Chargers() []domain.Vertex {
	var out []domain.Vertex
	for _, v := range g.vertices {
		if v.IsCharger {
			out = append(out, v)
		}
	}
	return out
}

// Neighbors returns the vertices sharing a lane with v, in ascending id order.
func (g *Graph) Neighbors(v domain.VertexID) []domain.VertexID {
	if !g.valid(v) {
		return nil
	}
	return append([]domain.VertexID(nil), g.adj[v]...)
}

func (g *Graph) LaneBetween(a, b domain.VertexID) (domain.Lane, bool) {
	idx, ok := g.laneIndex[domain.NewLaneKey(a, b)]
	if !ok {
		return domain.Lane{}, false
	}
	return g.lanes[idx], true
}

// ShortestPath searches with the graph's configured weight (hop count unless
// overridden with WithWeight).
func (g *Graph) ShortestPath(start, end domain.VertexID) []domain.VertexID {
	return g.ShortestPathWith(start, end, g.weight)
}

// ShortestPathWith returns the cheapest vertex sequence from start to end,
// [start] when they are equal, and nil when either id is invalid or end is
// unreachable. Among equal-cost frontier vertices the lowest id settles
// first, so results are reproducible.
func (g *Graph) ShortestPathWith(start, end domain.VertexID, weight WeightFunc) []domain.VertexID {
	if !g.valid(start) || !g.valid(end) {
		return nil
	}
	if start == end {
		return []domain.VertexID{start}
	}
	if weight == nil {
		weight = HopWeight
	}

	n := len(g.vertices)
	dist := make([]float64, n)
	prev := make([]domain.VertexID, n)
	settled := make([]bool, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		prev[i] = -1
	}
	dist[start] = 0

	pq := &frontier{}
	heap.Push(pq, frontierItem{vertex: start, dist: 0})
	for pq.Len() > 0 {
		u := heap.Pop(pq).(frontierItem).vertex
		if settled[u] {
			continue
		}
		settled[u] = true
		if u == end {
			break
		}
		for _, nb := range g.adj[u] {
			if settled[nb] {
				continue
			}
			lane := g.lanes[g.laneIndex[domain.NewLaneKey(u, nb)]]
			w := weight(g, lane)
			if w < 0 || math.IsNaN(w) {
				w = 0
			}
			alt := dist[u] + w
			if alt < dist[nb] {
				dist[nb] = alt
				prev[nb] = u
				heap.Push(pq, frontierItem{vertex: nb, dist: alt})
			}
		}
	}

	if math.IsInf(dist[end], 1) {
		return nil
	}
	var path []domain.VertexID
	for v := end; v != -1; v = prev[v] {
		path = append(path, v)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type frontierItem struct {
	vertex domain.VertexID
	dist   float64
}

type frontier []frontierItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].dist != f[j].dist {
		return f[i].dist < f[j].dist
	}
	return f[i].vertex < f[j].vertex
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any) { *f = append(*f, x.(frontierItem)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}
