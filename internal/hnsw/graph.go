// Package hnsw implements the hierarchical navigable small-world graph
// that backs approximate k-NN search: insertion, filtered search,
// tombstone-based removal, and binary serialization.
//
// Internal indices are uint32 and assigned monotonically by the caller
// (store owns next_idx as the single source of truth and hands the
// graph the index to use on each Insert); the graph itself never
// reclaims or reassigns an index once used, matching the source's
// documented next_idx corruption history (spec §4.1, §9).
package hnsw

import (
	"math"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/PhilipJohnBasile/vecstore-sub003/internal/vecmath"
)

// Result is one hit returned by Search: an internal index and its raw
// distance under the graph's configured metric (lower is closer).
type Result struct {
	Idx      uint32
	Distance float64
}

type node struct {
	vector    []float32
	level     int
	neighbors [][]uint32 // neighbors[l] is the adjacency list at layer l, l in [0, level]
}

// Graph is a single HNSW index over one fixed dimension and metric. It
// is not safe for concurrent Insert/Remove (spec §5: "internally, HNSW
// insertion is not thread-safe") but does support many concurrent
// Search callers against one writer, coordinated by the embedded mutex.
type Graph struct {
	dim    int
	metric vecmath.Metric
	config Config

	mu         sync.RWMutex
	nodes      []*node
	tombstones *roaring.Bitmap
	entryPoint int64 // -1 means "no entry point" (empty graph or entry just removed)
	maxLevel   int
	nextIdx    uint32

	rng *rand.Rand
}

// New creates an empty graph for the given dimension, metric, and
// construction parameters.
func New(dim int, metric vecmath.Metric, config Config) *Graph {
	return &Graph{
		dim:        dim,
		metric:     metric,
		config:     config,
		tombstones: roaring.New(),
		entryPoint: -1,
		rng:        rand.New(rand.NewSource(1)),
	}
}

// Len returns the number of internal indices ever assigned (next_idx).
func (g *Graph) Len() uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nextIdx
}

// EntryPoint reports the current entry point, or ok=false if the graph
// has none (empty, or its entry was just removed with no live promotion
// candidate).
func (g *Graph) EntryPoint() (idx uint32, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.entryPoint < 0 {
		return 0, false
	}
	return uint32(g.entryPoint), true
}

func (g *Graph) distance(a, b []float32) float64 {
	return vecmath.Distance(g.metric, a, b)
}

func (g *Graph) randomLevel() int {
	r := g.rng.Float64()
	for r == 0 {
		r = g.rng.Float64()
	}
	return int(math.Floor(-math.Log(r) * g.config.levelMultiplier()))
}

func (g *Graph) ensureCapacity(idx uint32) {
	if int(idx) < len(g.nodes) {
		return
	}
	grown := make([]*node, idx+1)
	copy(grown, g.nodes)
	g.nodes = grown
}

// Insert adds a vector at the given internal index (spec §4.1 insert
// algorithm). idx must not already be present.
func (g *Graph) Insert(idx uint32, vec []float32) error {
	if len(vec) != g.dim {
		return ErrDimensionMismatch
	}
	if vecmath.HasInvalid(vec) {
		return ErrInvalidVector
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.randomLevel()
	stored := make([]float32, len(vec))
	copy(stored, vec)
	n := &node{vector: stored, level: level, neighbors: make([][]uint32, level+1)}

	g.ensureCapacity(idx)
	g.nodes[idx] = n
	if idx >= g.nextIdx {
		g.nextIdx = idx + 1
	}

	if g.entryPoint < 0 {
		g.entryPoint = int64(idx)
		g.maxLevel = level
		return nil
	}

	cur := uint32(g.entryPoint)
	curDist := g.distance(vec, g.nodes[cur].vector)
	for l := g.maxLevel; l > level; l-- {
		cur, curDist = g.greedyClosest(cur, curDist, vec, l)
	}

	constructionValid := func(candidate uint32) bool { return !g.tombstones.Contains(candidate) }
	for l := level; l >= 0; l-- {
		candidates := g.searchLayer(vec, []uint32{cur}, g.config.EfConstruction, l, constructionValid)
		if len(candidates) > 0 {
			cur = candidates[0].idx
		}
		cap := g.config.M
		if l == 0 {
			cap = g.config.m0()
		}
		chosen := g.selectNeighborsHeuristic(candidates, cap)
		n.neighbors[l] = chosen
		for _, nb := range chosen {
			if g.connect(nb, idx, l) {
				g.pruneIfNeeded(nb, l)
			}
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = int64(idx)
	}
	return nil
}

// greedyClosest walks from (cur, curDist) to its single closest neighbor
// at layer l, repeating until no neighbor improves on curDist.
func (g *Graph) greedyClosest(cur uint32, curDist float64, query []float32, l int) (uint32, float64) {
	for {
		improved := false
		curNode := g.nodes[cur]
		if l >= len(curNode.neighbors) {
			return cur, curDist
		}
		for _, nb := range curNode.neighbors[l] {
			d := g.distance(query, g.nodes[nb].vector)
			if d < curDist {
				cur, curDist = nb, d
				improved = true
			}
		}
		if !improved {
			return cur, curDist
		}
	}
}

// connect adds a bidirectional-intent edge from -> to at layer l (called
// once per direction by the caller). It is a no-op, returning false, if
// from has no adjacency at layer l (it was never assigned that high) or
// the edge already exists.
func (g *Graph) connect(from, to uint32, l int) bool {
	fromNode := g.nodes[from]
	if l >= len(fromNode.neighbors) {
		return false
	}
	for _, existing := range fromNode.neighbors[l] {
		if existing == to {
			return false
		}
	}
	fromNode.neighbors[l] = append(fromNode.neighbors[l], to)
	return true
}

// pruneIfNeeded re-applies the diverse-neighbor heuristic to idx's
// adjacency at layer l if it has grown past its cap.
func (g *Graph) pruneIfNeeded(idx uint32, l int) {
	n := g.nodes[idx]
	cap := g.config.M
	if l == 0 {
		cap = g.config.m0()
	}
	if len(n.neighbors[l]) <= cap {
		return
	}
	candidates := make([]candidate, 0, len(n.neighbors[l]))
	for _, nb := range n.neighbors[l] {
		candidates = append(candidates, candidate{idx: nb, dist: g.distance(n.vector, g.nodes[nb].vector)})
	}
	sortCandidates(candidates)
	n.neighbors[l] = g.selectNeighborsHeuristic(candidates, cap)
}

// selectNeighborsHeuristic implements the diverse-neighbor selection
// rule from spec §4.1: a candidate is kept only if no already-kept
// neighbor is strictly closer to it than the reference point is.
// Candidates must already be sorted closest-first. If fewer than m
// survive the diversity test, the closest remaining candidates fill out
// the rest, so nodes never end up under-connected purely because no
// candidate passed the diversity check.
func (g *Graph) selectNeighborsHeuristic(candidates []candidate, m int) []uint32 {
	kept := make([]candidate, 0, m)
	for _, c := range candidates {
		if len(kept) >= m {
			break
		}
		good := true
		for _, r := range kept {
			if g.distance(g.nodes[c.idx].vector, g.nodes[r.idx].vector) < c.dist {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		}
	}
	if len(kept) < m {
		have := make(map[uint32]bool, len(kept))
		for _, c := range kept {
			have[c.idx] = true
		}
		for _, c := range candidates {
			if len(kept) >= m {
				break
			}
			if !have[c.idx] {
				kept = append(kept, c)
				have[c.idx] = true
			}
		}
	}
	out := make([]uint32, len(kept))
	for i, c := range kept {
		out[i] = c.idx
	}
	return out
}

func sortCandidates(c []candidate) {
	// Small lists (bounded by M0); insertion sort keeps this allocation-free.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && less(c[j], c[j-1]); j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

func less(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.idx < b.idx
}

// searchLayer runs an ef-bounded beam search at layer l starting from
// entryPoints, returning candidates closest-first. isValid gates
// admission into the bounded result pool (and, for construction calls,
// also gates which nodes can host new edges) but never gates traversal:
// every reachable node, tombstoned or not, is still explored (spec
// §4.1: "all reachable nodes are still used for graph traversal").
func (g *Graph) searchLayer(query []float32, entryPoints []uint32, ef int, l int, isValid func(uint32) bool) []candidate {
	visited := make(map[uint32]bool, ef*2)
	toExplore := newCandidateHeap(false)
	results := newCandidateHeap(true)

	admit := func(idx uint32, d float64) {
		if g.tombstones.Contains(idx) {
			return
		}
		if isValid != nil && !isValid(idx) {
			return
		}
		results.push(candidate{idx: idx, dist: d})
		if results.Len() > ef {
			results.pop()
		}
	}

	for _, ep := range entryPoints {
		if visited[ep] {
			continue
		}
		visited[ep] = true
		d := g.distance(query, g.nodes[ep].vector)
		toExplore.push(candidate{idx: ep, dist: d})
		admit(ep, d)
	}

	for toExplore.Len() > 0 {
		c := toExplore.pop()
		if results.Len() >= ef && c.dist > results.peek().dist {
			break
		}
		n := g.nodes[c.idx]
		if l >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[l] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode := g.nodes[nb]
			if nbNode == nil {
				continue
			}
			d := g.distance(query, nbNode.vector)
			if results.Len() < ef || d < results.peek().dist {
				toExplore.push(candidate{idx: nb, dist: d})
			}
			admit(nb, d)
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

// Search runs a k-NN query with dynamic candidate pool ef = max(k, ef)
// (spec §4.1: the pool must never be capped below k). If isValid is
// non-nil, only candidates for which it returns true are admitted to
// the result set; tombstoned indices are always excluded regardless of
// isValid.
func (g *Graph) Search(query []float32, k, ef int, isValid func(uint32) bool) ([]Result, error) {
	if len(query) != g.dim {
		return nil, ErrDimensionMismatch
	}
	if vecmath.HasInvalid(query) {
		return nil, ErrInvalidVector
	}
	if ef < 1 {
		return nil, ErrInvalidEf
	}
	if k > ef {
		ef = k
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entryPoint < 0 {
		return nil, nil
	}

	cur := uint32(g.entryPoint)
	curDist := g.distance(query, g.nodes[cur].vector)
	for l := g.maxLevel; l > 0; l-- {
		cur, curDist = g.greedyClosest(cur, curDist, query, l)
	}

	candidates := g.searchLayer(query, []uint32{cur}, ef, 0, isValid)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{Idx: c.idx, Distance: c.dist}
	}
	return out, nil
}

// Remove tombstones idx. The graph's adjacency is left untouched (spec
// §4.1: "graph untouched, record tombstoned externally") — dead edges
// simply become inert waypoints that traversal still passes through but
// that Search never admits to a result set. If idx was the entry point,
// a live neighbor at its top layer is promoted; if none exists, the
// entry point is cleared and the next Insert becomes the new entry.
func (g *Graph) Remove(idx uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if int(idx) >= len(g.nodes) || g.nodes[idx] == nil {
		return ErrUnknownIndex
	}
	if g.tombstones.Contains(idx) {
		return ErrUnknownIndex
	}
	g.tombstones.Add(idx)

	if g.entryPoint == int64(idx) {
		n := g.nodes[idx]
		promoted := false
		if n.level < len(n.neighbors) {
			for _, nb := range n.neighbors[n.level] {
				if !g.tombstones.Contains(nb) {
					g.entryPoint = int64(nb)
					g.maxLevel = g.nodes[nb].level
					promoted = true
					break
				}
			}
		}
		if !promoted {
			g.entryPoint = -1
		}
	}
	return nil
}

// Live reports whether idx has been inserted and not tombstoned.
func (g *Graph) Live(idx uint32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return int(idx) < len(g.nodes) && g.nodes[idx] != nil && !g.tombstones.Contains(idx)
}
