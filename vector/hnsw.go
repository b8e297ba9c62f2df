package vector

import (
	"math"
	"math/rand"

	"github.com/gravel-db/gravel/metric"
)

// hnswGraph is a hierarchical navigable small world index over one
// collection's embeddings. Callers hold the collection lock; the graph
// itself is not safe for concurrent mutation.
//
// Deletes are tombstones: the node keeps routing searches but is excluded
// from results. Rebuilding compacts tombstones away.
type hnswGraph struct {
	m              int
	mMax0          int
	efConstruction int
	ml             float64

	simFn metric.SimilarityFunc
	rng   *rand.Rand

	nodes map[uint32]*hnswNode

	entry    uint32
	maxLevel int
	live     int
}

type hnswNode struct {
	seq     uint32
	vec     []float32
	level   int
	links   [][]uint32 // per layer, layer 0 first
	deleted bool
}

// newHNSWGraph builds an empty graph. The seed makes layer assignment, and
// with it the whole graph shape, deterministic for a given insert order.
func newHNSWGraph(m, efConstruction int, simFn metric.SimilarityFunc, seed int64) *hnswGraph {
	if m < 2 {
		m = 2
	}
	return &hnswGraph{
		m:              m,
		mMax0:          2 * m,
		efConstruction: efConstruction,
		ml:             1 / math.Log(float64(m)),
		simFn:          simFn,
		rng:            rand.New(rand.NewSource(seed)),
		nodes:          make(map[uint32]*hnswNode),
	}
}

// dist converts similarity to a distance so lower is always better inside
// the graph algorithms.
func (g *hnswGraph) dist(a, b []float32) float32 {
	return -g.simFn(a, b)
}

func (g *hnswGraph) len() int { return g.live }

func (g *hnswGraph) randomLevel() int {
	return int(math.Floor(-math.Log(g.rng.Float64()+1e-12) * g.ml))
}

// insert adds or replaces the vector for seq.
func (g *hnswGraph) insert(seq uint32, vec []float32) {
	if existing, ok := g.nodes[seq]; ok {
		// In-place replace: keep the links, swap the payload. Neighbor
		// quality degrades slightly but stays navigable.
		if existing.deleted {
			existing.deleted = false
			g.live++
		}
		existing.vec = vec
		return
	}

	level := g.randomLevel()
	node := &hnswNode{seq: seq, vec: vec, level: level, links: make([][]uint32, level+1)}
	g.nodes[seq] = node
	g.live++

	if len(g.nodes) == 1 {
		g.entry = seq
		g.maxLevel = level
		return
	}

	ep := g.entry
	// Greedy descent through layers above the insertion level.
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedyClosest(vec, ep, l)
	}

	for l := min(level, g.maxLevel); l >= 0; l-- {
		candidates := g.searchLayer(vec, ep, g.efConstruction, l)
		neighbors := g.selectNeighbors(vec, candidates, g.maxConnections(l))
		node.links[l] = neighbors
		for _, n := range neighbors {
			g.connect(n, seq, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].seq
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entry = seq
	}
}

func (g *hnswGraph) maxConnections(layer int) int {
	if layer == 0 {
		return g.mMax0
	}
	return g.m
}

// connect adds target to node's layer links, pruning to the layer budget
// when the list overflows.
func (g *hnswGraph) connect(seq, target uint32, layer int) {
	node := g.nodes[seq]
	if node == nil || layer > node.level {
		return
	}
	for _, l := range node.links[layer] {
		if l == target {
			return
		}
	}
	node.links[layer] = append(node.links[layer], target)

	budget := g.maxConnections(layer)
	if len(node.links[layer]) <= budget {
		return
	}
	cands := make([]candidate, 0, len(node.links[layer]))
	for _, l := range node.links[layer] {
		if other := g.nodes[l]; other != nil {
			cands = append(cands, candidate{seq: l, dist: g.dist(node.vec, other.vec)})
		}
	}
	node.links[layer] = g.selectNeighbors(node.vec, cands, budget)
}

// greedyClosest walks a single layer greedily to the local minimum.
func (g *hnswGraph) greedyClosest(query []float32, ep uint32, layer int) uint32 {
	cur := ep
	curNode := g.nodes[cur]
	if curNode == nil {
		return ep
	}
	curDist := g.dist(query, curNode.vec)
	for {
		improved := false
		node := g.nodes[cur]
		if node == nil || layer > node.level {
			return cur
		}
		for _, l := range node.links[layer] {
			next := g.nodes[l]
			if next == nil {
				continue
			}
			if d := g.dist(query, next.vec); d < curDist {
				cur, curDist = l, d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer is the ef-bounded best-first search on one layer. Results
// come back sorted closest first and include tombstoned nodes; callers
// filter them.
func (g *hnswGraph) searchLayer(query []float32, ep uint32, ef int, layer int) []candidate {
	epNode := g.nodes[ep]
	if epNode == nil {
		return nil
	}

	visited := map[uint32]struct{}{ep: {}}
	start := candidate{seq: ep, dist: g.dist(query, epNode.vec)}

	frontier := minHeap{start}
	results := maxHeap{start}

	for frontier.Len() > 0 {
		cur := popMin(&frontier)
		if results.Len() >= ef && cur.dist > results[0].dist {
			break
		}
		node := g.nodes[cur.seq]
		if node == nil || layer > node.level {
			continue
		}
		for _, l := range node.links[layer] {
			if _, seen := visited[l]; seen {
				continue
			}
			visited[l] = struct{}{}
			next := g.nodes[l]
			if next == nil {
				continue
			}
			c := candidate{seq: l, dist: g.dist(query, next.vec)}
			if results.Len() < ef || c.dist < results[0].dist {
				pushMin(&frontier, c)
				pushMax(&results, c)
				if results.Len() > ef {
					popMax(&results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = popMax(&results)
	}
	return out
}

// selectNeighbors keeps the closest candidates up to the budget, with the
// distance-diversity heuristic from the construction paper: a candidate is
// taken only if it is closer to the query than to any already-taken
// neighbor.
func (g *hnswGraph) selectNeighbors(query []float32, candidates []candidate, budget int) []uint32 {
	selected := make([]uint32, 0, budget)
	for _, c := range candidates {
		if len(selected) >= budget {
			break
		}
		node := g.nodes[c.seq]
		if node == nil {
			continue
		}
		diverse := true
		for _, s := range selected {
			other := g.nodes[s]
			if other != nil && g.dist(node.vec, other.vec) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c.seq)
		}
	}
	// Fall back to plain closest-first when the heuristic starves the
	// budget; isolated nodes hurt recall more than redundant links.
	if len(selected) < budget {
		for _, c := range candidates {
			if len(selected) >= budget {
				break
			}
			already := false
			for _, s := range selected {
				if s == c.seq {
					already = true
					break
				}
			}
			if !already {
				selected = append(selected, c.seq)
			}
		}
	}
	return selected
}

// search returns the k closest live vectors, searching with the given ef.
func (g *hnswGraph) search(query []float32, k, ef int) []candidate {
	if len(g.nodes) == 0 || k <= 0 {
		return nil
	}
	if ef < k {
		ef = k
	}

	ep := g.entry
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedyClosest(query, ep, l)
	}
	all := g.searchLayer(query, ep, ef, 0)

	out := make([]candidate, 0, k)
	for _, c := range all {
		if node := g.nodes[c.seq]; node != nil && !node.deleted {
			out = append(out, c)
			if len(out) == k {
				break
			}
		}
	}
	return out
}

// delete tombstones seq. Reports whether the seq was live.
func (g *hnswGraph) delete(seq uint32) bool {
	node, ok := g.nodes[seq]
	if !ok || node.deleted {
		return false
	}
	node.deleted = true
	g.live--
	return true
}

// tombstoneRatio reports the fraction of dead nodes, the rebuild trigger.
func (g *hnswGraph) tombstoneRatio() float64 {
	if len(g.nodes) == 0 {
		return 0
	}
	return float64(len(g.nodes)-g.live) / float64(len(g.nodes))
}
