// Package hnsw implements a small hierarchical navigable small world graph
// used as the sub-linear nearest-centroid index behind the quantizer. It also
// serves as a general nearest-neighbor index over float32 vectors.
package hnsw

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/quiverdb/quiver/distance"
)

// ErrEmptyIndex is returned when searching an index with no vectors.
var ErrEmptyIndex = errors.New("hnsw: index is empty")

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("hnsw: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options configures index construction.
type Options struct {
	// M is the number of connections established for every new element.
	M int

	// EFConstruction is the size of the dynamic candidate list during
	// insertion and improvement passes.
	EFConstruction int

	// Metric selects the distance used between vectors.
	Metric distance.Metric

	// Seed seeds the level generator, making construction reproducible.
	Seed int64
}

// DefaultOptions are the construction defaults, tuned for centroid
// vocabularies of a few thousand vectors.
var DefaultOptions = Options{
	M:              24,
	EFConstruction: 48,
	Metric:         distance.MetricL2,
	Seed:           42,
}

type node struct {
	Connections [][]uint32
	Vector      []float32
	Layer       int
	ID          uint32
}

// Index is a hierarchical navigable small world graph. Vectors are assigned
// dense ids in insertion order, so the index id of the i-th inserted vector
// is i.
type Index struct {
	mu sync.RWMutex

	dim      int
	mmax     int
	mmax0    int
	ml       float64
	ep       uint32
	maxLevel int
	nodes    []*node

	rng  *rand.Rand
	dist distance.Func
	opts Options
}

// New creates an empty index over vectors of the given dimension.
func New(dim int, optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		opts.M = 2
	}

	dist, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &Index{
		dim:   dim,
		mmax:  opts.M,
		mmax0: 2 * opts.M,
		ml:    1 / math.Log(float64(opts.M)),
		rng:   rand.New(rand.NewSource(opts.Seed)),
		dist:  dist,
		opts:  opts,
	}, nil
}

// Dimension returns the vector dimension the index was created with.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// Vector returns the stored vector for id. The returned slice must not be
// mutated.
func (ix *Index) Vector(id uint32) ([]float32, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if int(id) >= len(ix.nodes) {
		return nil, fmt.Errorf("hnsw: id %d out of range (count %d)", id, len(ix.nodes))
	}

	return ix.nodes[id].Vector, nil
}

// Insert adds v to the graph and returns its assigned id.
func (ix *Index) Insert(v []float32) (uint32, error) {
	if len(v) != ix.dim {
		return 0, &ErrDimensionMismatch{Expected: ix.dim, Actual: len(v)}
	}

	vec := make([]float32, len(v))
	copy(vec, v)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	id := uint32(len(ix.nodes))
	layer := int(math.Floor(-math.Log(ix.rng.Float64()) * ix.ml))

	n := &node{
		ID:          id,
		Vector:      vec,
		Layer:       layer,
		Connections: make([][]uint32, layer+1),
	}

	if len(ix.nodes) == 0 {
		ix.nodes = append(ix.nodes, n)
		ix.ep = id
		ix.maxLevel = layer

		return id, nil
	}

	epID, epDist := ix.descend(vec, layer)

	for level := min(layer, ix.maxLevel); level >= 0; level-- {
		found := ix.searchLayer(vec, queueItem{id: epID, dist: epDist}, ix.opts.EFConstruction, level)
		n.Connections[level] = ix.selectNeighbours(found, ix.mmax)

		if len(found) > 0 {
			epID, epDist = found[0].id, found[0].dist
		}
	}

	ix.nodes = append(ix.nodes, n)

	for level := min(layer, ix.maxLevel); level >= 0; level-- {
		for _, neighbour := range n.Connections[level] {
			ix.link(neighbour, id, level)
		}
	}

	if layer > ix.maxLevel {
		ix.ep = id
		ix.maxLevel = layer
	}

	return id, nil
}

// Search returns the ids and distances of up to k nearest neighbours of q,
// nearest first. ef bounds the candidate list; values below k are raised
// to k.
func (ix *Index) Search(q []float32, k, ef int) ([]uint32, []float32, error) {
	if len(q) != ix.dim {
		return nil, nil, &ErrDimensionMismatch{Expected: ix.dim, Actual: len(q)}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.nodes) == 0 {
		return nil, nil, ErrEmptyIndex
	}

	if ef < k {
		ef = k
	}

	epID, epDist := ix.descend(q, 0)
	found := ix.searchLayer(q, queueItem{id: epID, dist: epDist}, ef, 0)

	if len(found) > k {
		found = found[:k]
	}

	ids := make([]uint32, len(found))
	dists := make([]float32, len(found))
	for i, item := range found {
		ids[i] = item.id
		dists[i] = item.dist
	}

	return ids, dists, nil
}

// Improve runs one neighborhood improvement pass over every node, re-running
// a bottom-layer search around each stored vector and linking it to the
// better neighbours found. Useful after bulk construction.
func (ix *Index) Improve() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, n := range ix.nodes {
		epID, epDist := ix.descend(n.Vector, 0)
		found := ix.searchLayer(n.Vector, queueItem{id: epID, dist: epDist}, ix.opts.EFConstruction, 0)

		linked := 0
		for _, c := range found {
			if c.id == n.ID {
				continue
			}
			ix.link(n.ID, c.id, 0)
			ix.link(c.id, n.ID, 0)

			linked++
			if linked == ix.mmax {
				break
			}
		}
	}
}

// descend greedily walks from the entry point down to toLevel+1, returning
// the closest node seen and its distance to q.
func (ix *Index) descend(q []float32, toLevel int) (uint32, float32) {
	currID := ix.ep
	currDist := ix.dist(ix.nodes[currID].Vector, q)

	for level := ix.maxLevel; level > toLevel; level-- {
		changed := true
		for changed {
			changed = false

			for _, nid := range ix.connections(currID, level) {
				d := ix.dist(ix.nodes[nid].Vector, q)
				if d < currDist {
					currID = nid
					currDist = d
					changed = true
				}
			}
		}
	}

	return currID, currDist
}

// searchLayer performs a beam search at one level, returning up to ef
// candidates sorted nearest first.
func (ix *Index) searchLayer(q []float32, ep queueItem, ef, level int) []queueItem {
	var visited bitset.BitSet
	visited.Set(uint(ep.id))

	candidates := &itemHeap{}
	heap.Push(candidates, ep)

	results := &itemHeap{max: true}
	heap.Push(results, ep)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(queueItem)
		if c.dist > results.top().dist {
			break
		}

		for _, nid := range ix.connections(c.id, level) {
			if visited.Test(uint(nid)) {
				continue
			}
			visited.Set(uint(nid))

			d := ix.dist(ix.nodes[nid].Vector, q)
			item := queueItem{id: nid, dist: d}

			if results.Len() < ef {
				heap.Push(results, item)
				heap.Push(candidates, item)
			} else if d < results.top().dist {
				heap.Pop(results)
				heap.Push(results, item)
				heap.Push(candidates, item)
			}
		}
	}

	out := results.items
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })

	return out
}

// selectNeighbours picks up to m connection targets from candidates (sorted
// nearest first), preferring candidates that are closer to the query than to
// any already-selected neighbour, then backfilling by proximity.
func (ix *Index) selectNeighbours(candidates []queueItem, m int) []uint32 {
	selected := make([]uint32, 0, m)

	for _, c := range candidates {
		if len(selected) == m {
			break
		}

		keep := true
		for _, s := range selected {
			if ix.dist(ix.nodes[c.id].Vector, ix.nodes[s].Vector) < c.dist {
				keep = false
				break
			}
		}

		if keep {
			selected = append(selected, c.id)
		}
	}

	for _, c := range candidates {
		if len(selected) == m {
			break
		}
		if !containsID(selected, c.id) {
			selected = append(selected, c.id)
		}
	}

	return selected
}

// link records an edge from -> to at level, pruning back to the connection
// cap when exceeded.
func (ix *Index) link(from, to uint32, level int) {
	if from == to {
		return
	}

	n := ix.nodes[from]
	for len(n.Connections) <= level {
		n.Connections = append(n.Connections, nil)
	}
	if containsID(n.Connections[level], to) {
		return
	}

	n.Connections[level] = append(n.Connections[level], to)

	maxConnections := ix.mmax
	if level == 0 {
		maxConnections = ix.mmax0
	}
	if len(n.Connections[level]) <= maxConnections {
		return
	}

	candidates := make([]queueItem, 0, len(n.Connections[level]))
	for _, nid := range n.Connections[level] {
		candidates = append(candidates, queueItem{
			id:   nid,
			dist: ix.dist(n.Vector, ix.nodes[nid].Vector),
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	n.Connections[level] = ix.selectNeighbours(candidates, maxConnections)
}

func (ix *Index) connections(id uint32, level int) []uint32 {
	n := ix.nodes[id]
	if level >= len(n.Connections) {
		return nil
	}
	return n.Connections[level]
}

func containsID(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
