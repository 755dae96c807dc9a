package vindex

import (
	"encoding/binary"
	"io"
	"math"
	"math/rand"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/vectormath"
)

// hnswNode is an arena entry: a graph node addressed by its integer
// index rather than a pointer, so the graph's cycles never need to be
// represented as linked pointers.
type hnswNode struct {
	row       storage.RowIndex
	level     int
	neighbors [][]uint32 // per layer, 0..level
	deleted   bool
}

// HNSW is a hierarchical navigable small-world graph index.
type HNSW struct {
	source VectorSource
	metric vectormath.Metric
	dim    int
	dist   vectormath.DistanceFunc

	m              int
	efConstruction int
	efSearch       int
	levelMult      float64

	arena      []hnswNode
	rowToNode  map[storage.RowIndex]uint32
	entryPoint int32 // -1 when empty
	topLevel   int

	tombstones int
	rng        *rand.Rand
}

// NewHNSW returns an empty HNSW index. m is the per-node out-degree,
// efConstruction the build-time beam width, efSearch the default
// query-time beam width.
func NewHNSW(source VectorSource, metric vectormath.Metric, dim, m, efConstruction, efSearch int) *HNSW {
	return &HNSW{
		source:         source,
		metric:         metric,
		dim:            dim,
		dist:           metric.Func(),
		m:              m,
		efConstruction: efConstruction,
		efSearch:       efSearch,
		levelMult:      1.0 / math.Log(float64(m)),
		rowToNode:      make(map[storage.RowIndex]uint32),
		entryPoint:     -1,
		rng:            rand.New(rand.NewSource(1)),
	}
}

func (h *HNSW) Kind() Kind                { return KindHNSW }
func (h *HNSW) Metric() vectormath.Metric { return h.metric }
func (h *HNSW) Count() int                { return len(h.rowToNode) - h.tombstones }

// SetEfSearch overrides the beam width used by subsequent Search/
// RangeSearch calls, letting a caller (the heuristic optimizer) tune
// recall/latency per query instead of only at construction time.
func (h *HNSW) SetEfSearch(ef int) {
	if ef > 0 {
		h.efSearch = ef
	}
}

// EfSearch returns the beam width currently in effect.
func (h *HNSW) EfSearch() int { return h.efSearch }

func (h *HNSW) sampleLevel() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * h.levelMult))
}

type candidate struct {
	node uint32
	dist float32
}

// searchLayer runs a bounded beam search of width ef on layer from the
// given entry points, returning up to ef nearest candidates to query.
// Tombstoned nodes are included; callers drop them from results.
func (h *HNSW) searchLayer(query []float32, entries []uint32, ef, layer int) []candidate {
	visited := make(map[uint32]bool)
	var candidates minHeap
	var results maxHeap

	for _, e := range entries {
		if visited[e] {
			continue
		}
		visited[e] = true
		vec, err := h.source.View(h.arena[e].row)
		if err != nil {
			continue
		}
		d := h.dist(query, vec)
		candidates = append(candidates, candidate{node: e, dist: d})
		results = append(results, candidate{node: e, dist: d})
	}
	candidates.init()
	results.init()

	for len(candidates) > 0 {
		c := candidates.pop()
		if len(results) >= ef {
			worst := results[0]
			if c.dist > worst.dist {
				break
			}
		}

		if layer >= len(h.arena[c.node].neighbors) {
			continue
		}
		for _, nb := range h.arena[c.node].neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			vec, err := h.source.View(h.arena[nb].row)
			if err != nil {
				continue
			}
			d := h.dist(query, vec)
			if len(results) < ef {
				candidates.push(candidate{node: nb, dist: d})
				results.push(candidate{node: nb, dist: d})
			} else if d < results[0].dist {
				candidates.push(candidate{node: nb, dist: d})
				results.push(candidate{node: nb, dist: d})
				results.pop()
			}
		}
	}

	out := make([]candidate, len(results))
	copy(out, results)
	return out
}

// selectNeighbors implements the HNSW "select by diversity" heuristic:
// of the candidates (already distance-sorted ascending), keep a
// candidate only if it is closer to the query than to every neighbor
// already kept, discarding merely-closest-but-redundant candidates.
func selectNeighbors(h *HNSW, candidates []candidate, m int) []uint32 {
	sortCandidatesAscending(candidates)

	selected := make([]uint32, 0, m)
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		cVec, err := h.source.View(h.arena[c.node].row)
		if err != nil {
			continue
		}
		good := true
		for _, s := range selected {
			sVec, err := h.source.View(h.arena[s].row)
			if err != nil {
				continue
			}
			if h.dist(cVec, sVec) < c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c.node)
		}
	}
	// Degree cap fallback: if the diversity heuristic was too strict to
	// fill m slots, pad with the closest remaining candidates.
	if len(selected) < m {
		have := make(map[uint32]bool, len(selected))
		for _, s := range selected {
			have[s] = true
		}
		for _, c := range candidates {
			if len(selected) >= m {
				break
			}
			if !have[c.node] {
				selected = append(selected, c.node)
			}
		}
	}
	return selected
}

func sortCandidatesAscending(c []candidate) {
	for i := 1; i < len(c); i++ {
		j := i
		for j > 0 && c[j].dist < c[j-1].dist {
			c[j], c[j-1] = c[j-1], c[j]
			j--
		}
	}
}

func (h *HNSW) Insert(row storage.RowIndex, vec []float32) error {
	if len(vec) != h.dim {
		return gverrors.Newf(gverrors.BadArgument, "vindex(hnsw): expected dimension %d, got %d", h.dim, len(vec))
	}
	if _, exists := h.rowToNode[row]; exists {
		return gverrors.Newf(gverrors.BadArgument, "vindex(hnsw): row %d already indexed", row)
	}

	level := h.sampleLevel()
	nodeID := uint32(len(h.arena))
	node := hnswNode{row: row, level: level, neighbors: make([][]uint32, level+1)}
	h.arena = append(h.arena, node)
	h.rowToNode[row] = nodeID

	if h.entryPoint == -1 {
		h.entryPoint = int32(nodeID)
		h.topLevel = level
		return nil
	}

	entry := uint32(h.entryPoint)
	curLevel := h.topLevel

	// Phase 1: greedily descend from the top layer to level+1.
	for curLevel > level {
		results := h.searchLayer(vec, []uint32{entry}, 1, curLevel)
		if len(results) > 0 {
			entry = results[0].node
		}
		curLevel--
	}

	// Phase 2: bounded beam search + neighbor selection from level down
	// to 0.
	entries := []uint32{entry}
	for l := min(level, h.topLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, entries, h.efConstruction, l)
		neighbors := selectNeighbors(h, candidates, h.m)
		h.arena[nodeID].neighbors[l] = neighbors

		for _, nb := range neighbors {
			h.addBacklink(nb, nodeID, l)
		}

		entries = neighbors
		if len(entries) == 0 {
			entries = []uint32{entry}
		}
	}

	if level > h.topLevel {
		h.entryPoint = int32(nodeID)
		h.topLevel = level
	}

	return nil
}

// addBacklink adds nodeID as a neighbor of nb at layer, re-selecting
// nb's neighbor set if this pushes it over the degree cap.
func (h *HNSW) addBacklink(nb, nodeID uint32, layer int) {
	if layer >= len(h.arena[nb].neighbors) {
		return
	}
	h.arena[nb].neighbors[layer] = append(h.arena[nb].neighbors[layer], nodeID)
	if len(h.arena[nb].neighbors[layer]) <= h.m {
		return
	}

	nbVec, err := h.source.View(h.arena[nb].row)
	if err != nil {
		return
	}
	candidates := make([]candidate, 0, len(h.arena[nb].neighbors[layer]))
	for _, n := range h.arena[nb].neighbors[layer] {
		vec, err := h.source.View(h.arena[n].row)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{node: n, dist: h.dist(nbVec, vec)})
	}
	h.arena[nb].neighbors[layer] = selectNeighbors(h, candidates, h.m)
}

func (h *HNSW) Delete(row storage.RowIndex) error {
	nodeID, ok := h.rowToNode[row]
	if !ok {
		return gverrors.Newf(gverrors.NotFound, "vindex(hnsw): row %d not indexed", row)
	}
	if h.arena[nodeID].deleted {
		return gverrors.Newf(gverrors.BadArgument, "vindex(hnsw): row %d already deleted", row)
	}
	h.arena[nodeID].deleted = true
	h.tombstones++
	return nil
}

func (h *HNSW) Update(row storage.RowIndex, newVec []float32) error {
	if len(newVec) != h.dim {
		return gverrors.Newf(gverrors.BadArgument, "vindex(hnsw): expected dimension %d, got %d", h.dim, len(newVec))
	}
	// The graph's edges are built from the vector that now lives, updated,
	// in storage; searches read vectors live from storage, so no edge
	// rebuild is required for a value-only update. A full Rebuild handles
	// the case where the update has meaningfully moved the point.
	return nil
}

// Rebuild reconstructs the graph from scratch over rows, with vecs[i]
// the vector of rows[i], discarding all tombstoned nodes. Nothing in
// this module calls Rebuild, so tombstoned nodes stay in the graph until
// a caller invokes it.
func (h *HNSW) Rebuild(rows []storage.RowIndex, vecs [][]float32) error {
	*h = *NewHNSW(h.source, h.metric, h.dim, h.m, h.efConstruction, h.efSearch)
	for i, row := range rows {
		if err := h.Insert(row, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (h *HNSW) Search(query []float32, k int, filter FilterFunc) ([]Result, error) {
	if len(query) != h.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(hnsw): expected dimension %d, got %d", h.dim, len(query))
	}
	if h.entryPoint == -1 || k <= 0 {
		return nil, nil
	}

	entry := uint32(h.entryPoint)
	for l := h.topLevel; l > 0; l-- {
		results := h.searchLayer(query, []uint32{entry}, 1, l)
		if len(results) > 0 {
			entry = results[0].node
		}
	}

	ef := h.efSearch
	if k > ef {
		ef = k
	}
	candidates := h.searchLayer(query, []uint32{entry}, ef, 0)

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		node := h.arena[c.node]
		if node.deleted {
			continue
		}
		deleted, err := h.source.IsDeleted(node.row)
		if err != nil || deleted {
			continue
		}
		if filter != nil && !filter(node.row) {
			continue
		}
		out = append(out, Result{Row: node.row, Distance: c.dist})
	}
	sortAscending(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (h *HNSW) RangeSearch(query []float32, radius float32, filter FilterFunc) ([]Result, error) {
	if len(query) != h.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(hnsw): expected dimension %d, got %d", h.dim, len(query))
	}
	if h.entryPoint == -1 {
		return nil, nil
	}

	entry := uint32(h.entryPoint)
	for l := h.topLevel; l > 0; l-- {
		results := h.searchLayer(query, []uint32{entry}, 1, l)
		if len(results) > 0 {
			entry = results[0].node
		}
	}

	ef := h.efSearch
	if ef < len(h.arena) {
		ef = len(h.arena)
	}
	candidates := h.searchLayer(query, []uint32{entry}, ef, 0)

	var out []Result
	for _, c := range candidates {
		if c.dist > radius {
			continue
		}
		node := h.arena[c.node]
		if node.deleted {
			continue
		}
		deleted, err := h.source.IsDeleted(node.row)
		if err != nil || deleted {
			continue
		}
		if filter != nil && !filter(node.row) {
			continue
		}
		out = append(out, Result{Row: node.row, Distance: c.dist})
	}
	sortAscending(out)
	return out, nil
}

var hnswMagic = [4]byte{'G', 'V', 'H', 'N'}

func (h *HNSW) Save(w io.Writer) error {
	if _, err := w.Write(hnswMagic[:]); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save header")
	}
	if err := binary.Write(w, binary.LittleEndian, int32(h.entryPoint)); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save entry point")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.topLevel)); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save top level")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(h.arena))); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save node count")
	}
	for _, n := range h.arena {
		if err := binary.Write(w, binary.LittleEndian, uint64(n.row)); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save node row")
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(n.level)); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save node level")
		}
		deletedByte := byte(0)
		if n.deleted {
			deletedByte = 1
		}
		if _, err := w.Write([]byte{deletedByte}); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save node tombstone")
		}
		for _, layer := range n.neighbors {
			if err := binary.Write(w, binary.LittleEndian, uint32(len(layer))); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save neighbor count")
			}
			for _, nb := range layer {
				if err := binary.Write(w, binary.LittleEndian, nb); err != nil {
					return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): save neighbor")
				}
			}
		}
	}
	return nil
}

func (h *HNSW) Load(r io.Reader, dim int) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load header")
	}
	if magic != hnswMagic {
		return gverrors.New(gverrors.Corrupted, "vindex(hnsw): bad magic")
	}
	var entry int32
	if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load entry point")
	}
	var topLevel, nodeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &topLevel); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load top level")
	}
	if err := binary.Read(r, binary.LittleEndian, &nodeCount); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load node count")
	}

	h.dim = dim
	h.dist = h.metric.Func()
	h.entryPoint = entry
	h.topLevel = int(topLevel)
	h.arena = make([]hnswNode, nodeCount)
	h.rowToNode = make(map[storage.RowIndex]uint32, nodeCount)
	h.tombstones = 0

	for i := uint32(0); i < nodeCount; i++ {
		var rowRaw uint64
		if err := binary.Read(r, binary.LittleEndian, &rowRaw); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load node row")
		}
		var level uint32
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load node level")
		}
		var deletedByte [1]byte
		if _, err := io.ReadFull(r, deletedByte[:]); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load node tombstone")
		}

		node := hnswNode{
			row:       storage.RowIndex(rowRaw),
			level:     int(level),
			deleted:   deletedByte[0] != 0,
			neighbors: make([][]uint32, level+1),
		}
		for l := uint32(0); l <= level; l++ {
			var count uint32
			if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load neighbor count")
			}
			neighbors := make([]uint32, count)
			for j := uint32(0); j < count; j++ {
				if err := binary.Read(r, binary.LittleEndian, &neighbors[j]); err != nil {
					return gverrors.Wrap(err, gverrors.Io, "vindex(hnsw): load neighbor")
				}
			}
			node.neighbors[l] = neighbors
		}

		h.arena[i] = node
		h.rowToNode[node.row] = i
		if node.deleted {
			h.tombstones++
		}
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
