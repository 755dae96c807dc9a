package vindex

import (
	"encoding/binary"
	"io"
	"math/rand"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/vectormath"
)

// ivfEntry is one vector's residual code within its assigned inverted
// list.
type ivfEntry struct {
	row  storage.RowIndex
	code []uint16
}

// IVFPQ is an inverted-file, product-quantized ANN index: a coarse
// quantizer partitions the space into nlist Voronoi cells, and within
// each cell, residuals (vector minus cell centroid) are product-
// quantized the same way PQ quantizes raw vectors.
type IVFPQ struct {
	source VectorSource
	metric vectormath.Metric
	dim    int

	nlist      int
	m          int
	nbits      int
	nprobe     int
	trainIters int
	subDim     int

	coarseCentroids [][]float32
	subspaces       []subspaceCentroids
	trained         bool

	lists map[int][]ivfEntry
	rng   *rand.Rand
}

// NewIVFPQ returns an untrained IVFPQ index. dim must be evenly
// divisible by m; nprobe must not exceed nlist.
func NewIVFPQ(source VectorSource, metric vectormath.Metric, dim, nlist, m, nbits, nprobe, trainIters int) (*IVFPQ, error) {
	if dim%m != 0 {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(ivfpq): dimension %d not divisible by M=%d", dim, m)
	}
	if nprobe > nlist {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(ivfpq): nprobe %d exceeds nlist %d", nprobe, nlist)
	}
	return &IVFPQ{
		source:     source,
		metric:     metric,
		dim:        dim,
		nlist:      nlist,
		m:          m,
		nbits:      nbits,
		nprobe:     nprobe,
		trainIters: trainIters,
		subDim:     dim / m,
		lists:      make(map[int][]ivfEntry),
		rng:        rand.New(rand.NewSource(1)),
	}, nil
}

func (iv *IVFPQ) Kind() Kind                { return KindIVFPQ }
func (iv *IVFPQ) Metric() vectormath.Metric { return iv.metric }

// SetNProbe overrides the number of coarse lists probed by subsequent
// Search/RangeSearch calls, clamped to nlist. Lets a caller (the
// heuristic optimizer) tune recall/latency per query.
func (iv *IVFPQ) SetNProbe(nprobe int) {
	if nprobe <= 0 {
		return
	}
	if nprobe > iv.nlist {
		nprobe = iv.nlist
	}
	iv.nprobe = nprobe
}

// NProbe returns the probe count currently in effect.
func (iv *IVFPQ) NProbe() int { return iv.nprobe }

func (iv *IVFPQ) Count() int {
	n := 0
	for _, l := range iv.lists {
		n += len(l)
	}
	return n
}

func (iv *IVFPQ) nearestCentroid(vec []float32) (int, []float32) {
	best := 0
	bestDist := vectormath.EuclideanDistance(vec, iv.coarseCentroids[0])
	for i := 1; i < len(iv.coarseCentroids); i++ {
		d := vectormath.EuclideanDistance(vec, iv.coarseCentroids[i])
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, iv.coarseCentroids[best]
}

func residual(vec, centroid []float32) []float32 {
	out := make([]float32, len(vec))
	for i := range vec {
		out[i] = vec[i] - centroid[i]
	}
	return out
}

// Train fits the coarse quantizer and per-subspace residual codebooks
// from trainingVectors.
func (iv *IVFPQ) Train(trainingVectors [][]float32) error {
	if len(trainingVectors) == 0 {
		return gverrors.New(gverrors.BadArgument, "vindex(ivfpq): no training vectors supplied")
	}

	iv.coarseCentroids = kmeans(trainingVectors, iv.nlist, iv.trainIters, iv.rng)

	residuals := make([][]float32, len(trainingVectors))
	for i, v := range trainingVectors {
		_, c := iv.nearestCentroid(v)
		residuals[i] = residual(v, c)
	}

	k := 1 << uint(iv.nbits)
	iv.subspaces = make([]subspaceCentroids, iv.m)
	for sub := 0; sub < iv.m; sub++ {
		subVecs := make([][]float32, len(residuals))
		for i, r := range residuals {
			subVecs[i] = r[sub*iv.subDim : (sub+1)*iv.subDim]
		}
		iv.subspaces[sub] = subspaceCentroids{centroids: kmeans(subVecs, k, iv.trainIters, iv.rng)}
	}
	iv.trained = true
	return nil
}

func (iv *IVFPQ) encodeResidual(res []float32) []uint16 {
	code := make([]uint16, iv.m)
	for sub := 0; sub < iv.m; sub++ {
		subVec := res[sub*iv.subDim : (sub+1)*iv.subDim]
		idx, _ := iv.subspaces[sub].nearest(subVec)
		code[sub] = uint16(idx)
	}
	return code
}

func (iv *IVFPQ) Insert(row storage.RowIndex, vec []float32) error {
	if !iv.trained {
		return gverrors.New(gverrors.Untrained, "vindex(ivfpq): index not trained")
	}
	if len(vec) != iv.dim {
		return gverrors.Newf(gverrors.BadArgument, "vindex(ivfpq): expected dimension %d, got %d", iv.dim, len(vec))
	}
	cell, centroid := iv.nearestCentroid(vec)
	code := iv.encodeResidual(residual(vec, centroid))
	iv.lists[cell] = append(iv.lists[cell], ivfEntry{row: row, code: code})
	return nil
}

func (iv *IVFPQ) Delete(row storage.RowIndex) error {
	for cell, entries := range iv.lists {
		for i, e := range entries {
			if e.row == row {
				iv.lists[cell] = append(entries[:i], entries[i+1:]...)
				return nil
			}
		}
	}
	return gverrors.Newf(gverrors.NotFound, "vindex(ivfpq): row %d not indexed", row)
}

func (iv *IVFPQ) Update(row storage.RowIndex, newVec []float32) error {
	if err := iv.Delete(row); err != nil {
		return err
	}
	return iv.Insert(row, newVec)
}

func (iv *IVFPQ) probeCells(query []float32) []int {
	type cellDist struct {
		cell int
		dist float32
	}
	cds := make([]cellDist, len(iv.coarseCentroids))
	for i, c := range iv.coarseCentroids {
		cds[i] = cellDist{cell: i, dist: vectormath.EuclideanDistance(query, c)}
	}
	for i := 1; i < len(cds); i++ {
		j := i
		for j > 0 && cds[j].dist < cds[j-1].dist {
			cds[j], cds[j-1] = cds[j-1], cds[j]
			j--
		}
	}
	n := iv.nprobe
	if n > len(cds) {
		n = len(cds)
	}
	cells := make([]int, n)
	for i := 0; i < n; i++ {
		cells[i] = cds[i].cell
	}
	return cells
}

func (iv *IVFPQ) adcTable(residualQuery []float32) [][]float32 {
	table := make([][]float32, iv.m)
	for sub := 0; sub < iv.m; sub++ {
		subQuery := residualQuery[sub*iv.subDim : (sub+1)*iv.subDim]
		row := make([]float32, len(iv.subspaces[sub].centroids))
		for i, c := range iv.subspaces[sub].centroids {
			row[i] = vectormath.EuclideanDistance(subQuery, c)
		}
		table[sub] = row
	}
	return table
}

func (iv *IVFPQ) Search(query []float32, k int, filter FilterFunc) ([]Result, error) {
	if !iv.trained {
		return nil, gverrors.New(gverrors.Untrained, "vindex(ivfpq): index not trained")
	}
	if len(query) != iv.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(ivfpq): expected dimension %d, got %d", iv.dim, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	var results []Result
	for _, cell := range iv.probeCells(query) {
		centroid := iv.coarseCentroids[cell]
		table := iv.adcTable(residual(query, centroid))
		for _, e := range iv.lists[cell] {
			deleted, err := iv.source.IsDeleted(e.row)
			if err != nil || deleted {
				continue
			}
			if filter != nil && !filter(e.row) {
				continue
			}
			results = append(results, Result{Row: e.row, Distance: adcDistance(table, e.code)})
		}
	}
	sortAscending(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (iv *IVFPQ) RangeSearch(query []float32, radius float32, filter FilterFunc) ([]Result, error) {
	if !iv.trained {
		return nil, gverrors.New(gverrors.Untrained, "vindex(ivfpq): index not trained")
	}
	if len(query) != iv.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(ivfpq): expected dimension %d, got %d", iv.dim, len(query))
	}

	var out []Result
	for _, cell := range iv.probeCells(query) {
		centroid := iv.coarseCentroids[cell]
		table := iv.adcTable(residual(query, centroid))
		for _, e := range iv.lists[cell] {
			deleted, err := iv.source.IsDeleted(e.row)
			if err != nil || deleted {
				continue
			}
			if filter != nil && !filter(e.row) {
				continue
			}
			d := adcDistance(table, e.code)
			if d <= radius {
				out = append(out, Result{Row: e.row, Distance: d})
			}
		}
	}
	sortAscending(out)
	return out, nil
}

var ivfpqMagic = [4]byte{'G', 'V', 'I', 'V'}

func (iv *IVFPQ) Save(w io.Writer) error {
	if _, err := w.Write(ivfpqMagic[:]); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): save header")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(iv.coarseCentroids))); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): save coarse count")
	}
	for _, c := range iv.coarseCentroids {
		for _, f := range c {
			if err := binary.Write(w, binary.LittleEndian, f); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): save coarse centroid")
			}
		}
	}
	if err := writeSubspaces(w, iv.subspaces); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(iv.lists))); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): save list count")
	}
	for cell, entries := range iv.lists {
		if err := binary.Write(w, binary.LittleEndian, uint32(cell)); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): save cell id")
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): save entry count")
		}
		for _, e := range entries {
			if err := binary.Write(w, binary.LittleEndian, uint64(e.row)); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): save entry row")
			}
			for _, c := range e.code {
				if err := binary.Write(w, binary.LittleEndian, c); err != nil {
					return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): save entry code")
				}
			}
		}
	}
	return nil
}

func (iv *IVFPQ) Load(r io.Reader, dim int) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): load header")
	}
	if magic != ivfpqMagic {
		return gverrors.New(gverrors.Corrupted, "vindex(ivfpq): bad magic")
	}

	var coarseCount uint32
	if err := binary.Read(r, binary.LittleEndian, &coarseCount); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): load coarse count")
	}
	iv.dim = dim
	iv.coarseCentroids = make([][]float32, coarseCount)
	for i := uint32(0); i < coarseCount; i++ {
		c := make([]float32, dim)
		for d := range c {
			if err := binary.Read(r, binary.LittleEndian, &c[d]); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): load coarse centroid")
			}
		}
		iv.coarseCentroids[i] = c
	}

	subspaces, err := readSubspaces(r)
	if err != nil {
		return err
	}
	iv.subspaces = subspaces
	iv.trained = len(subspaces) > 0 && len(iv.coarseCentroids) > 0

	var listCount uint32
	if err := binary.Read(r, binary.LittleEndian, &listCount); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): load list count")
	}
	iv.lists = make(map[int][]ivfEntry, listCount)
	for i := uint32(0); i < listCount; i++ {
		var cell uint32
		if err := binary.Read(r, binary.LittleEndian, &cell); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): load cell id")
		}
		var entryCount uint32
		if err := binary.Read(r, binary.LittleEndian, &entryCount); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): load entry count")
		}
		entries := make([]ivfEntry, entryCount)
		for j := uint32(0); j < entryCount; j++ {
			var rowRaw uint64
			if err := binary.Read(r, binary.LittleEndian, &rowRaw); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): load entry row")
			}
			code := make([]uint16, iv.m)
			for c := range code {
				if err := binary.Read(r, binary.LittleEndian, &code[c]); err != nil {
					return gverrors.Wrap(err, gverrors.Io, "vindex(ivfpq): load entry code")
				}
			}
			entries[j] = ivfEntry{row: storage.RowIndex(rowRaw), code: code}
		}
		iv.lists[int(cell)] = entries
	}
	return nil
}
