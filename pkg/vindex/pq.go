package vindex

import (
	"encoding/binary"
	"io"
	"math/rand"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/vectormath"
)

// subspaceCentroids holds the 2^nbits centroids for one of the M
// sub-vector subspaces, each subDim floats wide.
type subspaceCentroids struct {
	centroids [][]float32 // len == 2^nbits
}

func (s *subspaceCentroids) nearest(sub []float32) (int, float32) {
	best := -1
	var bestDist float32
	for i, c := range s.centroids {
		d := vectormath.EuclideanDistance(sub, c)
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// PQ is a product-quantized flat index: every vector is encoded to M
// sub-quantizer codes directly (no coarse quantizer), then searched by
// asymmetric distance computation against per-subspace lookup tables.
type PQ struct {
	source VectorSource
	metric vectormath.Metric
	dim    int

	m          int
	nbits      int
	subDim     int
	trainIters int

	subspaces []subspaceCentroids
	trained   bool

	codes map[storage.RowIndex][]uint16
	rng   *rand.Rand
}

// NewPQ returns an untrained PQ index. dim must be evenly divisible by
// m.
func NewPQ(source VectorSource, metric vectormath.Metric, dim, m, nbits, trainIters int) (*PQ, error) {
	if dim%m != 0 {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(pq): dimension %d not divisible by M=%d", dim, m)
	}
	return &PQ{
		source:     source,
		metric:     metric,
		dim:        dim,
		m:          m,
		nbits:      nbits,
		subDim:     dim / m,
		trainIters: trainIters,
		codes:      make(map[storage.RowIndex][]uint16),
		rng:        rand.New(rand.NewSource(1)),
	}, nil
}

func (p *PQ) Kind() Kind                { return KindPQ }
func (p *PQ) Metric() vectormath.Metric { return p.metric }
func (p *PQ) Count() int                { return len(p.codes) }

// Train fits per-subspace codebooks from trainingVectors via k-means
// with k-means++ seeding. Insert and Search reject before Train has run.
func (p *PQ) Train(trainingVectors [][]float32) error {
	if len(trainingVectors) == 0 {
		return gverrors.New(gverrors.BadArgument, "vindex(pq): no training vectors supplied")
	}
	k := 1 << uint(p.nbits)
	p.subspaces = make([]subspaceCentroids, p.m)

	for sub := 0; sub < p.m; sub++ {
		subVecs := make([][]float32, len(trainingVectors))
		for i, v := range trainingVectors {
			subVecs[i] = v[sub*p.subDim : (sub+1)*p.subDim]
		}
		p.subspaces[sub] = subspaceCentroids{centroids: kmeans(subVecs, k, p.trainIters, p.rng)}
	}
	p.trained = true
	return nil
}

func (p *PQ) encode(vec []float32) []uint16 {
	code := make([]uint16, p.m)
	for sub := 0; sub < p.m; sub++ {
		subVec := vec[sub*p.subDim : (sub+1)*p.subDim]
		idx, _ := p.subspaces[sub].nearest(subVec)
		code[sub] = uint16(idx)
	}
	return code
}

func (p *PQ) Insert(row storage.RowIndex, vec []float32) error {
	if !p.trained {
		return gverrors.New(gverrors.Untrained, "vindex(pq): index not trained")
	}
	if len(vec) != p.dim {
		return gverrors.Newf(gverrors.BadArgument, "vindex(pq): expected dimension %d, got %d", p.dim, len(vec))
	}
	p.codes[row] = p.encode(vec)
	return nil
}

func (p *PQ) Delete(row storage.RowIndex) error {
	if _, ok := p.codes[row]; !ok {
		return gverrors.Newf(gverrors.NotFound, "vindex(pq): row %d not indexed", row)
	}
	delete(p.codes, row)
	return nil
}

func (p *PQ) Update(row storage.RowIndex, newVec []float32) error {
	if !p.trained {
		return gverrors.New(gverrors.Untrained, "vindex(pq): index not trained")
	}
	if len(newVec) != p.dim {
		return gverrors.Newf(gverrors.BadArgument, "vindex(pq): expected dimension %d, got %d", p.dim, len(newVec))
	}
	if _, ok := p.codes[row]; !ok {
		return gverrors.Newf(gverrors.NotFound, "vindex(pq): row %d not indexed", row)
	}
	p.codes[row] = p.encode(newVec)
	return nil
}

// adcTable returns the asymmetric distance table: for each subspace, the
// distance from the query's sub-vector to every centroid in that
// subspace's codebook.
func (p *PQ) adcTable(query []float32) [][]float32 {
	table := make([][]float32, p.m)
	for sub := 0; sub < p.m; sub++ {
		subQuery := query[sub*p.subDim : (sub+1)*p.subDim]
		row := make([]float32, len(p.subspaces[sub].centroids))
		for i, c := range p.subspaces[sub].centroids {
			row[i] = vectormath.EuclideanDistance(subQuery, c)
		}
		table[sub] = row
	}
	return table
}

func adcDistance(table [][]float32, code []uint16) float32 {
	var sum float32
	for sub, c := range code {
		sum += table[sub][c]
	}
	return sum
}

func (p *PQ) Search(query []float32, k int, filter FilterFunc) ([]Result, error) {
	if !p.trained {
		return nil, gverrors.New(gverrors.Untrained, "vindex(pq): index not trained")
	}
	if len(query) != p.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(pq): expected dimension %d, got %d", p.dim, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	table := p.adcTable(query)
	h := &resultHeap{}
	for row, code := range p.codes {
		deleted, err := p.source.IsDeleted(row)
		if err != nil || deleted {
			continue
		}
		if filter != nil && !filter(row) {
			continue
		}
		d := adcDistance(table, code)
		if len(*h) < k {
			*h = append(*h, Result{Row: row, Distance: d})
			continue
		}
		worstIdx := worstIndex(*h)
		worst := (*h)[worstIdx]
		if d < worst.Distance || (d == worst.Distance && row < worst.Row) {
			(*h)[worstIdx] = Result{Row: row, Distance: d}
		}
	}
	out := make([]Result, len(*h))
	copy(out, *h)
	sortAscending(out)
	return out, nil
}

func worstIndex(results []Result) int {
	worst := 0
	for i := 1; i < len(results); i++ {
		if results[i].Distance > results[worst].Distance ||
			(results[i].Distance == results[worst].Distance && results[i].Row > results[worst].Row) {
			worst = i
		}
	}
	return worst
}

func (p *PQ) RangeSearch(query []float32, radius float32, filter FilterFunc) ([]Result, error) {
	if !p.trained {
		return nil, gverrors.New(gverrors.Untrained, "vindex(pq): index not trained")
	}
	if len(query) != p.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(pq): expected dimension %d, got %d", p.dim, len(query))
	}

	table := p.adcTable(query)
	var out []Result
	for row, code := range p.codes {
		deleted, err := p.source.IsDeleted(row)
		if err != nil || deleted {
			continue
		}
		if filter != nil && !filter(row) {
			continue
		}
		d := adcDistance(table, code)
		if d <= radius {
			out = append(out, Result{Row: row, Distance: d})
		}
	}
	sortAscending(out)
	return out, nil
}

var pqMagic = [4]byte{'G', 'V', 'P', 'Q'}

func (p *PQ) Save(w io.Writer) error {
	if _, err := w.Write(pqMagic[:]); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(pq): save header")
	}
	if err := writeSubspaces(w, p.subspaces); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.codes))); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(pq): save code count")
	}
	for row, code := range p.codes {
		if err := binary.Write(w, binary.LittleEndian, uint64(row)); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(pq): save code row")
		}
		for _, c := range code {
			if err := binary.Write(w, binary.LittleEndian, c); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex(pq): save code")
			}
		}
	}
	return nil
}

func (p *PQ) Load(r io.Reader, dim int) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(pq): load header")
	}
	if magic != pqMagic {
		return gverrors.New(gverrors.Corrupted, "vindex(pq): bad magic")
	}
	subspaces, err := readSubspaces(r)
	if err != nil {
		return err
	}
	p.dim = dim
	p.subspaces = subspaces
	p.trained = len(subspaces) > 0

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(pq): load code count")
	}
	p.codes = make(map[storage.RowIndex][]uint16, count)
	for i := uint32(0); i < count; i++ {
		var rowRaw uint64
		if err := binary.Read(r, binary.LittleEndian, &rowRaw); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex(pq): load code row")
		}
		code := make([]uint16, p.m)
		for j := range code {
			if err := binary.Read(r, binary.LittleEndian, &code[j]); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex(pq): load code")
			}
		}
		p.codes[storage.RowIndex(rowRaw)] = code
	}
	return nil
}

func writeSubspaces(w io.Writer, subspaces []subspaceCentroids) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(subspaces))); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex: save subspace count")
	}
	for _, s := range subspaces {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s.centroids))); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "vindex: save centroid count")
		}
		for _, c := range s.centroids {
			if err := binary.Write(w, binary.LittleEndian, uint32(len(c))); err != nil {
				return gverrors.Wrap(err, gverrors.Io, "vindex: save centroid dim")
			}
			for _, f := range c {
				if err := binary.Write(w, binary.LittleEndian, f); err != nil {
					return gverrors.Wrap(err, gverrors.Io, "vindex: save centroid value")
				}
			}
		}
	}
	return nil
}

func readSubspaces(r io.Reader) ([]subspaceCentroids, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, gverrors.Wrap(err, gverrors.Io, "vindex: load subspace count")
	}
	subspaces := make([]subspaceCentroids, count)
	for i := uint32(0); i < count; i++ {
		var centroidCount uint32
		if err := binary.Read(r, binary.LittleEndian, &centroidCount); err != nil {
			return nil, gverrors.Wrap(err, gverrors.Io, "vindex: load centroid count")
		}
		centroids := make([][]float32, centroidCount)
		for j := uint32(0); j < centroidCount; j++ {
			var dim uint32
			if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
				return nil, gverrors.Wrap(err, gverrors.Io, "vindex: load centroid dim")
			}
			c := make([]float32, dim)
			for d := range c {
				if err := binary.Read(r, binary.LittleEndian, &c[d]); err != nil {
					return nil, gverrors.Wrap(err, gverrors.Io, "vindex: load centroid value")
				}
			}
			centroids[j] = c
		}
		subspaces[i] = subspaceCentroids{centroids: centroids}
	}
	return subspaces, nil
}

// kmeans runs Lloyd's algorithm with k-means++ seeding for iters
// iterations and returns the k resulting centroids.
func kmeans(vectors [][]float32, k, iters int, rng *rand.Rand) [][]float32 {
	if len(vectors) == 0 {
		return nil
	}
	if k > len(vectors) {
		k = len(vectors)
	}
	dim := len(vectors[0])

	centroids := kmeansPlusPlusSeed(vectors, k, rng)

	assignment := make([]int, len(vectors))
	for iter := 0; iter < iters; iter++ {
		for i, v := range vectors {
			best := 0
			bestDist := vectormath.EuclideanDistance(v, centroids[0])
			for c := 1; c < k; c++ {
				d := vectormath.EuclideanDistance(v, centroids[c])
				if d < bestDist {
					best = c
					bestDist = d
				}
			}
			assignment[i] = best
		}

		sums := make([][]float32, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float32, dim)
		}
		for i, v := range vectors {
			c := assignment[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += v[d]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				centroids[c] = append([]float32(nil), vectors[rng.Intn(len(vectors))]...)
				continue
			}
			for d := 0; d < dim; d++ {
				sums[c][d] /= float32(counts[c])
			}
			centroids[c] = sums[c]
		}
	}
	return centroids
}

func kmeansPlusPlusSeed(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	first := vectors[rng.Intn(len(vectors))]
	centroids = append(centroids, append([]float32(nil), first...))

	dists := make([]float32, len(vectors))
	for len(centroids) < k {
		var total float32
		for i, v := range vectors {
			best := vectormath.EuclideanDistance(v, centroids[0])
			for _, c := range centroids[1:] {
				d := vectormath.EuclideanDistance(v, c)
				if d < best {
					best = d
				}
			}
			dists[i] = best * best
			total += dists[i]
		}
		if total == 0 {
			centroids = append(centroids, append([]float32(nil), vectors[rng.Intn(len(vectors))]...))
			continue
		}
		target := rng.Float32() * total
		var acc float32
		chosen := len(vectors) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, append([]float32(nil), vectors[chosen]...))
	}
	return centroids
}
