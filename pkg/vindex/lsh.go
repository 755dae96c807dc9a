package vindex

import (
	"encoding/binary"
	"math/rand"

	"github.com/cespare/xxhash/v2"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

// LSH is a locality-sensitive hashing dedup probe: it answers "is there
// already a row within epsilon of this vector" far cheaper than a full
// nearest-neighbor search, using random-hyperplane cosine buckets across
// several independent tables. It is not a general index — it has no
// Search/RangeSearch in the Index sense, only a dedup check.
type LSH struct {
	dim        int
	numTables  int
	bitsPerKey int
	epsilon    float32

	// hyperplanes[t][b] is the b-th random hyperplane normal for table t.
	hyperplanes [][][]float32
	buckets     []map[uint64][]storage.RowIndex

	maxRowsPerBucket int
}

// NewLSH returns an LSH dedup probe with numTables independent hash
// tables of bitsPerKey bits each (the spec's default is 8 tables x 12
// bits). epsilon is the cosine-distance threshold under which two
// vectors are considered duplicates. maxRowsPerBucket bounds memory; a
// bucket at capacity rejects further inserts with Exhausted rather than
// growing unboundedly.
func NewLSH(dim, numTables, bitsPerKey int, epsilon float32, maxRowsPerBucket int) *LSH {
	rng := rand.New(rand.NewSource(1))
	hyperplanes := make([][][]float32, numTables)
	buckets := make([]map[uint64][]storage.RowIndex, numTables)
	for t := 0; t < numTables; t++ {
		planes := make([][]float32, bitsPerKey)
		for b := 0; b < bitsPerKey; b++ {
			plane := make([]float32, dim)
			for d := 0; d < dim; d++ {
				plane[d] = float32(rng.NormFloat64())
			}
			planes[b] = plane
		}
		hyperplanes[t] = planes
		buckets[t] = make(map[uint64][]storage.RowIndex)
	}
	return &LSH{
		dim:              dim,
		numTables:        numTables,
		bitsPerKey:       bitsPerKey,
		epsilon:          epsilon,
		hyperplanes:      hyperplanes,
		buckets:          buckets,
		maxRowsPerBucket: maxRowsPerBucket,
	}
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// bucketKey hashes table t's bit signature for vec into a 64-bit key
// with xxhash, avoiding the fmt.Sprintf-based string keys a naive
// port would reach for.
func (l *LSH) bucketKey(table int, vec []float32) uint64 {
	var sig [8]byte
	var bits uint64
	for b := 0; b < l.bitsPerKey; b++ {
		if dot(vec, l.hyperplanes[table][b]) >= 0 {
			bits |= 1 << uint(b)
		}
	}
	binary.LittleEndian.PutUint64(sig[:], bits)
	return xxhash.Sum64(sig[:])
}

// Probe reports whether an existing row lies within epsilon cosine
// distance of vec, returning its row index if so.
func (l *LSH) Probe(vec []float32, cosineDistance func(a, b []float32) float32, lookup func(storage.RowIndex) ([]float32, bool)) (storage.RowIndex, bool) {
	seen := make(map[storage.RowIndex]bool)
	for t := 0; t < l.numTables; t++ {
		key := l.bucketKey(t, vec)
		for _, row := range l.buckets[t][key] {
			if seen[row] {
				continue
			}
			seen[row] = true
			candidate, ok := lookup(row)
			if !ok {
				continue
			}
			if cosineDistance(vec, candidate) <= l.epsilon {
				return row, true
			}
		}
	}
	return 0, false
}

// Insert records row's bucket membership across every table. Returns
// Exhausted if any table's target bucket is already at capacity.
func (l *LSH) Insert(row storage.RowIndex, vec []float32) error {
	if len(vec) != l.dim {
		return gverrors.Newf(gverrors.BadArgument, "vindex(lsh): expected dimension %d, got %d", l.dim, len(vec))
	}
	keys := make([]uint64, l.numTables)
	for t := 0; t < l.numTables; t++ {
		key := l.bucketKey(t, vec)
		if l.maxRowsPerBucket > 0 && len(l.buckets[t][key]) >= l.maxRowsPerBucket {
			return gverrors.Newf(gverrors.Exhausted, "vindex(lsh): bucket at capacity in table %d", t)
		}
		keys[t] = key
	}
	for t, key := range keys {
		l.buckets[t][key] = append(l.buckets[t][key], row)
	}
	return nil
}

// Remove purges row from every table's bucket for vec.
func (l *LSH) Remove(row storage.RowIndex, vec []float32) {
	for t := 0; t < l.numTables; t++ {
		key := l.bucketKey(t, vec)
		entries := l.buckets[t][key]
		for i, r := range entries {
			if r == row {
				l.buckets[t][key] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}
