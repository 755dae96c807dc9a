package vindex

import (
	"container/heap"
	"encoding/binary"
	"io"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/vectormath"
)

// Flat is the exact, linear-scan baseline index. It stores no structure
// of its own beyond the set of rows it has seen; correctness over any
// other index is judged against it.
type Flat struct {
	source VectorSource
	metric vectormath.Metric
	dim    int
	dist   vectormath.DistanceFunc

	live map[storage.RowIndex]bool
}

// NewFlat returns a Flat index reading vectors from source.
func NewFlat(source VectorSource, metric vectormath.Metric, dim int) *Flat {
	return &Flat{
		source: source,
		metric: metric,
		dim:    dim,
		dist:   metric.Func(),
		live:   make(map[storage.RowIndex]bool),
	}
}

func (f *Flat) Kind() Kind                { return KindFlat }
func (f *Flat) Metric() vectormath.Metric { return f.metric }
func (f *Flat) Count() int                { return len(f.live) }

func (f *Flat) Insert(row storage.RowIndex, vec []float32) error {
	if len(vec) != f.dim {
		return gverrors.Newf(gverrors.BadArgument, "vindex(flat): expected dimension %d, got %d", f.dim, len(vec))
	}
	f.live[row] = true
	return nil
}

func (f *Flat) Delete(row storage.RowIndex) error {
	delete(f.live, row)
	return nil
}

func (f *Flat) Update(row storage.RowIndex, newVec []float32) error {
	if len(newVec) != f.dim {
		return gverrors.Newf(gverrors.BadArgument, "vindex(flat): expected dimension %d, got %d", f.dim, len(newVec))
	}
	// No structure to update; the vector itself lives in storage.
	return nil
}

// resultHeap is a bounded max-heap over Result, ordered so the worst
// (largest distance, then largest row index) candidate sits at the top
// for cheap eviction once the heap is full.
type resultHeap []Result

func (h resultHeap) Len() int { return len(h) }
func (h resultHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].Row > h[j].Row
}
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func sortAscending(results []Result) {
	// Insertion sort is adequate: k is typically small (tens), and
	// results already arrive near-sorted out of the max-heap.
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && less(results[j], results[j-1]) {
			results[j], results[j-1] = results[j-1], results[j]
			j--
		}
	}
}

func less(a, b Result) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Row < b.Row
}

func (f *Flat) Search(query []float32, k int, filter FilterFunc) ([]Result, error) {
	if len(query) != f.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(flat): expected dimension %d, got %d", f.dim, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	h := &resultHeap{}
	heap.Init(h)

	for row := range f.live {
		deleted, err := f.source.IsDeleted(row)
		if err != nil || deleted {
			continue
		}
		if filter != nil && !filter(row) {
			continue
		}
		vec, err := f.source.View(row)
		if err != nil {
			continue
		}
		d := f.dist(query, vec)

		if h.Len() < k {
			heap.Push(h, Result{Row: row, Distance: d})
			continue
		}
		worst := (*h)[0]
		if d < worst.Distance || (d == worst.Distance && row < worst.Row) {
			heap.Pop(h)
			heap.Push(h, Result{Row: row, Distance: d})
		}
	}

	out := make([]Result, h.Len())
	copy(out, *h)
	sortAscending(out)
	return out, nil
}

func (f *Flat) RangeSearch(query []float32, radius float32, filter FilterFunc) ([]Result, error) {
	if len(query) != f.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "vindex(flat): expected dimension %d, got %d", f.dim, len(query))
	}

	var out []Result
	for row := range f.live {
		deleted, err := f.source.IsDeleted(row)
		if err != nil || deleted {
			continue
		}
		if filter != nil && !filter(row) {
			continue
		}
		vec, err := f.source.View(row)
		if err != nil {
			continue
		}
		d := f.dist(query, vec)
		if d <= radius {
			out = append(out, Result{Row: row, Distance: d})
		}
	}
	sortAscending(out)
	return out, nil
}

// flatMagic identifies a Flat index's serialized header; Flat stores no
// structure beyond it since every live row is already durable in
// storage. Load reads only this header; the caller re-inserts the live
// rows from the reloaded storage.
var flatMagic = [4]byte{'G', 'V', 'F', 'L'}

func (f *Flat) Save(w io.Writer) error {
	if _, err := w.Write(flatMagic[:]); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(flat): save header")
	}
	return binary.Write(w, binary.LittleEndian, uint64(len(f.live)))
}

func (f *Flat) Load(r io.Reader, dim int) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(flat): load header")
	}
	if magic != flatMagic {
		return gverrors.New(gverrors.Corrupted, "vindex(flat): bad magic")
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "vindex(flat): load count")
	}
	f.dim = dim
	// Live rows are reconstructed by the caller re-inserting every live
	// row from the reloaded storage; Flat's own header carries no row
	// set because one is never out of sync with storage after a clean
	// snapshot load.
	return nil
}
