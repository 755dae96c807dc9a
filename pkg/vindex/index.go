// Package vindex implements the polymorphic vector index family: Flat
// (exact scan), HNSW (graph ANN), IVFPQ and PQ (quantized ANN), and an
// LSH dedup probe. Every index references vectors by row index only; it
// owns no vector data of its own.
package vindex

import (
	"io"

	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/vectormath"
)

// Kind enumerates the index families.
type Kind int

const (
	KindFlat Kind = iota
	KindHNSW
	KindIVFPQ
	KindPQ
)

// Result is a single search hit.
type Result struct {
	Row      storage.RowIndex
	Distance float32
}

// VectorSource gives an index read access to live vectors by row index,
// without granting it ownership of storage. It is satisfied by
// *storage.Store.
type VectorSource interface {
	View(row storage.RowIndex) ([]float32, error)
	IsDeleted(row storage.RowIndex) (bool, error)
}

// FilterFunc reports whether row is admissible into a search result,
// independent of distance. The database façade supplies one backed by
// filterlang.Evaluate plus the row's metadata; an index never needs to
// know how filtering works, only whether a candidate passes.
type FilterFunc func(row storage.RowIndex) bool

// Index is the shared contract every index kind implements. An index
// owns no vectors; every operation references storage by row index.
type Index interface {
	Kind() Kind
	Metric() vectormath.Metric

	// Insert adds row to the index. vec is supplied because some index
	// kinds (HNSW, IVFPQ/PQ) need the vector's value at insert time to
	// place it in the structure, not merely its identity.
	Insert(row storage.RowIndex, vec []float32) error
	Delete(row storage.RowIndex) error
	Update(row storage.RowIndex, newVec []float32) error

	// Search returns the k closest live, filter-passing rows to query,
	// ascending by distance, ties broken by smaller row index.
	Search(query []float32, k int, filter FilterFunc) ([]Result, error)
	// RangeSearch returns every live, filter-passing row within radius
	// of query.
	RangeSearch(query []float32, radius float32, filter FilterFunc) ([]Result, error)

	Count() int

	Save(w io.Writer) error
	Load(r io.Reader, dim int) error
}
