// Package storage implements the struct-of-arrays columnar store that
// owns every row's vector, metadata, and bookkeeping columns.
package storage

import (
	"time"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
)

// RowIndex is a stable, dense, monotonically assigned row identifier.
type RowIndex uint64

const initialCapacity = 16

// Store is a struct-of-arrays container for D-dimensional float32
// vectors plus per-row bookkeeping (tombstone, version, timestamps,
// metadata, TTL). Row indices are dense in [0, Len()) and, once
// assigned, never change; deletion only sets the tombstone column.
//
// Store is not internally synchronized — callers (the database façade)
// serialize access with their own readers-writer lock, per the
// single-writer-lock concurrency model.
type Store struct {
	dim      int
	vectors  []float32 // len == capacity*dim, logically capacity rows
	tomb     []bool
	version  []uint64
	created  []int64 // microseconds since epoch
	updated  []int64
	expireAt []int64 // 0 means no TTL
	meta     []metadata.Bag

	count      int
	capacity   int
	tombstones int
}

// New returns an empty Store for D-dimensional vectors.
func New(dim int) *Store {
	return &Store{
		dim:      dim,
		vectors:  make([]float32, initialCapacity*dim),
		tomb:     make([]bool, initialCapacity),
		version:  make([]uint64, initialCapacity),
		created:  make([]int64, initialCapacity),
		updated:  make([]int64, initialCapacity),
		expireAt: make([]int64, initialCapacity),
		meta:     make([]metadata.Bag, initialCapacity),
		capacity: initialCapacity,
	}
}

// Dim returns the store's fixed vector dimension.
func (s *Store) Dim() int { return s.dim }

// Len returns the number of rows ever appended (including tombstoned
// ones); row indices are dense in [0, Len()).
func (s *Store) Len() int { return s.count }

// TombstoneCount returns the number of rows currently tombstoned.
func (s *Store) TombstoneCount() int { return s.tombstones }

func nowMicros() int64 { return time.Now().UnixMicro() }

func (s *Store) growIfNeeded() {
	if s.count < s.capacity {
		return
	}
	newCap := s.capacity * 2
	vectors := make([]float32, newCap*s.dim)
	copy(vectors, s.vectors)
	tomb := make([]bool, newCap)
	copy(tomb, s.tomb)
	version := make([]uint64, newCap)
	copy(version, s.version)
	created := make([]int64, newCap)
	copy(created, s.created)
	updated := make([]int64, newCap)
	copy(updated, s.updated)
	expireAt := make([]int64, newCap)
	copy(expireAt, s.expireAt)
	meta := make([]metadata.Bag, newCap)
	copy(meta, s.meta)

	s.vectors, s.tomb, s.version = vectors, tomb, version
	s.created, s.updated, s.expireAt, s.meta = created, updated, expireAt, meta
	s.capacity = newCap
}

// Append stores vec as a new row and returns its row index. The zero
// value's version is 0; the row is live and untombstoned.
func (s *Store) Append(vec []float32) (RowIndex, error) {
	return s.AppendWithMetadata(vec, nil)
}

// AppendWithMetadata stores vec with an initial metadata bag.
func (s *Store) AppendWithMetadata(vec []float32, meta metadata.Bag) (RowIndex, error) {
	if len(vec) != s.dim {
		return 0, gverrors.Newf(gverrors.BadArgument, "storage: expected dimension %d, got %d", s.dim, len(vec))
	}
	s.growIfNeeded()

	idx := s.count
	copy(s.vectors[idx*s.dim:(idx+1)*s.dim], vec)
	s.tomb[idx] = false
	s.version[idx] = 0
	now := nowMicros()
	s.created[idx] = now
	s.updated[idx] = now
	s.expireAt[idx] = 0
	if meta != nil {
		s.meta[idx] = meta.DeepCopy()
	} else {
		s.meta[idx] = metadata.Bag{}
	}
	s.count++
	return RowIndex(idx), nil
}

// RestoreRow appends a row with its exact historical bookkeeping state,
// bypassing the normal now()/version-reset behavior of Append. Used when
// reloading a snapshot, where vec's version, tombstone flag, timestamps,
// and TTL deadline must survive the round trip unchanged rather than be
// reset as if freshly inserted.
func (s *Store) RestoreRow(vec []float32, tombstone bool, version uint64, createdAt, updatedAt, expireAt int64, meta metadata.Bag) (RowIndex, error) {
	if len(vec) != s.dim {
		return 0, gverrors.Newf(gverrors.BadArgument, "storage: expected dimension %d, got %d", s.dim, len(vec))
	}
	s.growIfNeeded()

	idx := s.count
	copy(s.vectors[idx*s.dim:(idx+1)*s.dim], vec)
	s.tomb[idx] = tombstone
	s.version[idx] = version
	s.created[idx] = createdAt
	s.updated[idx] = updatedAt
	s.expireAt[idx] = expireAt
	if meta != nil {
		s.meta[idx] = meta.DeepCopy()
	} else {
		s.meta[idx] = metadata.Bag{}
	}
	s.count++
	if tombstone {
		s.tombstones++
	}
	return RowIndex(idx), nil
}

func (s *Store) checkBounds(row RowIndex) error {
	if int(row) < 0 || int(row) >= s.count {
		return gverrors.Newf(gverrors.BadArgument, "storage: row index %d out of range [0,%d)", row, s.count)
	}
	return nil
}

// Get returns a copy of row's vector.
func (s *Store) Get(row RowIndex) ([]float32, error) {
	if err := s.checkBounds(row); err != nil {
		return nil, err
	}
	out := make([]float32, s.dim)
	copy(out, s.vectors[int(row)*s.dim:(int(row)+1)*s.dim])
	return out, nil
}

// View returns a direct slice view of row's vector, valid until the next
// mutating call (Append may reallocate the backing array). Callers that
// need a stable copy should use Get.
func (s *Store) View(row RowIndex) ([]float32, error) {
	if err := s.checkBounds(row); err != nil {
		return nil, err
	}
	return s.vectors[int(row)*s.dim : (int(row)+1)*s.dim], nil
}

// IsDeleted reports whether row is tombstoned.
func (s *Store) IsDeleted(row RowIndex) (bool, error) {
	if err := s.checkBounds(row); err != nil {
		return false, err
	}
	return s.tomb[row], nil
}

// Version returns row's current version counter.
func (s *Store) Version(row RowIndex) (uint64, error) {
	if err := s.checkBounds(row); err != nil {
		return 0, err
	}
	return s.version[row], nil
}

// Delete tombstones row. Deleting an already-tombstoned row is rejected.
func (s *Store) Delete(row RowIndex) error {
	if err := s.checkBounds(row); err != nil {
		return err
	}
	if s.tomb[row] {
		return gverrors.Newf(gverrors.BadArgument, "storage: row %d already deleted", row)
	}
	s.tomb[row] = true
	s.version[row]++
	s.updated[row] = nowMicros()
	s.tombstones++
	return nil
}

// Update replaces row's vector, bumping its version.
func (s *Store) Update(row RowIndex, vec []float32) error {
	if err := s.checkBounds(row); err != nil {
		return err
	}
	if len(vec) != s.dim {
		return gverrors.Newf(gverrors.BadArgument, "storage: expected dimension %d, got %d", s.dim, len(vec))
	}
	if s.tomb[row] {
		return gverrors.Newf(gverrors.BadArgument, "storage: row %d is deleted", row)
	}
	copy(s.vectors[int(row)*s.dim:(int(row)+1)*s.dim], vec)
	s.version[row]++
	s.updated[row] = nowMicros()
	return nil
}

// AttachMetadata sets a single metadata key on row.
func (s *Store) AttachMetadata(row RowIndex, key string, value metadata.Value) error {
	if err := s.checkBounds(row); err != nil {
		return err
	}
	if key == "" {
		return gverrors.New(gverrors.BadArgument, "storage: metadata key must not be empty")
	}
	if s.meta[row] == nil {
		s.meta[row] = metadata.Bag{}
	}
	s.meta[row][key] = value.DeepCopy()
	s.version[row]++
	s.updated[row] = nowMicros()
	return nil
}

// ReplaceMetadata overwrites row's entire metadata bag.
func (s *Store) ReplaceMetadata(row RowIndex, bag metadata.Bag) error {
	if err := s.checkBounds(row); err != nil {
		return err
	}
	s.meta[row] = bag.DeepCopy()
	s.version[row]++
	s.updated[row] = nowMicros()
	return nil
}

// Metadata returns a deep copy of row's metadata bag.
func (s *Store) Metadata(row RowIndex) (metadata.Bag, error) {
	if err := s.checkBounds(row); err != nil {
		return nil, err
	}
	return s.meta[row].DeepCopy(), nil
}

// SetExpireAt sets row's absolute TTL expiration (microseconds since
// epoch); 0 disables expiry.
func (s *Store) SetExpireAt(row RowIndex, expireAt int64) error {
	if err := s.checkBounds(row); err != nil {
		return err
	}
	s.expireAt[row] = expireAt
	return nil
}

// ExpireAt returns row's absolute TTL expiration, or 0 if none is set.
func (s *Store) ExpireAt(row RowIndex) (int64, error) {
	if err := s.checkBounds(row); err != nil {
		return 0, err
	}
	return s.expireAt[row], nil
}

// Timestamps returns row's creation and last-update timestamps in
// microseconds since epoch.
func (s *Store) Timestamps(row RowIndex) (created, updated int64, err error) {
	if err := s.checkBounds(row); err != nil {
		return 0, 0, err
	}
	return s.created[row], s.updated[row], nil
}

// IterLiveIndices calls fn for every non-tombstoned row, in ascending
// row-index order. Iteration stops early if fn returns false.
func (s *Store) IterLiveIndices(fn func(row RowIndex) bool) {
	for i := 0; i < s.count; i++ {
		if s.tomb[i] {
			continue
		}
		if !fn(RowIndex(i)) {
			return
		}
	}
}

// LiveCount returns the number of non-tombstoned rows.
func (s *Store) LiveCount() int {
	return s.count - s.tombstones
}
