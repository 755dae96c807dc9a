package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywyawhare/gigavector/pkg/metadata"
)

func TestAppendAssignsDenseZeroBasedRows(t *testing.T) {
	s := New(3)
	r0, err := s.Append([]float32{1, 2, 3})
	require.NoError(t, err)
	r1, err := s.Append([]float32{4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, RowIndex(0), r0)
	assert.Equal(t, RowIndex(1), r1)
	assert.Equal(t, 2, s.Len())
}

func TestAppendRejectsWrongDimension(t *testing.T) {
	s := New(4)
	_, err := s.Append([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestDeleteTombstonesAndRejectsDoubleDelete(t *testing.T) {
	s := New(2)
	row, _ := s.Append([]float32{1, 1})
	require.NoError(t, s.Delete(row))
	deleted, err := s.IsDeleted(row)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 1, s.TombstoneCount())
	assert.Error(t, s.Delete(row))
}

func TestUpdateBumpsVersionAndRejectsDeletedRow(t *testing.T) {
	s := New(2)
	row, _ := s.Append([]float32{1, 1})
	v0, _ := s.Version(row)
	require.NoError(t, s.Update(row, []float32{2, 2}))
	v1, _ := s.Version(row)
	assert.Greater(t, v1, v0)

	deleted, _ := s.Append([]float32{3, 3})
	require.NoError(t, s.Delete(deleted))
	assert.Error(t, s.Update(deleted, []float32{9, 9}))
}

func TestGrowIfNeededPreservesExistingRows(t *testing.T) {
	s := New(1)
	var last RowIndex
	for i := 0; i < initialCapacity*3; i++ {
		row, err := s.Append([]float32{float32(i)})
		require.NoError(t, err)
		last = row
	}
	got, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, got)
	gotLast, err := s.Get(last)
	require.NoError(t, err)
	assert.Equal(t, []float32{float32(last)}, gotLast)
}

func TestRestoreRowPreservesHistoricalState(t *testing.T) {
	s := New(2)
	meta := metadata.Bag{"k": metadata.String("v")}

	row, err := s.RestoreRow([]float32{1, 2}, true, 7, 1000, 2000, 3000, meta)
	require.NoError(t, err)

	deleted, err := s.IsDeleted(row)
	require.NoError(t, err)
	assert.True(t, deleted, "restored tombstone must be honored, not reset")

	version, err := s.Version(row)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), version)

	created, updated, err := s.Timestamps(row)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), created)
	assert.Equal(t, int64(2000), updated)

	expireAt, err := s.ExpireAt(row)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), expireAt)

	gotMeta, err := s.Metadata(row)
	require.NoError(t, err)
	assert.Equal(t, meta, gotMeta)

	assert.Equal(t, 1, s.TombstoneCount(), "restoring a tombstoned row must count toward TombstoneCount")
}

func TestRestoreRowKeepsRowIndicesDenseAcrossTombstones(t *testing.T) {
	s := New(1)
	_, err := s.RestoreRow([]float32{1}, true, 1, 0, 0, 0, nil)
	require.NoError(t, err)
	live, err := s.RestoreRow([]float32{2}, false, 1, 0, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, RowIndex(1), live)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.LiveCount())
}
