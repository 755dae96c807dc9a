package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

func TestWriteReadRowRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	row := RowRecord{
		Vector:    []float32{1, 2, 3},
		Tombstone: true,
		Version:   5,
		CreatedAt: 100,
		UpdatedAt: 200,
		ExpireAt:  300,
		Metadata:  metadata.Bag{"k": metadata.Int64(42)},
	}

	wr, err := WriteHeader(&buf, 3, 1)
	require.NoError(t, err)
	require.NoError(t, wr.WriteRow(row))
	require.NoError(t, wr.Flush())

	h, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.Dim)
	assert.Equal(t, uint64(1), h.RowCount)

	got, err := ReadRow(&buf, h.Dim)
	require.NoError(t, err)
	assert.Equal(t, row.Vector, got.Vector)
	assert.Equal(t, row.Tombstone, got.Tombstone)
	assert.Equal(t, row.Version, got.Version)
	assert.Equal(t, row.CreatedAt, got.CreatedAt)
	assert.Equal(t, row.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, row.ExpireAt, got.ExpireAt)
	assert.Equal(t, row.Metadata, got.Metadata)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("not-a-snapshot-file-at-all")
	_, err := ReadHeader(buf)
	assert.Error(t, err)
}

func TestRowsFromStoreAndLoadIntoStoreRoundTrip(t *testing.T) {
	s := storage.New(2)
	row, err := s.AppendWithMetadata([]float32{1, 1}, metadata.Bag{"tag": metadata.String("a")})
	require.NoError(t, err)
	require.NoError(t, s.Update(row, []float32{2, 2}))
	require.NoError(t, s.SetExpireAt(row, 999))
	_, err = s.Append([]float32{3, 3})
	require.NoError(t, err)
	require.NoError(t, s.Delete(1))

	rows := RowsFromStore(s)
	require.Len(t, rows, 2)

	reloaded, err := LoadIntoStore(2, rows)
	require.NoError(t, err)
	assert.Equal(t, s.Len(), reloaded.Len())
	assert.Equal(t, s.TombstoneCount(), reloaded.TombstoneCount())

	origVersion, _ := s.Version(0)
	reloadedVersion, _ := reloaded.Version(0)
	assert.Equal(t, origVersion, reloadedVersion, "version must survive the round trip, not reset to 0")

	origExpire, _ := s.ExpireAt(0)
	reloadedExpire, _ := reloaded.ExpireAt(0)
	assert.Equal(t, origExpire, reloadedExpire)

	deleted, _ := reloaded.IsDeleted(1)
	assert.True(t, deleted, "tombstone state must survive the round trip")
}

func TestWriteBagReadBagRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bag := metadata.Bag{
		"s": metadata.String("hello"),
		"n": metadata.Float64(3.5),
		"b": metadata.Bool(true),
	}
	require.NoError(t, WriteBag(&buf, bag))
	got, err := ReadBag(&buf)
	require.NoError(t, err)
	assert.Equal(t, bag, got)
}
