package gigavector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywyawhare/gigavector/pkg/cdc"
	"github.com/jaywyawhare/gigavector/pkg/conditional"
	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/vindex"
)

func openFlat(t *testing.T, dim int) *Database {
	t.Helper()
	db, err := Open(Options{Dimension: dim, IndexKind: vindex.KindFlat})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAddVectorWithMetadataAndSearchFiltered(t *testing.T) {
	db := openFlat(t, 3)

	row, err := db.AddVectorWithMetadata([]float32{1, 0, 0}, metadata.Bag{"color": metadata.String("red")})
	require.NoError(t, err)

	_, err = db.AddVectorWithMetadata([]float32{0, 1, 0}, metadata.Bag{"color": metadata.String("blue")})
	require.NoError(t, err)

	results, err := db.SearchFiltered([]float32{1, 0, 0}, 5, `color == "red"`)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, row, results[0].Row)
}

func TestDeleteExcludesRowFromSearch(t *testing.T) {
	db := openFlat(t, 2)

	row, err := db.AddVector([]float32{1, 1})
	require.NoError(t, err)

	require.NoError(t, db.Delete(row))

	results, err := db.Search([]float32{1, 1}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpdateVectorBumpsVersionAndMovesResult(t *testing.T) {
	db := openFlat(t, 2)

	row, err := db.AddVector([]float32{1, 0})
	require.NoError(t, err)
	v1, err := db.GetVersion(row)
	require.NoError(t, err)

	require.NoError(t, db.UpdateVector(row, []float32{0, 1}))
	v2, err := db.GetVersion(row)
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	results, err := db.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, row, results[0].Row)
}

func TestWALReplayRebuildsDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")

	db, err := Open(Options{Dimension: 2, IndexKind: vindex.KindFlat, WALPath: path})
	require.NoError(t, err)

	row, err := db.AddVectorWithMetadata([]float32{3, 4}, metadata.Bag{"k": metadata.Int64(1)})
	require.NoError(t, err)
	require.NoError(t, db.UpdateMetadata(row, "k", metadata.Int64(2)))
	require.NoError(t, db.Close())

	reopened, err := Open(Options{Dimension: 2, IndexKind: vindex.KindFlat, WALPath: path})
	require.NoError(t, err)
	defer reopened.Close()

	stats := reopened.GetStats()
	assert.Equal(t, 1, stats.LiveRows)

	results, err := reopened.Search([]float32{3, 4}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, row, results[0].Row)
}

func TestSaveAndReopenFromSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")

	db, err := Open(Options{Dimension: 2, IndexKind: vindex.KindFlat, SnapshotPath: path})
	require.NoError(t, err)

	row, err := db.AddVector([]float32{5, 6})
	require.NoError(t, err)
	require.NoError(t, db.Save(""))
	require.NoError(t, db.Close())

	reopened, err := Open(Options{Dimension: 2, IndexKind: vindex.KindFlat, SnapshotPath: path})
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search([]float32{5, 6}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, row, results[0].Row)
}

func TestMVCCTransactionIsolation(t *testing.T) {
	db := openFlat(t, 2)
	row, err := db.AddVector([]float32{1, 1})
	require.NoError(t, err)

	txn, err := db.BeginTxn()
	require.NoError(t, err)

	require.NoError(t, txn.AddVector(row+1, []float32{2, 2}, nil))
	// The row added through db.AddVector is not an MVCC version, so only
	// the transaction's own insert is counted.
	assert.Equal(t, 1, txn.Count())

	vec, _, ok := txn.GetVector(row + 1)
	require.True(t, ok)
	assert.Equal(t, []float32{2, 2}, vec)

	require.NoError(t, txn.Commit())
}

func TestConditionalUpdateVectorRequiresMatchingVersion(t *testing.T) {
	db := openFlat(t, 2)
	row, err := db.AddVector([]float32{1, 0})
	require.NoError(t, err)

	v0, err := db.GetVersion(row)
	require.NoError(t, err)

	err = db.ConditionalUpdateVector(row, []float32{0, 1}, []conditional.Condition{
		conditional.VersionEqualsCond(v0 + 999),
	})
	require.Error(t, err)
	assert.Equal(t, gverrors.ConditionFailed, gverrors.Code(err))

	err = db.ConditionalUpdateVector(row, []float32{0, 1}, []conditional.Condition{
		conditional.VersionEqualsCond(v0),
	})
	require.NoError(t, err)
}

func TestConditionalBatchCommitsIndependently(t *testing.T) {
	db := openFlat(t, 2)
	rowA, err := db.AddVector([]float32{1, 0})
	require.NoError(t, err)
	rowB, err := db.AddVector([]float32{0, 1})
	require.NoError(t, err)

	vB, err := db.GetVersion(rowB)
	require.NoError(t, err)

	outcomes := db.ConditionalBatch([]conditional.Operation{
		{Row: rowA, Conditions: []conditional.Condition{conditional.VersionEqualsCond(9999)}, Delete: true},
		{Row: rowB, Conditions: []conditional.Condition{conditional.VersionEqualsCond(vB)}, Delete: true},
	})
	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)

	stats := db.GetStats()
	assert.Equal(t, 1, stats.LiveRows)
}

func TestChangeStreamPollReturnsPublishedEvents(t *testing.T) {
	db := openFlat(t, 2)

	row, err := db.AddVector([]float32{1, 2})
	require.NoError(t, err)

	events, next, pending := db.PollChanges(0, 10)
	require.NotEmpty(t, events)
	assert.Equal(t, row, events[0].Row)
	assert.Equal(t, cdc.EventInsert, events[0].Kind)
	assert.Equal(t, 1, pending)
	assert.Greater(t, next, uint64(0))
}

func TestDedupRejectsNearDuplicateInsert(t *testing.T) {
	db, err := Open(Options{
		Dimension:    4,
		IndexKind:    vindex.KindFlat,
		EnableDedup:  true,
		DedupEpsilon: 0.01,
	})
	require.NoError(t, err)
	defer db.Close()

	row, err := db.AddVector([]float32{1, 0, 0, 0})
	require.NoError(t, err)

	dup, err := db.AddVector([]float32{1, 0, 0, 0})
	require.Error(t, err)
	assert.Equal(t, gverrors.ConditionFailed, gverrors.Code(err))
	assert.Equal(t, row, dup)
}

func TestDimensionMismatchRejected(t *testing.T) {
	db := openFlat(t, 3)

	_, err := db.AddVector([]float32{1, 2})
	require.Error(t, err)
	assert.Equal(t, gverrors.BadArgument, gverrors.Code(err))
}

func TestOperationsAfterCloseFail(t *testing.T) {
	db := openFlat(t, 2)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.AddVector([]float32{1, 1})
	require.Error(t, err)
	assert.Equal(t, gverrors.BadArgument, gverrors.Code(err))
}
