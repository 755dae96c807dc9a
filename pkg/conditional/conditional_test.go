package conditional

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

func newTestManager(t *testing.T) (*Manager, storage.RowIndex) {
	t.Helper()
	store := storage.New(2)
	row, err := store.AppendWithMetadata([]float32{1, 2}, metadata.Bag{"status": metadata.String("pending")})
	require.NoError(t, err)
	return New(store), row
}

func TestApplyVersionEqualsSucceeds(t *testing.T) {
	m, row := newTestManager(t)
	err := m.Apply(Operation{
		Row:        row,
		Conditions: []Condition{VersionEqualsCond(0)},
		NewVector:  []float32{9, 9},
	})
	require.NoError(t, err)
	v, _ := m.store.Get(row)
	assert.Equal(t, []float32{9, 9}, v)
}

func TestApplyVersionEqualsFailsAfterConcurrentUpdate(t *testing.T) {
	m, row := newTestManager(t)
	require.NoError(t, m.store.Update(row, []float32{2, 2}))

	err := m.Apply(Operation{
		Row:        row,
		Conditions: []Condition{VersionEqualsCond(0)},
		NewVector:  []float32{9, 9},
	})
	require.Error(t, err)
	assert.True(t, gverrors.Is(err, gverrors.ConditionFailed))
}

func TestApplyMetadataKeyEquals(t *testing.T) {
	m, row := newTestManager(t)
	err := m.Apply(Operation{
		Row:           row,
		Conditions:    []Condition{MetadataKeyEqualsCond("status", metadata.String("pending"))},
		MetadataSet:   true,
		MetadataKey:   "status",
		MetadataValue: metadata.String("done"),
	})
	require.NoError(t, err)

	bag, err := m.store.Metadata(row)
	require.NoError(t, err)
	assert.Equal(t, "done", bag["status"].Str)
}

func TestApplyRowNotDeleted(t *testing.T) {
	m, row := newTestManager(t)
	require.NoError(t, m.store.Delete(row))

	err := m.Apply(Operation{Row: row, Conditions: []Condition{RowNotDeletedCond()}, Delete: true})
	require.Error(t, err)
	assert.True(t, gverrors.Is(err, gverrors.ConditionFailed))
}

func TestApplyBatchIsIndependentPerRow(t *testing.T) {
	store := storage.New(1)
	rowA, _ := store.Append([]float32{1})
	rowB, _ := store.Append([]float32{2})
	m := New(store)

	outcomes := m.ApplyBatch([]Operation{
		{Row: rowA, Conditions: []Condition{VersionEqualsCond(5)}, NewVector: []float32{10}},
		{Row: rowB, Conditions: []Condition{VersionEqualsCond(0)}, NewVector: []float32{20}},
	})

	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err, "row A's stale version condition should fail")
	assert.NoError(t, outcomes[1].Err, "row B's operation should still commit independently")

	got, _ := store.Get(rowB)
	assert.Equal(t, []float32{20}, got)
}

func TestMigrateEmbeddingIsVersionEqualsOnly(t *testing.T) {
	m, row := newTestManager(t)
	require.NoError(t, m.MigrateEmbedding(row, []float32{3, 4}, 0))

	err := m.MigrateEmbedding(row, []float32{5, 6}, 0)
	require.Error(t, err)
	assert.True(t, gverrors.Is(err, gverrors.ConditionFailed))
}

func TestApplyUnknownRowReturnsNotFound(t *testing.T) {
	store := storage.New(1)
	m := New(store)
	err := m.Apply(Operation{Row: 42, NewVector: []float32{1}})
	require.Error(t, err)
	assert.True(t, gverrors.Is(err, gverrors.NotFound))
}
