package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := gvconfig.DefaultConfig().MVCC
	m := NewManager(cfg, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManagerBeginAssignsIncreasingIDs(t *testing.T) {
	m := testManager(t)
	t1, err := m.Begin()
	require.NoError(t, err)
	t2, err := m.Begin()
	require.NoError(t, err)
	assert.Less(t, t1.ID(), t2.ID())
	assert.Equal(t, 2, m.ActiveCount())
}

func TestManagerBeginMaxActiveTxns(t *testing.T) {
	cfg := gvconfig.MVCCConfig{MaxActiveTxns: 1, GCInterval: 60}
	m := NewManager(cfg, nil)
	defer m.Close()

	_, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Begin()
	require.Error(t, err)
	assert.True(t, gverrors.Is(err, gverrors.Exhausted))
}

func TestManagerInsertVisibleToOwnTransactionOnly(t *testing.T) {
	m := testManager(t)
	writer, err := m.Begin()
	require.NoError(t, err)
	reader, err := m.Begin()
	require.NoError(t, err)

	v, err := m.Insert(writer, 0, []float32{1, 2, 3}, metadata.Bag{"k": metadata.Int64(1)})
	require.NoError(t, err)
	assert.Equal(t, writer.ID(), v.CreateTxn)

	_, visible := m.GetVisible(reader, 0)
	assert.False(t, visible, "an uncommitted insert must stay invisible to a concurrent reader")

	require.NoError(t, m.Commit(writer))

	_, stillVisible := m.GetVisible(reader, 0)
	assert.False(t, stillVisible, "reader's snapshot was taken before the writer committed")

	late, err := m.Begin()
	require.NoError(t, err)
	got, visible := m.GetVisible(late, 0)
	assert.True(t, visible)
	assert.Equal(t, []float32{1, 2, 3}, got.Vector)
}

func TestManagerDeleteConflict(t *testing.T) {
	m := testManager(t)
	writer, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Insert(writer, 0, []float32{1}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Commit(writer))

	txnA, err := m.Begin()
	require.NoError(t, err)
	txnB, err := m.Begin()
	require.NoError(t, err)

	_, err = m.Delete(txnA, 0)
	require.NoError(t, err)

	_, err = m.Delete(txnB, 0)
	require.Error(t, err, "a second active transaction deleting the same visible version must conflict")
}

func TestManagerRollbackUndoesInsertAndDelete(t *testing.T) {
	m := testManager(t)
	writer, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Insert(writer, 0, []float32{1}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Rollback(writer))

	afterRollback, err := m.Begin()
	require.NoError(t, err)
	_, visible := m.GetVisible(afterRollback, 0)
	assert.False(t, visible, "a rolled-back insert must never become visible")
	require.NoError(t, m.Commit(afterRollback))

	seed, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Insert(seed, 1, []float32{2}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Commit(seed))

	deleter, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Delete(deleter, 1)
	require.NoError(t, err)
	require.NoError(t, m.Rollback(deleter))

	reader, err := m.Begin()
	require.NoError(t, err)
	_, visible = m.GetVisible(reader, 1)
	assert.True(t, visible, "a rolled-back delete must leave the row visible again")
}

func TestManagerVisibleCountMatchesSnapshotScenario(t *testing.T) {
	m := testManager(t)

	writer, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Insert(writer, 0, []float32{1, 1, 1, 1}, nil)
	require.NoError(t, err)

	reader, err := m.Begin()
	require.NoError(t, err)
	assert.Equal(t, 0, m.VisibleCount(reader))

	require.NoError(t, m.Commit(writer))
	assert.Equal(t, 0, m.VisibleCount(reader), "reader's snapshot predates the commit")

	late, err := m.Begin()
	require.NoError(t, err)
	assert.Equal(t, 1, m.VisibleCount(late))
}

func TestManagerGCReclaimsCommittedDeletes(t *testing.T) {
	m := testManager(t)
	writer, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Insert(writer, 0, []float32{1}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Commit(writer))

	deleter, err := m.Begin()
	require.NoError(t, err)
	_, err = m.Delete(deleter, 0)
	require.NoError(t, err)
	require.NoError(t, m.Commit(deleter))

	assert.Len(t, m.versions[0], 1)
	m.GC()
	assert.NotContains(t, m.versions, storage.RowIndex(0))
}
