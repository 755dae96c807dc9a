package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionStatusString(t *testing.T) {
	assert.Equal(t, "InProgress", StatusInProgress.String())
	assert.Equal(t, "Committed", StatusCommitted.String())
	assert.Equal(t, "Aborted", StatusAborted.String())
}

func TestSnapshotIsActive(t *testing.T) {
	snap := newSnapshot(5, map[TxnID]bool{2: true, 3: true})
	assert.True(t, snap.IsActive(2))
	assert.False(t, snap.IsActive(4))
	assert.Equal(t, TxnID(5), snap.Reader())
}

func TestTupleVersionIsVisibleTo_OwnWrite(t *testing.T) {
	clog := NewCommitLog()
	v := &TupleVersion{CreateTxn: 5, DeleteTxn: TxnIDNone}
	snap := newSnapshot(5, nil)
	assert.True(t, v.IsVisibleTo(snap, clog))
}

func TestTupleVersionIsVisibleTo_CreatorStillActive(t *testing.T) {
	clog := NewCommitLog()
	v := &TupleVersion{CreateTxn: 3, DeleteTxn: TxnIDNone}
	snap := newSnapshot(5, map[TxnID]bool{3: true})
	assert.False(t, v.IsVisibleTo(snap, clog))
}

func TestTupleVersionIsVisibleTo_CreatorCommittedBefore(t *testing.T) {
	clog := NewCommitLog()
	clog.SetStatus(3, StatusCommitted)
	v := &TupleVersion{CreateTxn: 3, DeleteTxn: TxnIDNone}
	snap := newSnapshot(5, nil)
	assert.True(t, v.IsVisibleTo(snap, clog))
}

func TestTupleVersionIsVisibleTo_CreatorBeganAfterSnapshot(t *testing.T) {
	clog := NewCommitLog()
	clog.SetStatus(9, StatusCommitted)
	v := &TupleVersion{CreateTxn: 9, DeleteTxn: TxnIDNone}
	snap := newSnapshot(5, nil)
	assert.False(t, v.IsVisibleTo(snap, clog))
}

func TestTupleVersionIsVisibleTo_DeleterStillActive(t *testing.T) {
	clog := NewCommitLog()
	clog.SetStatus(3, StatusCommitted)
	v := &TupleVersion{CreateTxn: 3, DeleteTxn: 4}
	snap := newSnapshot(5, map[TxnID]bool{4: true})
	assert.True(t, v.IsVisibleTo(snap, clog), "deleter hasn't committed yet, row still appears live")
}

func TestTupleVersionIsVisibleTo_DeleterCommittedBefore(t *testing.T) {
	clog := NewCommitLog()
	clog.SetStatus(3, StatusCommitted)
	clog.SetStatus(4, StatusCommitted)
	v := &TupleVersion{CreateTxn: 3, DeleteTxn: 4}
	snap := newSnapshot(5, nil)
	assert.False(t, v.IsVisibleTo(snap, clog))
}

func TestTupleVersionIsVisibleTo_DeleterAborted(t *testing.T) {
	clog := NewCommitLog()
	clog.SetStatus(3, StatusCommitted)
	clog.SetStatus(4, StatusAborted)
	v := &TupleVersion{CreateTxn: 3, DeleteTxn: 4}
	snap := newSnapshot(5, nil)
	assert.True(t, v.IsVisibleTo(snap, clog))
}

func TestTupleVersionIsVisibleTo_OwnPendingDeleteHidesRow(t *testing.T) {
	clog := NewCommitLog()
	v := &TupleVersion{CreateTxn: 1, DeleteTxn: 5}
	snap := newSnapshot(5, nil)
	assert.False(t, v.IsVisibleTo(snap, clog))
}
