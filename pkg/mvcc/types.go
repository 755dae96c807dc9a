package mvcc

import (
	"fmt"

	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

// TxnID identifies a transaction. IDs are assigned sequentially starting
// at 1; 0 means "no transaction" (used as TupleVersion.DeleteTxn's live
// sentinel).
type TxnID uint64

const (
	// TxnIDNone marks a field that names no transaction (a live row's
	// DeleteTxn, for instance).
	TxnIDNone TxnID = 0
	// TxnIDBootstrap is the first transaction ID ever issued.
	TxnIDBootstrap TxnID = 1
)

// TransactionStatus is a transaction's lifecycle state.
type TransactionStatus int

const (
	StatusInProgress TransactionStatus = iota
	StatusCommitted
	StatusAborted
)

func (s TransactionStatus) String() string {
	switch s {
	case StatusInProgress:
		return "InProgress"
	case StatusCommitted:
		return "Committed"
	case StatusAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Snapshot is the view a transaction reads through: every transaction ID
// below reader is either visible (if committed) or not (if active or
// aborted); every transaction ID above reader (other than reader itself)
// had not yet begun and is never visible.
type Snapshot struct {
	reader TxnID
	active map[TxnID]bool // transactions active (in progress) at Begin time, excluding reader
}

func newSnapshot(reader TxnID, active map[TxnID]bool) *Snapshot {
	return &Snapshot{reader: reader, active: active}
}

// Reader returns the transaction ID this snapshot belongs to.
func (s *Snapshot) Reader() TxnID { return s.reader }

// IsActive reports whether txn was still in progress when this snapshot
// was taken.
func (s *Snapshot) IsActive(txn TxnID) bool {
	return s.active[txn]
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("Snapshot{reader=%d, active=%d txns}", s.reader, len(s.active))
}

// TupleVersion is one row version: the vector and metadata as they stood
// between CreateTxn and DeleteTxn. DeleteTxn of TxnIDNone means the
// version is still live as far as the manager is concerned (visibility
// to any particular reader is still governed by IsVisibleTo).
type TupleVersion struct {
	Row       storage.RowIndex
	Vector    []float32
	Metadata  metadata.Bag
	CreateTxn TxnID
	DeleteTxn TxnID
}

// IsVisibleTo reports whether v should be visible to a transaction
// holding snap, per the rule in §4.7: own writes are visible to the
// writer; a version created by a transaction still active at snapshot
// time is invisible; a version deleted by a transaction still active at
// snapshot time is treated as still alive; a version deleted by a
// transaction that had committed at or before snapshot time is invisible.
// clog additionally lets an aborted creator/deleter be treated as if its
// write never happened, which a pure active-set check cannot detect.
func (v *TupleVersion) IsVisibleTo(snap *Snapshot, clog *CommitLog) bool {
	if v.CreateTxn != snap.reader {
		if snap.IsActive(v.CreateTxn) {
			return false
		}
		if v.CreateTxn > snap.reader {
			return false // creator began after this reader's snapshot was taken
		}
		if clog.IsAborted(v.CreateTxn) {
			return false
		}
	}

	if v.DeleteTxn == TxnIDNone {
		return true
	}
	if v.DeleteTxn == snap.reader {
		// The reader deleted this version itself; it no longer sees it.
		return false
	}
	if snap.IsActive(v.DeleteTxn) {
		return true // deleter hasn't committed yet
	}
	if v.DeleteTxn > snap.reader {
		return true // deleted by a transaction that began after this snapshot
	}
	if clog.IsAborted(v.DeleteTxn) {
		return true // deleter rolled back
	}
	return false // deleted by a transaction committed at or before this snapshot
}
