package gigavector

import (
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/mvcc"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

// Txn is a snapshot-isolated view over a Database's MVCC version chains.
// It does not itself drive the index, payload index, WAL, or CDC: per
// §4.7, MVCC is a parallel bookkeeping layer over row versions, visible
// only to callers that opt into it through BeginTxn.
type Txn struct {
	db  *Database
	txn *mvcc.Transaction
}

// BeginTxn starts a new MVCC transaction, its snapshot fixed at the set
// of transactions already committed at this instant.
func (db *Database) BeginTxn() (*Txn, error) {
	t, err := db.mvccMgr.Begin()
	if err != nil {
		return nil, err
	}
	return &Txn{db: db, txn: t}, nil
}

// AddVector records an insert of vec (with optional metadata) visible
// only to txn until it commits.
func (t *Txn) AddVector(row storage.RowIndex, vec []float32, meta metadata.Bag) error {
	_, err := t.db.mvccMgr.Insert(t.txn, row, vec, meta)
	return err
}

// DeleteVector records a delete of row visible only to txn until it
// commits. Two concurrent transactions deleting the same row observe
// exactly one WriteConflict between them.
func (t *Txn) DeleteVector(row storage.RowIndex) error {
	_, err := t.db.mvccMgr.Delete(t.txn, row)
	return err
}

// GetVector returns the vector and metadata of the version of row
// visible to txn's snapshot, or ok=false if no such version exists.
func (t *Txn) GetVector(row storage.RowIndex) (vec []float32, meta metadata.Bag, ok bool) {
	tv, ok := t.db.mvccMgr.GetVisible(t.txn, row)
	if !ok {
		return nil, nil, false
	}
	return tv.Vector, tv.Metadata, true
}

// Count returns the number of rows visible to txn's snapshot.
func (t *Txn) Count() int {
	return t.db.mvccMgr.VisibleCount(t.txn)
}

// Commit finalizes txn, making its writes visible to transactions
// beginning afterward.
func (t *Txn) Commit() error {
	return t.db.mvccMgr.Commit(t.txn)
}

// Rollback discards txn's writes.
func (t *Txn) Rollback() error {
	return t.db.mvccMgr.Rollback(t.txn)
}

// GC reclaims committed-delete versions no longer visible to any active
// transaction. The database also runs this periodically in the
// background; exposed here for callers that want to force a collection.
func (db *Database) GC() {
	db.mvccMgr.GC()
}
