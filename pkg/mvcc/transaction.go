package mvcc

// Transaction is a single snapshot-isolated unit of work. It must end in
// exactly one of Commit or Rollback via the owning Manager.
type Transaction struct {
	id       TxnID
	snapshot *Snapshot
	status   TransactionStatus

	// added and deleted track this transaction's own writes so Rollback
	// can undo them without rescanning every row in storage.
	added   []*TupleVersion
	deleted []*TupleVersion
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() TxnID { return t.id }

// Snapshot returns the transaction's read view.
func (t *Transaction) Snapshot() *Snapshot { return t.snapshot }

// Status returns the transaction's current lifecycle state.
func (t *Transaction) Status() TransactionStatus { return t.status }
