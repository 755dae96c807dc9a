// Package mvcc implements snapshot-isolation multi-version concurrency
// control over vector rows: transaction begin/commit/rollback, per-row
// version chains, visibility, and background garbage collection.
package mvcc

import (
	"sync"
	"time"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/gvlog"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

// Manager owns the transaction table, the per-row version chains, and
// the commit log. All methods are safe for concurrent use: Manager's
// internal mutex serializes every call, including the background GC
// goroutine's. The database façade's Txn methods call Manager without
// taking the database lock.
type Manager struct {
	mu       sync.Mutex
	config   gvconfig.MVCCConfig
	logger   gvlog.Logger
	nextTxn  TxnID
	active   map[TxnID]bool
	clog     *CommitLog
	versions map[storage.RowIndex][]*TupleVersion
	closed   bool
	gcStop   chan struct{}
	gcDone   chan struct{}
}

// NewManager returns a Manager with its background GC goroutine running.
// A nil logger is replaced with a no-op logger.
func NewManager(config gvconfig.MVCCConfig, logger gvlog.Logger) *Manager {
	if logger == nil {
		logger = gvlog.NewNoOpLogger()
	}
	m := &Manager{
		config:   config,
		logger:   logger,
		nextTxn:  TxnIDBootstrap,
		active:   make(map[TxnID]bool),
		clog:     NewCommitLog(),
		versions: make(map[storage.RowIndex][]*TupleVersion),
		gcStop:   make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

// Close stops the background GC goroutine. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.gcStop)
	<-m.gcDone
	return nil
}

// Begin starts a new transaction and returns its snapshot view.
func (m *Manager) Begin() (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, gverrors.New(gverrors.BadArgument, "mvcc: manager is closed")
	}
	if m.config.MaxActiveTxns > 0 && len(m.active) >= m.config.MaxActiveTxns {
		return nil, gverrors.Newf(gverrors.Exhausted, "mvcc: too many active transactions (limit %d)", m.config.MaxActiveTxns)
	}

	id := m.nextTxn
	m.nextTxn++

	activeCopy := make(map[TxnID]bool, len(m.active))
	for txn := range m.active {
		activeCopy[txn] = true
	}
	m.active[id] = true
	m.clog.SetStatus(id, StatusInProgress)

	txn := &Transaction{
		id:       id,
		snapshot: newSnapshot(id, activeCopy),
		status:   StatusInProgress,
	}
	return txn, nil
}

// Insert appends a new version of row under txn, owning a copy of
// vector and meta.
func (m *Manager) Insert(txn *Transaction, row storage.RowIndex, vector []float32, meta metadata.Bag) (*TupleVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.status != StatusInProgress {
		return nil, gverrors.New(gverrors.BadArgument, "mvcc: transaction is not in progress")
	}

	vecCopy := make([]float32, len(vector))
	copy(vecCopy, vector)
	v := &TupleVersion{
		Row:       row,
		Vector:    vecCopy,
		Metadata:  meta.DeepCopy(),
		CreateTxn: txn.id,
		DeleteTxn: TxnIDNone,
	}
	m.versions[row] = append(m.versions[row], v)
	txn.added = append(txn.added, v)
	return v, nil
}

// Delete finds the version of row visible to txn and stamps it deleted.
// If another still-active transaction has already stamped a delete on
// that version, this returns WriteConflict.
func (m *Manager) Delete(txn *Transaction, row storage.RowIndex) (*TupleVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.status != StatusInProgress {
		return nil, gverrors.New(gverrors.BadArgument, "mvcc: transaction is not in progress")
	}

	v := m.findVisibleLocked(row, txn)
	if v == nil {
		return nil, gverrors.Newf(gverrors.NotFound, "mvcc: row %d has no version visible to transaction %d", row, txn.id)
	}
	if v.DeleteTxn != TxnIDNone && v.DeleteTxn != txn.id && m.active[v.DeleteTxn] {
		return nil, gverrors.Newf(gverrors.WriteConflict, "mvcc: row %d concurrently deleted by transaction %d", row, v.DeleteTxn)
	}

	v.DeleteTxn = txn.id
	txn.deleted = append(txn.deleted, v)
	return v, nil
}

// GetVisible returns the version of row visible to txn's snapshot, if any.
func (m *Manager) GetVisible(txn *Transaction, row storage.RowIndex) (*TupleVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.findVisibleLocked(row, txn)
	return v, v != nil
}

// findVisibleLocked must be called with m.mu held.
func (m *Manager) findVisibleLocked(row storage.RowIndex, txn *Transaction) *TupleVersion {
	chain := m.versions[row]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].IsVisibleTo(txn.snapshot, m.clog) {
			return chain[i]
		}
	}
	return nil
}

// VisibleCount returns the number of rows with a version visible to
// txn's snapshot — the live row count as txn sees it.
func (m *Manager) VisibleCount(txn *Transaction) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for row := range m.versions {
		chain := m.versions[row]
		for i := len(chain) - 1; i >= 0; i-- {
			if chain[i].IsVisibleTo(txn.snapshot, m.clog) {
				count++
				break
			}
		}
	}
	return count
}

// Commit finalizes txn's writes, making them permanent.
func (m *Manager) Commit(txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.status != StatusInProgress {
		return gverrors.New(gverrors.BadArgument, "mvcc: transaction is not in progress")
	}
	txn.status = StatusCommitted
	m.clog.SetStatus(txn.id, StatusCommitted)
	delete(m.active, txn.id)
	return nil
}

// Rollback undoes txn's writes: inserted versions are marked deleted by
// txn itself (so no reader will ever see them visible), and any delete
// stamps txn placed are cleared.
func (m *Manager) Rollback(txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.status != StatusInProgress {
		return gverrors.New(gverrors.BadArgument, "mvcc: transaction is not in progress")
	}
	for _, v := range txn.added {
		v.DeleteTxn = txn.id
	}
	for _, v := range txn.deleted {
		if v.DeleteTxn == txn.id {
			v.DeleteTxn = TxnIDNone
		}
	}
	txn.status = StatusAborted
	m.clog.SetStatus(txn.id, StatusAborted)
	delete(m.active, txn.id)
	return nil
}

// IsTransactionActive reports whether txn is currently in progress.
func (m *Manager) IsTransactionActive(txn TxnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[txn]
}

// ActiveCount returns the number of in-progress transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// minActiveLocked returns the smallest active transaction ID, or
// m.nextTxn if no transaction is active (meaning every existing version
// is eligible for GC up to the current high-water mark).
func (m *Manager) minActiveLocked() TxnID {
	min := m.nextTxn
	for txn := range m.active {
		if txn < min {
			min = txn
		}
	}
	return min
}

// GC reclaims tuple versions whose deleter committed before any
// currently active transaction's snapshot could possibly need them, and
// prunes the commit log to match.
func (m *Manager) GC() {
	m.mu.Lock()
	defer m.mu.Unlock()

	minActive := m.minActiveLocked()
	reclaimed := 0
	for row, chain := range m.versions {
		kept := chain[:0]
		for _, v := range chain {
			if v.DeleteTxn != TxnIDNone && v.DeleteTxn < minActive && m.clog.IsCommitted(v.DeleteTxn) {
				reclaimed++
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 0 {
			delete(m.versions, row)
		} else {
			m.versions[row] = kept
		}
	}
	m.clog.GC(minActive)
	if reclaimed > 0 {
		m.logger.Debug("mvcc: gc reclaimed %d tuple versions, commit log has %d entries", reclaimed, m.clog.Size())
	}
}

func (m *Manager) gcLoop() {
	defer close(m.gcDone)

	interval := time.Duration(m.config.GCInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.GC()
		case <-m.gcStop:
			return
		}
	}
}
