// Package gigavector is an embeddable vector database: SoA vector
// storage, a pluggable index family (Flat/HNSW/IVFPQ/PQ), a write-ahead
// log and binary snapshot, payload filtering, optional MVCC snapshot
// isolation, change-data-capture, and conditional (CAS) writes, composed
// behind a single RWMutex-guarded façade.
package gigavector

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jaywyawhare/gigavector/pkg/cdc"
	"github.com/jaywyawhare/gigavector/pkg/conditional"
	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/gvlog"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/mvcc"
	"github.com/jaywyawhare/gigavector/pkg/optimizer"
	"github.com/jaywyawhare/gigavector/pkg/payloadindex"
	"github.com/jaywyawhare/gigavector/pkg/snapshot"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/ttl"
	"github.com/jaywyawhare/gigavector/pkg/vectormath"
	"github.com/jaywyawhare/gigavector/pkg/vindex"
	"github.com/jaywyawhare/gigavector/pkg/walog"
)

// Options configures Open. Dimension and IndexKind are required; every
// other field defaults to the zero value GigaVector would pick on its
// own (no WAL, no snapshot path, in-process logging disabled, default
// component configuration).
type Options struct {
	Dimension int
	IndexKind vindex.Kind
	Metric    vectormath.Metric

	// SnapshotPath, if non-empty, is loaded at Open (if present) and is
	// the default target of Save when called with an empty path.
	SnapshotPath string
	// WALPath, if non-empty, is replayed at Open and appended to on
	// every subsequent mutation.
	WALPath string

	Config *gvconfig.Config
	Logger gvlog.Logger

	// EnableDedup turns on an LSH-backed near-duplicate probe consulted
	// by AddVector/AddVectorWithMetadata before insert.
	EnableDedup          bool
	DedupEpsilon         float32
	DedupTables          int
	DedupBitsPerTable    int
	DedupMaxRowsPerTable int
}

// Database is a single embedded vector collection: storage, one index,
// an optional WAL, an optional dedup probe, a payload index, a CDC
// stream, a TTL sweeper, and (optionally exercised through Txn) MVCC
// bookkeeping, all guarded by one RWMutex per §5's concurrency model.
type Database struct {
	mu sync.RWMutex

	dim       int
	indexKind vindex.Kind
	metric    vectormath.Metric
	config    *gvconfig.Config
	logger    gvlog.Logger

	store   *storage.Store
	index   vindex.Index
	payload *payloadindex.Index
	dedup   *vindex.LSH

	wal          *walog.WAL
	walPath      string
	snapshotPath string

	cdcStream *cdc.Stream
	ttlMgr    *ttl.Manager
	optimizer *optimizer.Optimizer
	mvccMgr   *mvcc.Manager
	condMgr   *conditional.Manager

	closed bool
}

// Stats summarizes a database's current size and configuration, the
// result of GetStats.
type Stats struct {
	Dimension     int
	IndexKind     vindex.Kind
	TotalRows     int
	LiveRows      int
	TombstoneRows int
}

// Open constructs a Database per opts: builds (or loads) storage and the
// selected index, replays a WAL if configured, and starts the
// background TTL sweeper and MVCC garbage collector.
func Open(opts Options) (*Database, error) {
	if opts.Dimension <= 0 {
		return nil, gverrors.Newf(gverrors.BadArgument, "gigavector: dimension must be positive, got %d", opts.Dimension)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = gvconfig.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, gverrors.Wrap(err, gverrors.BadArgument, "gigavector: invalid configuration")
	}

	logger := opts.Logger
	if logger == nil {
		logger = gvlog.NewNoOpLogger()
	}

	db := &Database{
		dim:          opts.Dimension,
		indexKind:    opts.IndexKind,
		metric:       opts.Metric,
		config:       cfg,
		logger:       logger,
		walPath:      opts.WALPath,
		snapshotPath: opts.SnapshotPath,
	}

	if opts.SnapshotPath != "" {
		store, idx, err := loadSnapshot(opts.SnapshotPath, opts.Dimension, opts.IndexKind, opts.Metric, cfg)
		if err != nil {
			return nil, err
		}
		if store != nil {
			db.store = store
			db.index = idx
		}
	}
	if db.store == nil {
		db.store = storage.New(opts.Dimension)
		idx, err := newIndex(opts.IndexKind, db.store, opts.Metric, opts.Dimension, cfg)
		if err != nil {
			return nil, err
		}
		db.index = idx
	}

	payload := newPayloadIndex()
	db.payload = payload
	rebuildPayloadIndex(db.store, payload)

	if opts.EnableDedup {
		tables, bits, maxRows := opts.DedupTables, opts.DedupBitsPerTable, opts.DedupMaxRowsPerTable
		if tables <= 0 {
			tables = 8
		}
		if bits <= 0 {
			bits = 12
		}
		db.dedup = vindex.NewLSH(opts.Dimension, tables, bits, opts.DedupEpsilon, maxRows)
		rebuildDedupIndex(db.store, db.dedup)
	}

	db.ttlMgr = ttl.New(db.store, cfg.TTL, logger)

	cdcStream, err := cdc.New(cfg.CDC, logger)
	if err != nil {
		return nil, err
	}
	db.cdcStream = cdcStream

	opt, err := optimizer.New(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	db.optimizer = opt

	db.mvccMgr = mvcc.NewManager(cfg.MVCC, logger)
	db.condMgr = conditional.New(db.store)

	if opts.WALPath != "" {
		if err := walog.Replay(opts.WALPath, db.applyWALRecordAtOpen); err != nil {
			return nil, gverrors.Wrap(err, gverrors.Io, "gigavector: replay wal")
		}
		w, err := walog.Open(opts.WALPath)
		if err != nil {
			return nil, err
		}
		db.wal = w
	}

	return db, nil
}

// newIndex constructs a fresh, empty index of kind backed by source, per
// the component configuration in cfg.
func newIndex(kind vindex.Kind, source vindex.VectorSource, metric vectormath.Metric, dim int, cfg *gvconfig.Config) (vindex.Index, error) {
	switch kind {
	case vindex.KindFlat:
		return vindex.NewFlat(source, metric, dim), nil
	case vindex.KindHNSW:
		return vindex.NewHNSW(source, metric, dim, cfg.HNSW.M, cfg.HNSW.EfConstruction, cfg.HNSW.EfSearch), nil
	case vindex.KindIVFPQ:
		return vindex.NewIVFPQ(source, metric, dim, cfg.IVFPQ.Nlist, cfg.IVFPQ.M, cfg.IVFPQ.Nbits, cfg.IVFPQ.Nprobe, cfg.IVFPQ.TrainIters)
	case vindex.KindPQ:
		return vindex.NewPQ(source, metric, dim, cfg.IVFPQ.M, cfg.IVFPQ.Nbits, cfg.IVFPQ.TrainIters)
	default:
		return nil, gverrors.Newf(gverrors.BadArgument, "gigavector: unknown index kind %d", kind)
	}
}

// loadSnapshot reads path's header, rows, and trailing index blob,
// reconstructing storage and the selected index. Returns (nil, nil, nil)
// if path does not exist, so Open falls back to a fresh database.
func loadSnapshot(path string, dim int, kind vindex.Kind, metric vectormath.Metric, cfg *gvconfig.Config) (*storage.Store, vindex.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, gverrors.Wrap(err, gverrors.Io, "gigavector: open snapshot")
	}
	defer f.Close()

	header, err := snapshot.ReadHeader(f)
	if err != nil {
		return nil, nil, err
	}
	if int(header.Dim) != dim {
		return nil, nil, gverrors.Newf(gverrors.BadArgument, "gigavector: snapshot dimension %d does not match %d", header.Dim, dim)
	}

	rows := make([]snapshot.RowRecord, header.RowCount)
	for i := range rows {
		row, err := snapshot.ReadRow(f, header.Dim)
		if err != nil {
			return nil, nil, err
		}
		rows[i] = row
	}

	store, err := snapshot.LoadIntoStore(dim, rows)
	if err != nil {
		return nil, nil, err
	}

	idx, err := newIndex(kind, store, metric, dim, cfg)
	if err != nil {
		return nil, nil, err
	}

	blob, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, gverrors.Wrap(err, gverrors.Io, "gigavector: read index blob")
	}
	if len(blob) > 0 {
		if err := idx.Load(bytes.NewReader(blob), dim); err != nil {
			return nil, nil, err
		}
	}
	// Flat's own blob carries only a row count; its live-row membership
	// is rebuilt here from the just-reloaded storage rather than from
	// the index's own Load, unlike HNSW/IVFPQ/PQ, whose Load fully
	// reconstructs their structure from the blob.
	if kind == vindex.KindFlat {
		for row := 0; row < store.Len(); row++ {
			ri := storage.RowIndex(row)
			deleted, _ := store.IsDeleted(ri)
			if deleted {
				continue
			}
			vec, err := store.Get(ri)
			if err != nil {
				return nil, nil, err
			}
			if err := idx.Insert(ri, vec); err != nil {
				return nil, nil, err
			}
		}
	}

	return store, idx, nil
}

// AddVector inserts vec with no metadata.
func (db *Database) AddVector(vec []float32) (storage.RowIndex, error) {
	return db.AddVectorWithMetadata(vec, nil)
}

// AddVectorWithMetadata inserts vec with an attached metadata bag. If
// dedup is enabled and an existing row lies within the configured
// epsilon, it returns that row's index and a ConditionFailed error
// naming it rather than inserting a new row.
func (db *Database) AddVectorWithMetadata(vec []float32, meta metadata.Bag) (storage.RowIndex, error) {
	if len(vec) != db.dim {
		return 0, gverrors.Newf(gverrors.BadArgument, "gigavector: expected dimension %d, got %d", db.dim, len(vec))
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, errClosed()
	}

	if db.dedup != nil {
		if dup, ok := db.dedup.Probe(vec, vectormath.Cosine.Func(), db.lookupLive); ok {
			return dup, gverrors.Newf(gverrors.ConditionFailed, "gigavector: duplicate of row %d", dup)
		}
	}

	row := storage.RowIndex(db.store.Len())
	if db.wal != nil {
		kind := walog.KindInsertVector
		payload := encodeVector(vec)
		if len(meta) > 0 {
			kind = walog.KindInsertVectorWithMetadata
			encoded, err := encodeVectorWithMetadata(vec, meta)
			if err != nil {
				return 0, err
			}
			payload = encoded
		}
		if err := db.wal.Append(walog.NewRecord(kind, uint64(row), payload)); err != nil {
			return 0, gverrors.Wrap(err, gverrors.Io, "gigavector: wal append")
		}
	}

	row, err := db.store.AppendWithMetadata(vec, meta)
	if err != nil {
		return 0, err
	}
	if err := db.index.Insert(row, vec); err != nil {
		return 0, err
	}
	if db.dedup != nil {
		_ = db.dedup.Insert(row, vec)
	}
	for key, val := range meta {
		db.payload.Insert(key, row, val)
	}
	if db.config.TTL.DefaultTTLSeconds > 0 {
		_ = db.ttlMgr.SetTTL(row, db.config.TTL.DefaultTTLSeconds)
	}

	db.publishCDC(cdc.EventInsert, row, vec, meta)
	return row, nil
}

func (db *Database) lookupLive(row storage.RowIndex) ([]float32, bool) {
	deleted, err := db.store.IsDeleted(row)
	if err != nil || deleted {
		return nil, false
	}
	vec, err := db.store.View(row)
	if err != nil {
		return nil, false
	}
	return vec, true
}

// Delete tombstones row: it stops appearing in search results but its
// storage slot, version, and metadata are retained.
func (db *Database) Delete(row storage.RowIndex) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}
	return db.deleteLocked(row)
}

func (db *Database) deleteLocked(row storage.RowIndex) error {
	if db.wal != nil {
		if err := db.wal.Append(walog.NewRecord(walog.KindDelete, uint64(row), nil)); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "gigavector: wal append")
		}
	}
	if err := db.store.Delete(row); err != nil {
		return err
	}
	if err := db.index.Delete(row); err != nil {
		return err
	}
	if db.dedup != nil {
		if vec, err := db.store.Get(row); err == nil {
			db.dedup.Remove(row, vec)
		}
	}
	db.publishCDC(cdc.EventDelete, row, nil, nil)
	return nil
}

// UpdateVector replaces row's embedding, bumping its version.
func (db *Database) UpdateVector(row storage.RowIndex, vec []float32) error {
	if len(vec) != db.dim {
		return gverrors.Newf(gverrors.BadArgument, "gigavector: expected dimension %d, got %d", db.dim, len(vec))
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}
	return db.updateVectorLocked(row, vec)
}

func (db *Database) updateVectorLocked(row storage.RowIndex, vec []float32) error {
	if db.wal != nil {
		if err := db.wal.Append(walog.NewRecord(walog.KindUpdateVector, uint64(row), encodeVector(vec))); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "gigavector: wal append")
		}
	}
	oldVec, _ := db.store.Get(row)
	if err := db.store.Update(row, vec); err != nil {
		return err
	}
	if err := db.index.Update(row, vec); err != nil {
		return err
	}
	if db.dedup != nil {
		if oldVec != nil {
			db.dedup.Remove(row, oldVec)
		}
		_ = db.dedup.Insert(row, vec)
	}
	db.publishCDC(cdc.EventUpdateVector, row, vec, nil)
	return nil
}

// UpdateMetadata sets a single metadata key on row, leaving its vector
// and other keys unchanged.
func (db *Database) UpdateMetadata(row storage.RowIndex, key string, value metadata.Value) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}
	return db.updateMetadataLocked(row, key, value)
}

func (db *Database) updateMetadataLocked(row storage.RowIndex, key string, value metadata.Value) error {
	if db.wal != nil {
		payload, err := encodeMetadataOp(key, value)
		if err != nil {
			return err
		}
		if err := db.wal.Append(walog.NewRecord(walog.KindUpdateMetadata, uint64(row), payload)); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "gigavector: wal append")
		}
	}
	bag, err := db.store.Metadata(row)
	if err != nil {
		return err
	}
	oldValue, hadOld := bag[key]
	if err := db.store.AttachMetadata(row, key, value); err != nil {
		return err
	}
	if hadOld {
		db.payload.Update(key, row, oldValue, value)
	} else {
		db.payload.Insert(key, row, value)
	}
	db.publishCDC(cdc.EventUpdateMetadata, row, nil, metadata.Bag{key: value})
	return nil
}

// Save writes a full snapshot of the current state to path, or to the
// database's configured snapshot path if path is empty. On success it
// resets the WAL, since every record in it is now reflected in the new
// snapshot.
func (db *Database) Save(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}

	target := path
	if target == "" {
		target = db.snapshotPath
	}
	if target == "" {
		return gverrors.New(gverrors.BadArgument, "gigavector: no snapshot path configured")
	}

	var idxBuf bytes.Buffer
	if err := db.index.Save(&idxBuf); err != nil {
		return err
	}
	rows := snapshot.RowsFromStore(db.store)

	err := snapshot.WriteAtomic(target, func(w io.Writer) error {
		wr, err := snapshot.WriteHeader(w, uint32(db.dim), uint64(len(rows)))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := wr.WriteRow(row); err != nil {
				return err
			}
		}
		if err := wr.WriteIndexBlob(idxBuf.Bytes()); err != nil {
			return err
		}
		return wr.Flush()
	})
	if err != nil {
		return err
	}

	db.snapshotPath = target
	if db.wal != nil {
		if err := db.wal.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// SetWAL opens (creating if absent) the WAL at path for all subsequent
// mutations, replacing any previously configured WAL without replaying
// it.
func (db *Database) SetWAL(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}
	if db.wal != nil {
		if err := db.wal.Close(); err != nil {
			return err
		}
	}
	w, err := walog.Open(path)
	if err != nil {
		return err
	}
	db.wal = w
	db.walPath = path
	return nil
}

// DisableWAL closes and detaches the current WAL; subsequent mutations
// are not durable until SetWAL is called again.
func (db *Database) DisableWAL() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}
	if db.wal == nil {
		return nil
	}
	err := db.wal.Close()
	db.wal = nil
	db.walPath = ""
	return err
}

// GetStats reports the database's current size.
func (db *Database) GetStats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return Stats{
		Dimension:     db.dim,
		IndexKind:     db.index.Kind(),
		TotalRows:     db.store.Len(),
		LiveRows:      db.store.LiveCount(),
		TombstoneRows: db.store.TombstoneCount(),
	}
}

// Close stops the background TTL sweeper and MVCC collector, closes the
// WAL and CDC stream, and marks the database unusable. Close is
// idempotent. Per §5, destroying a database with live transactions is a
// programmer error; Close does not itself check for this.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.wal != nil {
		record(db.wal.Close())
	}
	if db.cdcStream != nil {
		record(db.cdcStream.Close())
	}
	record(db.ttlMgr.Close())
	record(db.mvccMgr.Close())
	if db.optimizer != nil {
		db.optimizer.Close()
	}
	return firstErr
}

func (db *Database) publishCDC(kind cdc.EventKind, row storage.RowIndex, vec []float32, meta metadata.Bag) {
	if db.cdcStream == nil {
		return
	}
	ev := cdc.Event{
		Kind:      kind,
		Row:       row,
		Timestamp: time.Now().UnixMicro(),
	}
	if db.config.CDC.IncludeVectorData {
		ev.Vector = vec
	}
	if meta != nil {
		ev.Metadata = meta
	}
	if err := db.cdcStream.Publish(ev); err != nil {
		db.logger.Warn("gigavector: cdc publish failed: %v", err)
	}
}

func errClosed() error {
	return gverrors.New(gverrors.BadArgument, "gigavector: database is closed")
}
