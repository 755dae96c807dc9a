package gigavector

import (
	"github.com/jaywyawhare/gigavector/pkg/cdc"
	"github.com/jaywyawhare/gigavector/pkg/conditional"
	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/walog"
)

// GetVersion returns row's current version counter, for building a
// VersionEqualsCond against a previously observed value.
func (db *Database) GetVersion(row storage.RowIndex) (uint64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, errClosed()
	}
	return db.store.Version(row)
}

// ConditionalUpdateVector replaces row's vector only if every condition
// holds, driving the same WAL/index/CDC side effects as UpdateVector.
// conditional.Manager itself only touches storage, by design — the
// index, payload index, WAL, and CDC stay in sync here rather than
// inside that package, which has no concept of any of them.
func (db *Database) ConditionalUpdateVector(row storage.RowIndex, vec []float32, conditions []conditional.Condition) error {
	if len(vec) != db.dim {
		return gverrors.Newf(gverrors.BadArgument, "gigavector: expected dimension %d, got %d", db.dim, len(vec))
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}

	if err := db.condMgr.Apply(conditional.Operation{Row: row, Conditions: conditions, NewVector: vec}); err != nil {
		return err
	}
	return db.syncAfterConditionalVectorUpdate(row, vec)
}

// ConditionalUpdateMetadata sets row's metadata[key] only if every
// condition holds.
func (db *Database) ConditionalUpdateMetadata(row storage.RowIndex, key string, value metadata.Value, conditions []conditional.Condition) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}

	oldValue, hadOld, err := db.captureMetadataValue(row, key)
	if err != nil {
		return err
	}

	op := conditional.Operation{Row: row, Conditions: conditions, MetadataKey: key, MetadataValue: value, MetadataSet: true}
	if err := db.condMgr.Apply(op); err != nil {
		return err
	}
	return db.syncAfterConditionalMetadataUpdate(row, key, value, oldValue, hadOld)
}

func (db *Database) captureMetadataValue(row storage.RowIndex, key string) (metadata.Value, bool, error) {
	bag, err := db.store.Metadata(row)
	if err != nil {
		return metadata.Value{}, false, err
	}
	value, ok := bag[key]
	return value, ok, nil
}

func (db *Database) syncAfterConditionalMetadataUpdate(row storage.RowIndex, key string, value metadata.Value, oldValue metadata.Value, hadOld bool) error {
	if db.wal != nil {
		payload, err := encodeMetadataOp(key, value)
		if err != nil {
			return err
		}
		if err := db.wal.Append(walog.NewRecord(walog.KindUpdateMetadata, uint64(row), payload)); err != nil {
			return err
		}
	}
	if hadOld {
		db.payload.Update(key, row, oldValue, value)
	} else {
		db.payload.Insert(key, row, value)
	}
	db.publishCDC(cdc.EventUpdateMetadata, row, nil, metadata.Bag{key: value})
	return nil
}

// ConditionalDelete tombstones row only if every condition holds.
func (db *Database) ConditionalDelete(row storage.RowIndex, conditions []conditional.Condition) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errClosed()
	}

	if err := db.condMgr.Apply(conditional.Operation{Row: row, Conditions: conditions, Delete: true}); err != nil {
		return err
	}
	return db.syncAfterConditionalDelete(row)
}

// ConditionalBatch applies each operation as its own independent commit
// point: a failure on one row never affects any other row's outcome, per
// §8 property 8. Side effects (WAL/index/CDC) are driven only for rows
// whose condition check succeeded.
func (db *Database) ConditionalBatch(ops []conditional.Operation) []conditional.Outcome {
	db.mu.Lock()
	defer db.mu.Unlock()

	outcomes := make([]conditional.Outcome, len(ops))
	if db.closed {
		for i, op := range ops {
			outcomes[i] = conditional.Outcome{Row: op.Row, Err: errClosed()}
		}
		return outcomes
	}

	for i, op := range ops {
		var oldValue metadata.Value
		var hadOld bool
		if op.MetadataSet {
			oldValue, hadOld, _ = db.captureMetadataValue(op.Row, op.MetadataKey)
		}

		err := db.condMgr.Apply(op)
		if err == nil {
			switch {
			case op.Delete:
				err = db.syncAfterConditionalDelete(op.Row)
			case op.NewVector != nil:
				err = db.syncAfterConditionalVectorUpdate(op.Row, op.NewVector)
			case op.MetadataSet:
				err = db.syncAfterConditionalMetadataUpdate(op.Row, op.MetadataKey, op.MetadataValue, oldValue, hadOld)
			}
		}
		outcomes[i] = conditional.Outcome{Row: op.Row, Err: err}
	}
	return outcomes
}

func (db *Database) syncAfterConditionalVectorUpdate(row storage.RowIndex, vec []float32) error {
	if db.wal != nil {
		if err := db.wal.Append(walog.NewRecord(walog.KindUpdateVector, uint64(row), encodeVector(vec))); err != nil {
			return err
		}
	}
	if err := db.index.Update(row, vec); err != nil {
		return err
	}
	db.publishCDC(cdc.EventUpdateVector, row, vec, nil)
	return nil
}

func (db *Database) syncAfterConditionalDelete(row storage.RowIndex) error {
	if db.wal != nil {
		if err := db.wal.Append(walog.NewRecord(walog.KindDelete, uint64(row), nil)); err != nil {
			return err
		}
	}
	if err := db.index.Delete(row); err != nil {
		return err
	}
	db.publishCDC(cdc.EventDelete, row, nil, nil)
	return nil
}
