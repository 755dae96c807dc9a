package gigavector

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/snapshot"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/walog"
)

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dim int) ([]float32, error) {
	if len(buf) < dim*4 {
		return nil, gverrors.New(gverrors.Corrupted, "gigavector: short vector payload")
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

func encodeVectorWithMetadata(vec []float32, meta metadata.Bag) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(encodeVector(vec))
	if err := snapshot.WriteBag(&buf, meta); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeVectorWithMetadata(payload []byte, dim int) ([]float32, metadata.Bag, error) {
	if len(payload) < dim*4 {
		return nil, nil, gverrors.New(gverrors.Corrupted, "gigavector: short vector+metadata payload")
	}
	vec, err := decodeVector(payload[:dim*4], dim)
	if err != nil {
		return nil, nil, err
	}
	bag, err := snapshot.ReadBag(bytes.NewReader(payload[dim*4:]))
	if err != nil {
		return nil, nil, err
	}
	return vec, bag, nil
}

func encodeMetadataOp(key string, value metadata.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := snapshot.WriteBag(&buf, metadata.Bag{key: value}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMetadataOp(payload []byte) (string, metadata.Value, error) {
	bag, err := snapshot.ReadBag(bytes.NewReader(payload))
	if err != nil {
		return "", metadata.Value{}, err
	}
	for k, v := range bag {
		return k, v, nil
	}
	return "", metadata.Value{}, gverrors.New(gverrors.Corrupted, "gigavector: empty metadata payload")
}

// applyWALRecordAtOpen replays one WAL record directly into storage,
// index, and payload index during Open, bypassing WAL append (the
// record is already on disk) and CDC publish (there is no subscriber
// yet at open time).
func (db *Database) applyWALRecordAtOpen(rec walog.Record) error {
	switch rec.Kind {
	case walog.KindInsertVector:
		vec, err := decodeVector(rec.Payload, db.dim)
		if err != nil {
			return err
		}
		row, err := db.store.Append(vec)
		if err != nil {
			return err
		}
		return db.index.Insert(row, vec)

	case walog.KindInsertVectorWithMetadata:
		vec, meta, err := decodeVectorWithMetadata(rec.Payload, db.dim)
		if err != nil {
			return err
		}
		row, err := db.store.AppendWithMetadata(vec, meta)
		if err != nil {
			return err
		}
		if err := db.index.Insert(row, vec); err != nil {
			return err
		}
		for key, val := range meta {
			db.payload.Insert(key, row, val)
		}
		return nil

	case walog.KindDelete:
		row := storage.RowIndex(rec.RowIndex)
		if err := db.store.Delete(row); err != nil {
			return err
		}
		return db.index.Delete(row)

	case walog.KindUpdateVector:
		row := storage.RowIndex(rec.RowIndex)
		vec, err := decodeVector(rec.Payload, db.dim)
		if err != nil {
			return err
		}
		if err := db.store.Update(row, vec); err != nil {
			return err
		}
		return db.index.Update(row, vec)

	case walog.KindUpdateMetadata:
		row := storage.RowIndex(rec.RowIndex)
		key, value, err := decodeMetadataOp(rec.Payload)
		if err != nil {
			return err
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
		return nil

	case walog.KindCheckpoint:
		return nil

	default:
		return gverrors.Newf(gverrors.Corrupted, "gigavector: unknown wal record kind %d", rec.Kind)
	}
}
