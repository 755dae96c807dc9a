// Package snapshot implements the binary database image: a full-state
// dump of storage plus an index-specific trailing blob, written
// atomically via temp-file-then-rename so a crash mid-write never
// corrupts the previous snapshot.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

var magic = [8]byte{'G', 'I', 'G', 'A', 'V', 'E', 'C', '1'}

const formatVersion uint32 = 1

// RowRecord is one row's on-disk representation.
type RowRecord struct {
	Vector    []float32
	Tombstone bool
	Version   uint64
	CreatedAt int64
	UpdatedAt int64
	ExpireAt  int64 // 0 means no TTL
	Metadata  metadata.Bag
}

// Writer builds a snapshot file incrementally: header, then each row in
// order, then a caller-supplied index blob.
type Writer struct {
	w   *bufio.Writer
	dim uint32
}

// WriteHeader writes the magic, version, dimension, and row count.
// rowCount must be known up front since the format has no trailer
// length field.
func WriteHeader(w io.Writer, dim uint32, rowCount uint64) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return nil, gverrors.Wrap(err, gverrors.Io, "snapshot: write magic")
	}
	if err := binary.Write(bw, binary.LittleEndian, formatVersion); err != nil {
		return nil, gverrors.Wrap(err, gverrors.Io, "snapshot: write version")
	}
	if err := binary.Write(bw, binary.LittleEndian, dim); err != nil {
		return nil, gverrors.Wrap(err, gverrors.Io, "snapshot: write dimension")
	}
	if err := binary.Write(bw, binary.LittleEndian, rowCount); err != nil {
		return nil, gverrors.Wrap(err, gverrors.Io, "snapshot: write row count")
	}
	return &Writer{w: bw, dim: dim}, nil
}

// WriteRow appends one row's record.
func (wr *Writer) WriteRow(row RowRecord) error {
	for _, f := range row.Vector {
		if err := binary.Write(wr.w, binary.LittleEndian, f); err != nil {
			return gverrors.Wrap(err, gverrors.Io, "snapshot: write vector")
		}
	}
	tomb := byte(0)
	if row.Tombstone {
		tomb = 1
	}
	if err := wr.w.WriteByte(tomb); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write tombstone")
	}
	if err := binary.Write(wr.w, binary.LittleEndian, row.Version); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write version")
	}
	if err := binary.Write(wr.w, binary.LittleEndian, uint64(row.CreatedAt)); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write created_at")
	}
	if err := binary.Write(wr.w, binary.LittleEndian, uint64(row.UpdatedAt)); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write updated_at")
	}
	if err := binary.Write(wr.w, binary.LittleEndian, uint64(row.ExpireAt)); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write expire_at")
	}
	if err := binary.Write(wr.w, binary.LittleEndian, uint32(len(row.Metadata))); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write metadata count")
	}
	for key, val := range row.Metadata {
		if err := writeString(wr.w, key); err != nil {
			return err
		}
		if err := writeValue(wr.w, val); err != nil {
			return err
		}
	}
	return nil
}

// WriteIndexBlob copies an already-serialized index blob verbatim.
func (wr *Writer) WriteIndexBlob(blob []byte) error {
	if _, err := wr.w.Write(blob); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write index blob")
	}
	return nil
}

// Flush flushes the buffered writer.
func (wr *Writer) Flush() error {
	if err := wr.w.Flush(); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: flush")
	}
	return nil
}

// WriteBag writes a metadata bag using the same key_len|key|typed_value
// encoding as a row's metadata entries, for reuse by other packages (CDC
// event persistence) that need the identical typed-value wire format.
func WriteBag(w io.Writer, bag metadata.Bag) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(bag))); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write bag count")
	}
	for key, val := range bag {
		if err := writeString(w, key); err != nil {
			return err
		}
		if err := writeValue(w, val); err != nil {
			return err
		}
	}
	return nil
}

// ReadBag reads a bag written by WriteBag.
func ReadBag(r io.Reader) (metadata.Bag, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, gverrors.Wrap(err, gverrors.Io, "snapshot: read bag count")
	}
	bag := make(metadata.Bag, count)
	for i := uint32(0); i < count; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		val, err := readValue(r)
		if err != nil {
			return nil, err
		}
		bag[key] = val
	}
	return bag, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write string length")
	}
	if _, err := io.WriteString(w, s); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write string bytes")
	}
	return nil
}

const (
	tagNull uint8 = iota
	tagInt64
	tagFloat64
	tagBool
	tagString
	tagArray
	tagObject
)

func writeValue(w io.Writer, v metadata.Value) error {
	switch v.Kind {
	case metadata.KindNull:
		_, err := w.Write([]byte{tagNull})
		return wrapIOErr(err)
	case metadata.KindInt64:
		if _, err := w.Write([]byte{tagInt64}); err != nil {
			return wrapIOErr(err)
		}
		return wrapIOErr(binary.Write(w, binary.LittleEndian, v.Int))
	case metadata.KindFloat64:
		if _, err := w.Write([]byte{tagFloat64}); err != nil {
			return wrapIOErr(err)
		}
		return wrapIOErr(binary.Write(w, binary.LittleEndian, v.Float))
	case metadata.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		_, err := w.Write([]byte{tagBool, b})
		return wrapIOErr(err)
	case metadata.KindString:
		if _, err := w.Write([]byte{tagString}); err != nil {
			return wrapIOErr(err)
		}
		return writeString(w, v.Str)
	case metadata.KindArray:
		if _, err := w.Write([]byte{tagArray}); err != nil {
			return wrapIOErr(err)
		}
		elemTag := tagNull
		if len(v.Array) > 0 {
			elemTag = tagFor(v.Array[0].Kind)
		}
		if _, err := w.Write([]byte{byte(elemTag)}); err != nil {
			return wrapIOErr(err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(v.Array))); err != nil {
			return wrapIOErr(err)
		}
		for _, e := range v.Array {
			if err := writeValue(w, e); err != nil {
				return err
			}
		}
		return nil
	case metadata.KindObject:
		if _, err := w.Write([]byte{tagObject}); err != nil {
			return wrapIOErr(err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(v.Object))); err != nil {
			return wrapIOErr(err)
		}
		for k, e := range v.Object {
			if err := writeString(w, k); err != nil {
				return err
			}
			if err := writeValue(w, e); err != nil {
				return err
			}
		}
		return nil
	default:
		return gverrors.Newf(gverrors.BadArgument, "snapshot: unknown value kind %d", v.Kind)
	}
}

func tagFor(k metadata.Kind) uint8 {
	switch k {
	case metadata.KindInt64:
		return tagInt64
	case metadata.KindFloat64:
		return tagFloat64
	case metadata.KindBool:
		return tagBool
	case metadata.KindString:
		return tagString
	case metadata.KindArray:
		return tagArray
	case metadata.KindObject:
		return tagObject
	default:
		return tagNull
	}
}

func wrapIOErr(err error) error {
	if err == nil {
		return nil
	}
	return gverrors.Wrap(err, gverrors.Io, "snapshot: write")
}

// Header describes a loaded snapshot's shape.
type Header struct {
	Version  uint32
	Dim      uint32
	RowCount uint64
}

// ReadHeader reads and validates the magic and version, returning the
// declared dimension and row count.
func ReadHeader(r io.Reader) (Header, error) {
	var gotMagic [8]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return Header{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read magic")
	}
	if gotMagic != magic {
		return Header{}, gverrors.New(gverrors.Corrupted, "snapshot: bad magic")
	}
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return Header{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read version")
	}
	if h.Version != formatVersion {
		return Header{}, gverrors.Newf(gverrors.Corrupted, "snapshot: unsupported version %d", h.Version)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Dim); err != nil {
		return Header{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read dimension")
	}
	if err := binary.Read(r, binary.LittleEndian, &h.RowCount); err != nil {
		return Header{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read row count")
	}
	return h, nil
}

// ReadRow reads one row record for a store of the given dimension.
func ReadRow(r io.Reader, dim uint32) (RowRecord, error) {
	var row RowRecord
	row.Vector = make([]float32, dim)
	for i := range row.Vector {
		if err := binary.Read(r, binary.LittleEndian, &row.Vector[i]); err != nil {
			return row, gverrors.Wrap(err, gverrors.Io, "snapshot: read vector")
		}
	}
	var tomb [1]byte
	if _, err := io.ReadFull(r, tomb[:]); err != nil {
		return row, gverrors.Wrap(err, gverrors.Io, "snapshot: read tombstone")
	}
	row.Tombstone = tomb[0] != 0
	if err := binary.Read(r, binary.LittleEndian, &row.Version); err != nil {
		return row, gverrors.Wrap(err, gverrors.Io, "snapshot: read version")
	}
	var created, updated uint64
	if err := binary.Read(r, binary.LittleEndian, &created); err != nil {
		return row, gverrors.Wrap(err, gverrors.Io, "snapshot: read created_at")
	}
	if err := binary.Read(r, binary.LittleEndian, &updated); err != nil {
		return row, gverrors.Wrap(err, gverrors.Io, "snapshot: read updated_at")
	}
	row.CreatedAt, row.UpdatedAt = int64(created), int64(updated)

	var expireAt uint64
	if err := binary.Read(r, binary.LittleEndian, &expireAt); err != nil {
		return row, gverrors.Wrap(err, gverrors.Io, "snapshot: read expire_at")
	}
	row.ExpireAt = int64(expireAt)

	var metaCount uint32
	if err := binary.Read(r, binary.LittleEndian, &metaCount); err != nil {
		return row, gverrors.Wrap(err, gverrors.Io, "snapshot: read metadata count")
	}
	row.Metadata = make(metadata.Bag, metaCount)
	for i := uint32(0); i < metaCount; i++ {
		key, err := readString(r)
		if err != nil {
			return row, err
		}
		val, err := readValue(r)
		if err != nil {
			return row, err
		}
		row.Metadata[key] = val
	}
	return row, nil
}

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", gverrors.Wrap(err, gverrors.Io, "snapshot: read string length")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", gverrors.Wrap(err, gverrors.Io, "snapshot: read string bytes")
	}
	return string(buf), nil
}

func readValue(r io.Reader) (metadata.Value, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return metadata.Value{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read value tag")
	}
	switch tag[0] {
	case tagNull:
		return metadata.Null(), nil
	case tagInt64:
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return metadata.Value{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read int64")
		}
		return metadata.Int64(v), nil
	case tagFloat64:
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return metadata.Value{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read float64")
		}
		return metadata.Float64(v), nil
	case tagBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return metadata.Value{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read bool")
		}
		return metadata.Bool(b[0] != 0), nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return metadata.Value{}, err
		}
		return metadata.String(s), nil
	case tagArray:
		var elemTag [1]byte
		if _, err := io.ReadFull(r, elemTag[:]); err != nil {
			return metadata.Value{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read array element tag")
		}
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return metadata.Value{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read array count")
		}
		items := make([]metadata.Value, count)
		for i := range items {
			v, err := readValue(r)
			if err != nil {
				return metadata.Value{}, err
			}
			items[i] = v
		}
		return metadata.Array(items), nil
	case tagObject:
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return metadata.Value{}, gverrors.Wrap(err, gverrors.Io, "snapshot: read object count")
		}
		obj := make(map[string]metadata.Value, count)
		for i := uint32(0); i < count; i++ {
			key, err := readString(r)
			if err != nil {
				return metadata.Value{}, err
			}
			v, err := readValue(r)
			if err != nil {
				return metadata.Value{}, err
			}
			obj[key] = v
		}
		return metadata.Object(obj), nil
	default:
		return metadata.Value{}, gverrors.Newf(gverrors.Corrupted, "snapshot: unknown value tag %d", tag[0])
	}
}

// WriteAtomic writes the snapshot produced by writeFn to a temp file in
// path's directory, then renames it over path. On any failure the
// previous snapshot at path is left untouched.
func WriteAtomic(path string, writeFn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if err := writeFn(tmp); err != nil {
		tmp.Close()
		return gverrors.Wrap(err, gverrors.Io, "snapshot: write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return gverrors.Wrap(err, gverrors.Io, "snapshot: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "snapshot: rename into place")
	}
	return nil
}

// RowsFromStore materializes every row (including tombstoned ones, to
// preserve row-index density on reload) from s as RowRecords.
func RowsFromStore(s *storage.Store) []RowRecord {
	rows := make([]RowRecord, s.Len())
	for i := 0; i < s.Len(); i++ {
		row := storage.RowIndex(i)
		vec, _ := s.Get(row)
		tomb, _ := s.IsDeleted(row)
		version, _ := s.Version(row)
		created, updated, _ := s.Timestamps(row)
		expireAt, _ := s.ExpireAt(row)
		meta, _ := s.Metadata(row)
		rows[i] = RowRecord{
			Vector:    vec,
			Tombstone: tomb,
			Version:   version,
			CreatedAt: created,
			UpdatedAt: updated,
			ExpireAt:  expireAt,
			Metadata:  meta,
		}
	}
	return rows
}

// LoadIntoStore reconstructs a Store from rows, restoring each row's
// exact version, tombstone, timestamp, and TTL state rather than
// treating the load as a fresh sequence of inserts.
func LoadIntoStore(dim int, rows []RowRecord) (*storage.Store, error) {
	s := storage.New(dim)
	for _, row := range rows {
		if _, err := s.RestoreRow(row.Vector, row.Tombstone, row.Version, row.CreatedAt, row.UpdatedAt, row.ExpireAt, row.Metadata); err != nil {
			return nil, err
		}
	}
	return s, nil
}
