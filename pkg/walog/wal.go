// Package walog implements the write-ahead log: an append-only record
// stream replayed on open, tolerant of a torn tail left by a crash
// mid-write.
package walog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
)

// RecordKind identifies the mutation a WAL record replays.
type RecordKind uint8

const (
	KindInsertVector RecordKind = iota
	KindInsertVectorWithMetadata
	KindDelete
	KindUpdateVector
	KindUpdateMetadata
	KindCheckpoint
)

// Record is one WAL entry. Payload's encoding is kind-specific and
// opaque to this package; walog only frames, checksums, and replays it.
type Record struct {
	Kind      RecordKind
	Timestamp int64 // microseconds since epoch
	RowIndex  uint64
	Payload   []byte
}

// headerSize covers length(u32) + kind(u8) + timestamp(u64) + row_index(u64).
const headerSize = 4 + 1 + 8 + 8

// WAL is an append-only record log opened against a single file.
type WAL struct {
	file *os.File
}

// Open opens (creating if absent) the WAL file at path for appending.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, gverrors.Wrap(err, gverrors.Io, "walog: open")
	}
	return &WAL{file: f}, nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	if err := w.file.Close(); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "walog: close")
	}
	return nil
}

// Append writes rec to the end of the log. WAL append failure is fatal
// for the caller's write — this is not a best-effort operation like CDC
// persistence.
func (w *WAL) Append(rec Record) error {
	buf := make([]byte, headerSize+len(rec.Payload)+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(rec.Payload)))
	buf[4] = byte(rec.Kind)
	binary.LittleEndian.PutUint64(buf[5:13], uint64(rec.Timestamp))
	binary.LittleEndian.PutUint64(buf[13:21], rec.RowIndex)
	copy(buf[21:21+len(rec.Payload)], rec.Payload)
	crc := crc32.ChecksumIEEE(buf[4 : 21+len(rec.Payload)])
	binary.LittleEndian.PutUint32(buf[21+len(rec.Payload):], crc)

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "walog: seek to end")
	}
	if _, err := w.file.Write(buf); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "walog: append")
	}
	if err := w.file.Sync(); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "walog: sync")
	}
	return nil
}

// Reset truncates the log to empty. Called after a successful snapshot
// write, once every record in the log is reflected in the new snapshot
// and replaying them again on the next open would be redundant.
func (w *WAL) Reset() error {
	if err := w.file.Truncate(0); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "walog: truncate")
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "walog: seek to start")
	}
	return nil
}

// NewRecord is a convenience constructor stamping the current time.
func NewRecord(kind RecordKind, row uint64, payload []byte) Record {
	return Record{Kind: kind, Timestamp: time.Now().UnixMicro(), RowIndex: row, Payload: payload}
}

// Replay reads every record from the beginning of the log, calling fn
// for each one whose CRC matches. The first record with a bad CRC or a
// truncated tail ends replay without error — a torn tail from a crash
// mid-append is discarded, not treated as corruption.
func Replay(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return gverrors.Wrap(err, gverrors.Io, "walog: open for replay")
	}
	defer f.Close()

	for {
		header := make([]byte, headerSize)
		if _, err := io.ReadFull(f, header); err != nil {
			return nil // clean EOF or torn header: stop, don't fail.
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		kind := RecordKind(header[4])
		timestamp := int64(binary.LittleEndian.Uint64(header[5:13]))
		rowIndex := binary.LittleEndian.Uint64(header[13:21])

		body := make([]byte, length+4)
		if _, err := io.ReadFull(f, body); err != nil {
			return nil // torn tail: stop, don't fail.
		}
		payload := body[:length]
		storedCRC := binary.LittleEndian.Uint32(body[length:])

		check := crc32.NewIEEE()
		check.Write(header[4:])
		check.Write(payload)
		if check.Sum32() != storedCRC {
			return nil // CRC mismatch at the tail: stop, don't fail.
		}

		if err := fn(Record{Kind: kind, Timestamp: timestamp, RowIndex: rowIndex, Payload: payload}); err != nil {
			return err
		}
	}
}
