package cdc

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/gvlog"
	"github.com/jaywyawhare/gigavector/pkg/snapshot"
)

type subscriber struct {
	id       uuid.UUID
	mask     EventMask
	callback func(Event)
}

// Stream is a fixed-size circular buffer of events plus a subscriber
// list and an optional durable log. All public methods are safe for
// concurrent use.
type Stream struct {
	mu sync.Mutex

	config gvconfig.CDCConfig
	logger gvlog.Logger

	buffer     []Event
	head       int // next slot to write
	size       int // number of live slots
	nextSeq    uint64
	oldestLive uint64 // sequence number of the oldest event still in the buffer

	subscribers map[uuid.UUID]*subscriber

	logFile *os.File
	logSize int64
}

// New returns a Stream configured per cfg. If cfg.PersistToFile is set,
// the log file at cfg.LogPath is opened (created if absent) for append.
func New(cfg gvconfig.CDCConfig, logger gvlog.Logger) (*Stream, error) {
	if logger == nil {
		logger = gvlog.NewNoOpLogger()
	}
	if cfg.RingBufferSize <= 0 {
		return nil, gverrors.New(gverrors.BadArgument, "cdc: ring buffer size must be positive")
	}

	s := &Stream{
		config:      cfg,
		logger:      logger,
		buffer:      make([]Event, cfg.RingBufferSize),
		nextSeq:     1,
		oldestLive:  1,
		subscribers: make(map[uuid.UUID]*subscriber),
	}

	if cfg.PersistToFile {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return nil, gverrors.Wrap(err, gverrors.Io, "cdc: open log file")
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, gverrors.Wrap(err, gverrors.Io, "cdc: stat log file")
		}
		s.logFile = f
		s.logSize = info.Size()
	}

	return s, nil
}

// Close closes the durable log file, if one is open.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return nil
	}
	if err := s.logFile.Close(); err != nil {
		return gverrors.Wrap(err, gverrors.Io, "cdc: close log file")
	}
	return nil
}

// Publish records ev, assigning it the next sequence number, then fans
// it out to matching subscribers. Callbacks run after the internal lock
// is released, so a subscriber callback may safely call back into the
// stream (Subscribe, Unsubscribe, Poll) without deadlocking.
func (s *Stream) Publish(ev Event) error {
	s.mu.Lock()

	ev = ev.deepCopy()
	ev.Sequence = s.nextSeq
	s.nextSeq++
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMicro()
	}

	slot := s.head
	s.head = (s.head + 1) % len(s.buffer)
	if s.size < len(s.buffer) {
		s.size++
	} else {
		s.oldestLive++ // the slot being overwritten held oldestLive
	}
	s.buffer[slot] = ev

	if s.logFile != nil && (s.config.MaxLogSizeMB <= 0 || s.logSize <= int64(s.config.MaxLogSizeMB)*1024*1024) {
		if err := s.appendLog(ev); err != nil {
			s.logger.Warn("cdc: persist event %d failed: %v", ev.Sequence, err)
		}
	}

	matching := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if sub.mask.Matches(ev.Kind) {
			matching = append(matching, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range matching {
		sub.callback(ev)
	}
	return nil
}

// Subscribe registers a callback invoked for every future event whose
// kind matches mask, returning an ID usable with Unsubscribe.
func (s *Stream) Subscribe(mask EventMask, callback func(Event)) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.subscribers[id] = &subscriber{id: id, mask: mask, callback: callback}
	return id
}

// Unsubscribe removes a subscriber. Unsubscribing an unknown or already
// removed ID is a no-op.
func (s *Stream) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// Poll returns the contiguous ordered events with sequence in
// [max(cursor, oldestLive), newest], up to limit events, the cursor
// value to pass on the next call, and the total number of events
// pending beyond (and including) the effective start — computed before
// limit truncation, so a caller can tell how much backlog remains.
func (s *Stream) Poll(cursor uint64, limit int) (events []Event, nextCursor uint64, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size == 0 {
		return nil, cursor, 0
	}

	newest := s.nextSeq - 1
	effectiveStart := cursor
	if effectiveStart < s.oldestLive {
		effectiveStart = s.oldestLive
	}
	if effectiveStart > newest {
		return nil, effectiveStart, 0
	}

	pending = int(newest-effectiveStart) + 1
	count := pending
	if limit > 0 && limit < count {
		count = limit
	}

	events = make([]Event, 0, count)
	// oldest live slot sits at s.head (the next slot to be overwritten);
	// walk forward from there through size slots in sequence order.
	startSlot := s.head
	if s.size < len(s.buffer) {
		startSlot = 0
	}
	for i := 0; i < s.size && len(events) < count; i++ {
		ev := s.buffer[(startSlot+i)%len(s.buffer)]
		if ev.Sequence >= effectiveStart {
			events = append(events, ev)
		}
	}

	nextCursor = effectiveStart
	if len(events) > 0 {
		nextCursor = events[len(events)-1].Sequence + 1
	}
	return events, nextCursor, pending
}

// OldestLive returns the sequence number of the oldest event still
// retained in the ring buffer.
func (s *Stream) OldestLive() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oldestLive
}

// Newest returns the most recently published sequence number, or 0 if
// nothing has been published yet.
func (s *Stream) Newest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextSeq == 1 {
		return 0
	}
	return s.nextSeq - 1
}

func (s *Stream) appendLog(ev Event) error {
	var buf []byte
	buf = appendUint64(buf, ev.Sequence)
	buf = append(buf, byte(ev.Kind))
	buf = appendUint64(buf, uint64(ev.Row))
	buf = appendUint64(buf, uint64(ev.Timestamp))

	hasVector := byte(0)
	if ev.Vector != nil {
		hasVector = 1
	}
	buf = append(buf, hasVector)
	if ev.Vector != nil {
		buf = appendUint32(buf, uint32(len(ev.Vector)))
		for _, f := range ev.Vector {
			buf = appendFloat32(buf, f)
		}
	}

	var metaBuf writeBuffer
	if err := snapshot.WriteBag(&metaBuf, ev.Metadata); err != nil {
		return err
	}
	buf = append(buf, metaBuf.bytes...)

	n, err := s.logFile.Write(buf)
	if err != nil {
		return gverrors.Wrap(err, gverrors.Io, "cdc: append log record")
	}
	s.logSize += int64(n)
	return nil
}

// writeBuffer is a minimal io.Writer collecting bytes, used so
// snapshot.WriteBag (which wants an io.Writer) can contribute to a
// single in-memory record before one os.File.Write call.
type writeBuffer struct{ bytes []byte }

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendFloat32(buf []byte, f float32) []byte {
	return appendUint32(buf, math.Float32bits(f))
}

var _ io.Writer = (*writeBuffer)(nil)
