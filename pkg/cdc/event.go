// Package cdc implements change data capture: a bounded ring of
// mutation events with push subscriptions and pull cursors, optionally
// persisted to a durable log.
package cdc

import (
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

// EventKind identifies the mutation an Event records.
type EventKind uint8

const (
	EventInsert EventKind = iota
	EventDelete
	EventUpdateVector
	EventUpdateMetadata
)

// EventMask is a bitmask over EventKind values, used to filter which
// kinds a subscriber wants to be called back for.
type EventMask uint8

const (
	MaskInsert         EventMask = 1 << EventInsert
	MaskDelete         EventMask = 1 << EventDelete
	MaskUpdateVector   EventMask = 1 << EventUpdateVector
	MaskUpdateMetadata EventMask = 1 << EventUpdateMetadata
	MaskAll            EventMask = MaskInsert | MaskDelete | MaskUpdateVector | MaskUpdateMetadata
)

// Matches reports whether kind is included in mask.
func (mask EventMask) Matches(kind EventKind) bool {
	return mask&(1<<kind) != 0
}

// Event is one recorded mutation. Vector and Metadata are deep copies
// owned by the event, not views into live storage — once published, an
// event never changes.
type Event struct {
	Sequence  uint64
	Kind      EventKind
	Row       storage.RowIndex
	Timestamp int64 // microseconds since epoch
	Vector    []float32    // nil unless the config asks for vector data
	Metadata  metadata.Bag // nil unless the mutation touched metadata
}

func (e Event) deepCopy() Event {
	out := e
	if e.Vector != nil {
		out.Vector = make([]float32, len(e.Vector))
		copy(out.Vector, e.Vector)
	}
	if e.Metadata != nil {
		out.Metadata = e.Metadata.DeepCopy()
	}
	return out
}
