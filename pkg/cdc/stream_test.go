package cdc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

func newTestStream(t *testing.T, ringSize int) *Stream {
	t.Helper()
	s, err := New(gvconfig.CDCConfig{RingBufferSize: ringSize}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPublishAssignsIncreasingSequence(t *testing.T) {
	s := newTestStream(t, 8)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Publish(Event{Kind: EventInsert, Row: 0}))
	}
	assert.Equal(t, uint64(3), s.Newest())
	assert.Equal(t, uint64(1), s.OldestLive())
}

func TestPublishOverwritesOldestWhenFull(t *testing.T) {
	s := newTestStream(t, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Publish(Event{Kind: EventInsert, Row: 0}))
	}
	assert.Equal(t, uint64(5), s.Newest())
	assert.Equal(t, uint64(4), s.OldestLive(), "only the last 2 events should still be retained")
}

func TestSubscribeReceivesMatchingKindsOnly(t *testing.T) {
	s := newTestStream(t, 8)
	var mu sync.Mutex
	var seen []EventKind
	s.Subscribe(MaskDelete, func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Kind)
		mu.Unlock()
	})

	require.NoError(t, s.Publish(Event{Kind: EventInsert}))
	require.NoError(t, s.Publish(Event{Kind: EventDelete}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventDelete}, seen)
}

func TestUnsubscribeStopsCallbacks(t *testing.T) {
	s := newTestStream(t, 8)
	calls := 0
	id := s.Subscribe(MaskAll, func(ev Event) { calls++ })
	require.NoError(t, s.Publish(Event{Kind: EventInsert}))
	s.Unsubscribe(id)
	require.NoError(t, s.Publish(Event{Kind: EventInsert}))
	assert.Equal(t, 1, calls)
}

func TestPollClampsCursorToOldestLive(t *testing.T) {
	s := newTestStream(t, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Publish(Event{Kind: EventInsert, Row: storage.RowIndex(i)}))
	}

	events, cursor, pending := s.Poll(1, 10)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(4), events[0].Sequence)
	assert.Equal(t, uint64(5), events[1].Sequence)
	assert.Equal(t, uint64(6), cursor)
	assert.Equal(t, 2, pending)
}

func TestPollRespectsLimitAndAdvancesCursor(t *testing.T) {
	s := newTestStream(t, 8)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Publish(Event{Kind: EventInsert}))
	}

	first, cursor, pending := s.Poll(1, 2)
	require.Len(t, first, 2)
	assert.Equal(t, 4, pending, "pending counts the whole backlog, not just what limit returns")
	assert.Equal(t, uint64(3), cursor)

	rest, cursor2, _ := s.Poll(cursor, 10)
	require.Len(t, rest, 2)
	assert.Equal(t, uint64(5), cursor2)
}
