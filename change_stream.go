package gigavector

import (
	"github.com/google/uuid"

	"github.com/jaywyawhare/gigavector/pkg/cdc"
)

// SubscribeChanges registers callback to be invoked, outside the
// database lock, for every future mutation whose kind matches mask.
func (db *Database) SubscribeChanges(mask cdc.EventMask, callback func(cdc.Event)) uuid.UUID {
	return db.cdcStream.Subscribe(mask, callback)
}

// UnsubscribeChanges removes a subscription registered by
// SubscribeChanges.
func (db *Database) UnsubscribeChanges(id uuid.UUID) {
	db.cdcStream.Unsubscribe(id)
}

// PollChanges returns the events with sequence in [cursor, newest] (the
// cursor clamped forward if it has fallen off the retained window), up
// to limit events, plus the cursor to resume from and the number of
// events pending from the clamped cursor through newest, counted before
// limit is applied, so the returned events are included in it.
func (db *Database) PollChanges(cursor uint64, limit int) (events []cdc.Event, nextCursor uint64, pending int) {
	return db.cdcStream.Poll(cursor, limit)
}
