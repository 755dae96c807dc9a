package ttl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

func newTestStore(t *testing.T) (*storage.Store, storage.RowIndex) {
	t.Helper()
	s := storage.New(2)
	row, err := s.Append([]float32{1, 2})
	require.NoError(t, err)
	return s, row
}

func TestSetTTLZeroDisablesExpiry(t *testing.T) {
	store, row := newTestStore(t)
	m := New(store, gvconfig.TTLConfig{}, nil)
	defer m.Close()

	require.NoError(t, m.SetTTL(row, 5))
	require.NoError(t, m.SetTTL(row, 0))

	expired, err := m.IsExpired(row, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, expired, "ttl of 0 means no expiry, not already-expired")
}

func TestIsExpiredHonorsAbsoluteDeadline(t *testing.T) {
	store, row := newTestStore(t)
	m := New(store, gvconfig.TTLConfig{}, nil)
	defer m.Close()

	require.NoError(t, m.SetTTL(row, 1))

	expired, err := m.IsExpired(row, time.Now())
	require.NoError(t, err)
	assert.False(t, expired)

	expired, err = m.IsExpired(row, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestCheckLazyDeletesExpiredRowOnce(t *testing.T) {
	store, row := newTestStore(t)
	m := New(store, gvconfig.TTLConfig{LazyExpiration: true}, nil)
	defer m.Close()

	require.NoError(t, m.SetTTL(row, 1))
	require.NoError(t, store.SetExpireAt(row, time.Now().Add(-time.Second).UnixMicro()))

	expired, err := m.CheckLazy(row)
	require.NoError(t, err)
	assert.True(t, expired)

	deleted, err := store.IsDeleted(row)
	require.NoError(t, err)
	assert.True(t, deleted)

	expiredAgain, err := m.CheckLazy(row)
	require.NoError(t, err)
	assert.False(t, expiredAgain, "already-tombstoned row is a no-op")
}

func TestCheckLazyDisabledLeavesRowAlone(t *testing.T) {
	store, row := newTestStore(t)
	m := New(store, gvconfig.TTLConfig{LazyExpiration: false}, nil)
	defer m.Close()

	require.NoError(t, store.SetExpireAt(row, time.Now().Add(-time.Second).UnixMicro()))

	expired, err := m.CheckLazy(row)
	require.NoError(t, err)
	assert.False(t, expired)

	deleted, err := store.IsDeleted(row)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSweepExpiresOnlyPastDeadlineRows(t *testing.T) {
	store := storage.New(1)
	live, err := store.Append([]float32{1})
	require.NoError(t, err)
	expired, err := store.Append([]float32{2})
	require.NoError(t, err)

	m := New(store, gvconfig.TTLConfig{MaxExpiredPerCleanup: 10}, nil)
	defer m.Close()

	require.NoError(t, store.SetExpireAt(expired, time.Now().Add(-time.Second).UnixMicro()))
	require.NoError(t, store.SetExpireAt(live, time.Now().Add(time.Hour).UnixMicro()))

	count := m.Sweep()
	assert.Equal(t, 1, count)

	deleted, err := store.IsDeleted(expired)
	require.NoError(t, err)
	assert.True(t, deleted)

	stillLive, err := store.IsDeleted(live)
	require.NoError(t, err)
	assert.False(t, stillLive)
}

func TestSweepRespectsMaxExpiredPerCleanup(t *testing.T) {
	store := storage.New(1)
	for i := 0; i < 5; i++ {
		row, err := store.Append([]float32{float32(i)})
		require.NoError(t, err)
		require.NoError(t, store.SetExpireAt(row, time.Now().Add(-time.Second).UnixMicro()))
	}

	m := New(store, gvconfig.TTLConfig{MaxExpiredPerCleanup: 2}, nil)
	defer m.Close()

	count := m.Sweep()
	assert.Equal(t, 2, count)
}

func TestCloseStopsBackgroundSweep(t *testing.T) {
	store, _ := newTestStore(t)
	m := New(store, gvconfig.TTLConfig{CleanupIntervalSeconds: 1}, nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "Close must be idempotent")
}
