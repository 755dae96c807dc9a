// Package ttl implements per-row expiry: a lazy check usable on the read
// path plus a background sweep goroutine, grounded on the dedicated-
// goroutine-with-stop-channel worker lifecycle.
package ttl

import (
	"sync"
	"time"

	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/gvlog"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

// Manager tracks and enforces row expiry against a Store. It owns no
// vector or metadata state itself — expiration times live in the
// store's own expire_at column — so Manager is a thin policy layer, not
// a second source of truth.
type Manager struct {
	store  *storage.Store
	config gvconfig.TTLConfig
	logger gvlog.Logger

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// New returns a Manager over store. If cfg.CleanupIntervalSeconds > 0, a
// background sweep goroutine starts immediately; call Close to stop it.
func New(store *storage.Store, cfg gvconfig.TTLConfig, logger gvlog.Logger) *Manager {
	if logger == nil {
		logger = gvlog.NewNoOpLogger()
	}
	m := &Manager{
		store:  store,
		config: cfg,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.CleanupIntervalSeconds > 0 {
		go m.sweepLoop()
	} else {
		close(m.done)
	}
	return m
}

// Close stops the background sweep goroutine, if running. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	return nil
}

// SetTTL sets row's absolute expiration ttlSeconds from now. A
// ttlSeconds of 0 disables expiry for the row.
func (m *Manager) SetTTL(row storage.RowIndex, ttlSeconds int64) error {
	if ttlSeconds == 0 {
		return m.store.SetExpireAt(row, 0)
	}
	expireAt := time.Now().UnixMicro() + ttlSeconds*1_000_000
	return m.store.SetExpireAt(row, expireAt)
}

// IsExpired reports whether row's TTL has elapsed as of now. A row with
// no TTL set (expire_at == 0) is never expired.
func (m *Manager) IsExpired(row storage.RowIndex, now time.Time) (bool, error) {
	expireAt, err := m.store.ExpireAt(row)
	if err != nil {
		return false, err
	}
	if expireAt == 0 {
		return false, nil
	}
	return expireAt <= now.UnixMicro(), nil
}

// CheckLazy is the read-path hook: if lazy expiration is enabled and row
// has expired, it is tombstoned on the spot and CheckLazy returns true.
// Calling CheckLazy on an already-tombstoned row is a no-op.
func (m *Manager) CheckLazy(row storage.RowIndex) (expired bool, err error) {
	if !m.config.LazyExpiration {
		return false, nil
	}
	deleted, err := m.store.IsDeleted(row)
	if err != nil {
		return false, err
	}
	if deleted {
		return false, nil
	}
	expired, err = m.IsExpired(row, time.Now())
	if err != nil || !expired {
		return false, err
	}
	if err := m.store.Delete(row); err != nil {
		return false, err
	}
	return true, nil
}

// Sweep tombstones every currently-expired live row, up to
// config.MaxExpiredPerCleanup rows, and returns how many it expired.
func (m *Manager) Sweep() int {
	now := time.Now()
	limit := m.config.MaxExpiredPerCleanup
	if limit <= 0 {
		limit = m.store.Len()
	}

	var candidates []storage.RowIndex
	m.store.IterLiveIndices(func(row storage.RowIndex) bool {
		expired, err := m.IsExpired(row, now)
		if err == nil && expired {
			candidates = append(candidates, row)
		}
		return len(candidates) < limit
	})

	expiredCount := 0
	for _, row := range candidates {
		if err := m.store.Delete(row); err != nil {
			m.logger.Warn("ttl: sweep failed to delete row %d: %v", row, err)
			continue
		}
		expiredCount++
	}
	if expiredCount > 0 {
		m.logger.Debug("ttl: sweep expired %d rows", expiredCount)
	}
	return expiredCount
}

func (m *Manager) sweepLoop() {
	defer close(m.done)

	interval := time.Duration(m.config.CleanupIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}
