package counterstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/errors"
)

// maxIncrementAttempts bounds the Add/Increment race against expiry.
const maxIncrementAttempts = 8

// MemoryCounterStore implements service.AbuseStore in process memory. Counters
// are not shared between replicas.
type MemoryCounterStore struct {
	items    *cache.Cache
	eventLog EventLogConfig

	mu     sync.Mutex
	events []service.EventLogEntry
	lastAt time.Time
}

var _ service.AbuseStore = (*MemoryCounterStore)(nil)

// NewMemoryCounterStore creates an empty store. cleanupInterval controls how
// often expired counters are purged.
func NewMemoryCounterStore(eventLog EventLogConfig, cleanupInterval time.Duration) *MemoryCounterStore {
	eventLog.setDefaults()
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryCounterStore{
		items:    cache.New(cache.NoExpiration, cleanupInterval),
		eventLog: eventLog,
	}
}

// IncrementCounter creates the counter with expiry window or increments it
// without touching its expiry.
func (m *MemoryCounterStore) IncrementCounter(_ context.Context, key string, window time.Duration) (int64, error) {
	for i := 0; i < maxIncrementAttempts; i++ {
		if err := m.items.Add(key, int64(1), window); err == nil {
			return 1, nil
		}
		// the counter may expire between Add and IncrementInt64
		if n, err := m.items.IncrementInt64(key, 1); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: counter %s kept expiring", errors.ErrStoreUnavailable, key)
}

// CheckDedup sets key if it is absent.
func (m *MemoryCounterStore) CheckDedup(_ context.Context, key string, window time.Duration) (bool, error) {
	return m.items.Add(key, constants.DedupMarkerValue, window) == nil, nil
}

// AppendEvent prepends entry and trims the log.
func (m *MemoryCounterStore) AppendEvent(_ context.Context, entry service.EventLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireEventsLocked()
	m.events = append([]service.EventLogEntry{entry}, m.events...)
	if len(m.events) > m.eventLog.MaxLen {
		m.events = m.events[:m.eventLog.MaxLen]
	}
	m.lastAt = time.Now()
	return nil
}

// RecentEvents returns up to limit entries, newest first.
func (m *MemoryCounterStore) RecentEvents(_ context.Context, limit int) ([]service.EventLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireEventsLocked()
	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	out := make([]service.EventLogEntry, limit)
	copy(out, m.events[:limit])
	return out, nil
}

// ClearCooldowns deletes every rate counter keyed by userHash.
func (m *MemoryCounterStore) ClearCooldowns(_ context.Context, userHash string) (int, error) {
	deleted := 0
	for key := range m.items.Items() {
		if isUserRateKey(key, userHash) {
			m.items.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}

// Available always reports true.
func (m *MemoryCounterStore) Available() bool {
	return true
}

// expireEventsLocked drops the whole log once its TTL has passed since the last
// append, mirroring EXPIRE on the Redis list.
func (m *MemoryCounterStore) expireEventsLocked() {
	if !m.lastAt.IsZero() && time.Since(m.lastAt) > m.eventLog.TTL {
		m.events = nil
	}
}
