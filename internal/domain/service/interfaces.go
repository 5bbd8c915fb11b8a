package service

import (
	"context"
	"time"

	"github.com/turtacn/abuseguard/internal/domain/models"
)

//go:generate mockery --name CounterStore --output mocks --outpkg mocks
// CounterStore is the atomic counter and set-once service backing the decision engine.
// Both operations are single indivisible round-trips. Any returned error means the
// store could not be consulted and callers fail open.
type CounterStore interface {
	// IncrementCounter increments key and returns the post-increment count. The first
	// increment sets the key's expiry to window.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// CheckDedup sets key only if absent, with expiry window. It returns true when the
	// key was set (new content) and false when it already existed (duplicate).
	CheckDedup(ctx context.Context, key string, window time.Duration) (bool, error)
}

// EventLogEntry is one element of the capped operational event log.
type EventLogEntry struct {
	Action        string    `json:"action"`
	Decision      string    `json:"decision"`
	Reason        string    `json:"reason"`
	TriggeredRule string    `json:"triggeredRule,omitempty"`
	CurrentCount  int64     `json:"currentCount,omitempty"`
	Limit         int64     `json:"limit,omitempty"`
	Mode          string    `json:"mode"`
	UserID        string    `json:"userId,omitempty"`
	At            time.Time `json:"at"`
}

// EventLog is an append-only, bounded, expiring log kept in the counter store.
type EventLog interface {
	AppendEvent(ctx context.Context, entry EventLogEntry) error
	RecentEvents(ctx context.Context, limit int) ([]EventLogEntry, error)
}

// CooldownClearer removes every rate counter of a hashed user across all actions.
type CooldownClearer interface {
	ClearCooldowns(ctx context.Context, userHash string) (int, error)
}

// AbuseStore is the full surface of a counter store implementation.
type AbuseStore interface {
	CounterStore
	EventLog
	CooldownClearer
	Available() bool
}

//go:generate mockery --name AbuseEventSink --output mocks --outpkg mocks
// AbuseEventSink persists abuse events. Implementations may block; the guard calls
// them from a detached dispatcher, never on the request path.
type AbuseEventSink interface {
	Record(ctx context.Context, event *models.AbuseEvent) error
}

// PolicyProvider looks up the policy of an action.
type PolicyProvider interface {
	Lookup(action models.Action) (models.PolicyDefinition, bool)
}

// FlagSource exposes the process-wide switches. Implementations must re-read the
// underlying source on every call so operators can flip them without a restart.
type FlagSource interface {
	Enabled() bool
	Mode() string
}
