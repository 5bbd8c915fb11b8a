// Package constants defines system-wide constants for the abuse guard service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Store Key Prefix Constants
// ================================================================================

const (
	// KeyPrefixRate is the prefix for per-action rate counters.
	// Full layout: abuse:rate:{action}:{keyBy}:{identityValue}
	KeyPrefixRate = "abuse:rate"

	// KeyPrefixDedup is the prefix for duplicate-content markers.
	// Full layout: abuse:dedup:{action}:{userId}:{contentHash}
	KeyPrefixDedup = "abuse:dedup"

	// KeyEventLog is the capped list holding recent non-allow decisions
	KeyEventLog = "abuse:events"

	// DedupMarkerValue is the value stored under a dedup key
	DedupMarkerValue = "1"
)

// ================================================================================
// Event Log Constants
// ================================================================================

const (
	// DefaultEventLogMaxLen bounds the length of the operational event log
	DefaultEventLogMaxLen = 1000

	// DefaultEventLogTTL is the lifetime of the event log after its last append
	DefaultEventLogTTL = 7 * 24 * time.Hour

	// ClearScanBatchSize is the SCAN COUNT hint used by the cooldown clear
	ClearScanBatchSize = 200
)

// ================================================================================
// Store Connection Constants
// ================================================================================

const (
	// DefaultMaxConnectAttempts is the number of consecutive store failures after
	// which the store gives up for the remainder of the process.
	DefaultMaxConnectAttempts = 3

	// DefaultStoreMaxRetries is the per-command retry count handed to the client
	DefaultStoreMaxRetries = 2

	// DefaultStoreDialTimeout bounds a single connection attempt
	DefaultStoreDialTimeout = 2 * time.Second

	// DefaultStoreOpTimeout bounds a single read or write
	DefaultStoreOpTimeout = 500 * time.Millisecond
)

// ================================================================================
// Identity Constants
// ================================================================================

const (
	// UnknownIP is hashed when no client address can be determined.
	// All such callers share one bucket.
	UnknownIP = "unknown"

	// DeviceCookieName is the cookie carrying the device identifier
	DeviceCookieName = "device_id"

	// HeaderForwardedFor lists proxies, client first
	HeaderForwardedFor = "X-Forwarded-For"

	// HeaderRealIP is set by the edge proxy
	HeaderRealIP = "X-Real-IP"

	// HeaderCDNClientIP is set by the CDN
	HeaderCDNClientIP = "CF-Connecting-IP"

	// HeaderUserID carries the authenticated raw user id from the auth proxy
	HeaderUserID = "X-User-Id"

	// HeaderDeviceID carries the device identifier for non-browser clients
	HeaderDeviceID = "X-Device-Id"

	// HeaderAdminToken authenticates operator endpoints
	HeaderAdminToken = "X-Admin-Token"
)

// ================================================================================
// Fingerprint Constants
// ================================================================================

// FingerprintLength is the number of hex characters kept from the content digest
const FingerprintLength = 16

// ================================================================================
// Dispatcher Constants
// ================================================================================

const (
	// DefaultDispatchConcurrency bounds concurrent abuse event writers
	DefaultDispatchConcurrency = 16

	// DefaultDispatchTimeout bounds a single abuse event write
	DefaultDispatchTimeout = 5 * time.Second
)

// ================================================================================
// Context Key Constants
// ================================================================================

// ContextKey represents keys used in context.Context
type ContextKey string

const (
	// ContextKeyRequestID is the key for request ID in context
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID is the key for distributed trace ID in context
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyIdentity is the gin context key holding the resolved identity
	ContextKeyIdentity = "abuse_identity"
)

// ================================================================================
// User-facing Messages
// ================================================================================

// RateLimitedMessage is the only failure text end users ever see
const RateLimitedMessage = "too many requests, try again later"
