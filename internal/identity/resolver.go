// Package identity derives the privacy-preserving Identity of a caller.
// Raw user ids, addresses, device ids and emails are replaced by a keyed hash
// before they reach the decision engine or any store.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/pkg/constants"
)

// RawIdentity holds already-extracted raw values, for callers that are not
// HTTP handlers (socket sessions, gRPC, background jobs). Empty fields are absent.
type RawIdentity struct {
	UserID   string
	IP       string
	DeviceID string
	Email    string
}

// Resolver hashes raw identity values with a server secret.
type Resolver struct {
	secret []byte
}

// NewResolver creates a Resolver keyed by secret.
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// Hash returns hex(HMAC-SHA256(secret, value)). The output length is fixed and
// independent of the input.
func (r *Resolver) Hash(value string) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashUserID hashes a raw user id the same way FromRaw does.
func (r *Resolver) HashUserID(raw string) string {
	return r.hashOptional(strings.TrimSpace(raw))
}

// HashEmail normalizes and hashes an email the same way FromRaw does.
func (r *Resolver) HashEmail(raw string) string {
	return r.hashOptional(NormalizeEmail(raw))
}

func (r *Resolver) hashOptional(value string) string {
	if value == "" {
		return ""
	}
	return r.Hash(value)
}

// FromRaw builds an Identity from raw strings. Absent values are omitted, not
// hashed to a sentinel.
func (r *Resolver) FromRaw(raw RawIdentity) models.Identity {
	return models.Identity{
		UserID:     r.hashOptional(strings.TrimSpace(raw.UserID)),
		IPHash:     r.hashOptional(strings.TrimSpace(raw.IP)),
		DeviceHash: r.hashOptional(strings.TrimSpace(raw.DeviceID)),
		EmailHash:  r.hashOptional(NormalizeEmail(raw.Email)),
	}
}

// FromRequest builds an Identity from an HTTP request. userID is the raw id of the
// authenticated user, or empty for anonymous callers. The IP dimension is always
// populated; callers without a usable address share the "unknown" bucket.
func (r *Resolver) FromRequest(req *http.Request, userID string) models.Identity {
	raw := RawIdentity{
		UserID:   userID,
		IP:       ClientIP(req.Header),
		DeviceID: deviceID(req),
	}
	return r.FromRaw(raw)
}

// FromRequestWithEmail is FromRequest plus an email supplied by the caller, e.g.
// from a signup or password reset form.
func (r *Resolver) FromRequestWithEmail(req *http.Request, userID, email string) models.Identity {
	id := r.FromRequest(req, userID)
	id.EmailHash = r.HashEmail(email)
	return id
}

// ClientIP extracts the client address: first X-Forwarded-For entry, then
// X-Real-IP, then the CDN header, else "unknown".
func ClientIP(h http.Header) string {
	if fwd := h.Get(constants.HeaderForwardedFor); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(h.Get(constants.HeaderRealIP)); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(h.Get(constants.HeaderCDNClientIP)); ip != "" {
		return ip
	}
	return constants.UnknownIP
}

// PeerIP strips the port from a remote address such as "10.0.0.1:5123".
func PeerIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// NormalizeEmail trims and lower-cases an email so that trivially different
// spellings share one hash.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func deviceID(req *http.Request) string {
	if c, err := req.Cookie(constants.DeviceCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return req.Header.Get(constants.HeaderDeviceID)
}
