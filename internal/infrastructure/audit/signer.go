package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
)

// Sign returns the hex HMAC-SHA256 of event's JSON form, computed with the
// Signature field cleared.
func Sign(event models.AbuseEvent, key string) (string, error) {
	event.Signature = ""
	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether event carries a valid signature for key.
func Verify(event models.AbuseEvent, key string) bool {
	want, err := Sign(event, key)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(event.Signature))
}

// SigningSink stamps each event with its signature before passing it on.
type SigningSink struct {
	next service.AbuseEventSink
	key  string
}

// NewSigningSink wraps next. An empty key returns next unchanged.
func NewSigningSink(next service.AbuseEventSink, key string) service.AbuseEventSink {
	if key == "" {
		return next
	}
	return &SigningSink{next: next, key: key}
}

func (s *SigningSink) Record(ctx context.Context, event *models.AbuseEvent) error {
	sig, err := Sign(*event, s.key)
	if err != nil {
		return err
	}
	event.Signature = sig
	return s.next.Record(ctx, event)
}
