package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ModeShadow and ModeEnforce are the two operating modes of the guard.
const (
	ModeShadow  = "shadow"
	ModeEnforce = "enforce"
)

// AbuseEvent is the durable record of a non-allow decision. It only ever holds
// hashed identity fields.
type AbuseEvent struct {
	ID            uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	Action        string    `gorm:"size:64;index" json:"action"`
	Decision      string    `gorm:"size:32" json:"decision"`
	Reason        string    `gorm:"size:64" json:"reason"`
	TriggeredRule string    `gorm:"size:64" json:"triggeredRule,omitempty"`
	CurrentCount  int64     `json:"currentCount"`
	Limit         int64     `gorm:"column:limit_value" json:"limit"`
	UserID        string    `gorm:"size:64;index" json:"userId,omitempty"`
	IPHash        string    `gorm:"size:64" json:"ipHash,omitempty"`
	DeviceHash    string    `gorm:"size:64" json:"deviceHash,omitempty"`
	EmailHash     string    `gorm:"size:64" json:"emailHash,omitempty"`
	Mode          string    `gorm:"size:32" json:"mode"`
	Signature     string    `gorm:"size:64" json:"signature,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the table name.
func (AbuseEvent) TableName() string { return "abuse_events" }

// BeforeCreate assigns an ID when the caller did not.
func (e *AbuseEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// NewAbuseEvent builds an event from a decision.
func NewAbuseEvent(action Action, decision Decision, mode string) *AbuseEvent {
	return &AbuseEvent{
		ID:            uuid.New(),
		Action:        string(action),
		Decision:      decision.Outcome.String(),
		Reason:        decision.Reason,
		TriggeredRule: decision.TriggeredRule,
		CurrentCount:  decision.CurrentCount,
		Limit:         decision.Limit,
		Mode:          mode,
		CreatedAt:     time.Now().UTC(),
	}
}

// WithIdentity copies the hashed identity fields onto the event.
func (e *AbuseEvent) WithIdentity(id Identity) *AbuseEvent {
	e.UserID = id.UserID
	e.IPHash = id.IPHash
	e.DeviceHash = id.DeviceHash
	e.EmailHash = id.EmailHash
	return e
}

// ModeTag renders the mode column: "shadow:<decision>" in shadow mode and the
// bare decision in enforce mode.
func ModeTag(mode string, outcome Outcome) string {
	if mode == ModeEnforce {
		return outcome.String()
	}
	return ModeShadow + ":" + outcome.String()
}
