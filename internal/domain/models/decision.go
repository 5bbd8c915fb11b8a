package models

import (
	"encoding/json"
	"fmt"
)

// Outcome is the verdict for a single action attempt. Values are ordered by
// strictness so that merging several rule results is a max() over Outcome.
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeDegradeToReview
	OutcomeThrottle
	OutcomeDeny
)

var outcomeNames = map[Outcome]string{
	OutcomeAllow:           "allow",
	OutcomeDegradeToReview: "degrade_to_review",
	OutcomeThrottle:        "throttle",
	OutcomeDeny:            "deny",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// AtLeast reports whether o is as strict as other or stricter.
func (o Outcome) AtLeast(other Outcome) bool {
	return o >= other
}

// MarshalJSON encodes the outcome by name.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an outcome name.
func (o *Outcome) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, ok := ParseOutcome(s)
	if !ok {
		return fmt.Errorf("unknown outcome %q", s)
	}
	*o = parsed
	return nil
}

// ParseOutcome returns the Outcome named s.
func ParseOutcome(s string) (Outcome, bool) {
	for o, name := range outcomeNames {
		if name == s {
			return o, true
		}
	}
	return OutcomeAllow, false
}

// Reasons are machine strings. They are written to logs and audit rows and are
// never shown to end users.
const (
	ReasonNoPolicy         = "no_policy"
	ReasonDuplicateContent = "duplicate_content"
	ReasonTooManyPending   = "too_many_pending"
	ReasonRedisDown        = "redis_down"
	ReasonUnderLimit       = "under_limit"
	ReasonDisabled         = "disabled"
	ReasonHardLimit        = "hard_limit_exceeded"
	ReasonSoftLimit        = "soft_limit_exceeded"
)

// Decision is the result of evaluating an action attempt.
type Decision struct {
	Outcome       Outcome `json:"decision"`
	Reason        string  `json:"reason"`
	TriggeredRule string  `json:"triggeredRule,omitempty"`
	CurrentCount  int64   `json:"currentCount,omitempty"`
	Limit         int64   `json:"limit,omitempty"`
}

// Allowed reports whether the caller may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Allow builds an allow decision with the given reason.
func Allow(reason string) Decision {
	return Decision{Outcome: OutcomeAllow, Reason: reason}
}

// Deny builds a deny decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Outcome: OutcomeDeny, Reason: reason}
}
