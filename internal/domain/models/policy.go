package models

import (
	"fmt"
	"time"

	"github.com/turtacn/abuseguard/pkg/errors"
)

// PolicyRule is one window counter scoped to action:keyBy:identityValue.
type PolicyRule struct {
	KeyBy     Dimension `json:"keyBy" yaml:"keyBy"`
	WindowSec int       `json:"windowSec" yaml:"windowSec"`
	SoftLimit int64     `json:"softLimit" yaml:"softLimit"`
	HardLimit int64     `json:"hardLimit" yaml:"hardLimit"`
}

// Validate checks the rule invariants.
func (r PolicyRule) Validate() error {
	if !r.KeyBy.Valid() {
		return fmt.Errorf("%w: unknown keyBy %q", errors.ErrInvalidPolicy, r.KeyBy)
	}
	if r.WindowSec <= 0 {
		return fmt.Errorf("%w: windowSec must be positive, got %d", errors.ErrInvalidPolicy, r.WindowSec)
	}
	if r.SoftLimit < 0 || r.HardLimit < 0 {
		return fmt.Errorf("%w: limits must not be negative", errors.ErrInvalidPolicy)
	}
	if r.SoftLimit > r.HardLimit {
		return fmt.Errorf("%w: softLimit %d exceeds hardLimit %d", errors.ErrInvalidPolicy, r.SoftLimit, r.HardLimit)
	}
	return nil
}

// Window returns the rule window as a duration.
func (r PolicyRule) Window() time.Duration {
	return time.Duration(r.WindowSec) * time.Second
}

// Describe renders the rule for logs and audit rows, e.g. "ipHash:3600s".
func (r PolicyRule) Describe() string {
	return fmt.Sprintf("%s:%ds", r.KeyBy, r.WindowSec)
}

// Classify maps a post-increment count to an outcome and the limit it crossed.
func (r PolicyRule) Classify(count int64) (Outcome, int64) {
	switch {
	case count > r.HardLimit:
		return OutcomeDeny, r.HardLimit
	case count > r.SoftLimit:
		return OutcomeThrottle, r.SoftLimit
	default:
		return OutcomeAllow, r.SoftLimit
	}
}

// DedupConfig enables duplicate-content rejection for WindowSec seconds.
type DedupConfig struct {
	WindowSec int `json:"windowSec" yaml:"windowSec"`
}

// Window returns the dedup window as a duration.
func (d DedupConfig) Window() time.Duration {
	return time.Duration(d.WindowSec) * time.Second
}

// PolicyDefinition is the full policy of one action. Rules may be empty.
type PolicyDefinition struct {
	Rules []PolicyRule `json:"rules" yaml:"rules"`
	Dedup *DedupConfig `json:"dedup,omitempty" yaml:"dedup,omitempty"`
}

// Validate checks every rule and the dedup window.
func (p PolicyDefinition) Validate() error {
	for i, rule := range p.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	if p.Dedup != nil && p.Dedup.WindowSec <= 0 {
		return fmt.Errorf("%w: dedup windowSec must be positive, got %d", errors.ErrInvalidPolicy, p.Dedup.WindowSec)
	}
	return nil
}
