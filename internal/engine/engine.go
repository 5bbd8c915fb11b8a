// Package engine evaluates an action attempt against its policy and returns the
// strictest decision. It owns no state; counters live in the injected store.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/internal/fingerprint"
	"github.com/turtacn/abuseguard/internal/infrastructure/counterstore"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// PendingCheckFunc returns the live number of the caller's unresolved items,
// e.g. submissions still awaiting moderation.
type PendingCheckFunc func(ctx context.Context) (int64, error)

// EnforceOptions carries the optional inputs of an evaluation.
type EnforceOptions struct {
	// ContentBody enables the dedup step for policies that declare a window.
	ContentBody string

	// PendingCheck and PendingMax enable the pending-items step when both are set.
	PendingCheck PendingCheckFunc
	PendingMax   int64
}

// Engine is the decision engine.
type Engine struct {
	policies service.PolicyProvider
	store    service.CounterStore
	metrics  service.Metrics
	logger   logger.Logger
}

// New creates an Engine.
func New(policies service.PolicyProvider, store service.CounterStore, metrics service.Metrics, log logger.Logger) *Engine {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &Engine{
		policies: policies,
		store:    store,
		metrics:  metrics,
		logger:   log.WithComponent("engine"),
	}
}

// Enforce evaluates action for id. Store failures never produce an error: they
// resolve to allow. The only error is malformed policy data.
//
// Dedup and pending checks run before any counter is incremented, so a call they
// deny does not consume rate budget. Counters are incremented regardless of the
// guard mode.
func (e *Engine) Enforce(ctx context.Context, action models.Action, id models.Identity, opts *EnforceOptions) (models.Decision, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveEvaluation(string(action), time.Since(start)) }()

	if opts == nil {
		opts = &EnforceOptions{}
	}

	policy, ok := e.policies.Lookup(action)
	if !ok {
		e.logger.Debug(ctx, "No policy for action", logger.String("action", string(action)))
		return models.Allow(models.ReasonNoPolicy), nil
	}
	if err := policy.Validate(); err != nil {
		return models.Decision{}, fmt.Errorf("policy for %s: %w", action, err)
	}

	if policy.Dedup != nil && opts.ContentBody != "" && id.UserID != "" {
		key := counterstore.DedupKey(action, id.UserID, fingerprint.Fingerprint(opts.ContentBody))
		isNew, err := e.store.CheckDedup(ctx, key, policy.Dedup.Window())
		switch {
		case err != nil:
			e.logger.Warn(ctx, "Dedup check skipped, store unavailable",
				logger.String("action", string(action)),
				logger.Err(err),
			)
		case !isNew:
			return models.Deny(models.ReasonDuplicateContent), nil
		}
	}

	if opts.PendingCheck != nil && opts.PendingMax > 0 {
		pending, err := opts.PendingCheck(ctx)
		if err != nil {
			e.logger.Warn(ctx, "Pending check failed, skipping",
				logger.String("action", string(action)),
				logger.Err(err),
			)
		} else if pending >= opts.PendingMax {
			return models.Decision{
				Outcome:      models.OutcomeDeny,
				Reason:       models.ReasonTooManyPending,
				CurrentCount: pending,
				Limit:        opts.PendingMax,
			}, nil
		}
	}

	strictest := models.Allow(models.ReasonUnderLimit)
	for _, rule := range policy.Rules {
		value, present := id.Value(rule.KeyBy)
		if !present {
			continue
		}

		count, err := e.store.IncrementCounter(ctx, counterstore.RateKey(action, rule.KeyBy, value), rule.Window())
		if err != nil {
			e.logger.Warn(ctx, "Rate counters unavailable, failing open",
				logger.String("action", string(action)),
				logger.String("rule", rule.Describe()),
				logger.Err(err),
			)
			return models.Allow(models.ReasonRedisDown), nil
		}

		outcome, limit := rule.Classify(count)
		if outcome == models.OutcomeAllow || !outcome.AtLeast(strictest.Outcome) {
			continue
		}
		strictest = models.Decision{
			Outcome:       outcome,
			Reason:        reasonFor(outcome),
			TriggeredRule: rule.Describe(),
			CurrentCount:  count,
			Limit:         limit,
		}
	}
	return strictest, nil
}

func reasonFor(o models.Outcome) string {
	if o == models.OutcomeDeny {
		return models.ReasonHardLimit
	}
	return models.ReasonSoftLimit
}
