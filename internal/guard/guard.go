// Package guard is the single entry point callers use before performing a
// sensitive action. It applies the kill switch and the shadow/enforce mode on
// top of the decision engine and hands non-allow decisions to the dispatcher.
package guard

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/internal/engine"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// Evaluator computes the true decision for an action attempt.
type Evaluator interface {
	Enforce(ctx context.Context, action models.Action, id models.Identity, opts *engine.EnforceOptions) (models.Decision, error)
}

// Guard is the facade in front of the decision engine.
type Guard struct {
	engine     Evaluator
	flags      service.FlagSource
	dispatcher *Dispatcher
	cooldowns  service.CooldownClearer
	metrics    service.Metrics
	tracer     trace.Tracer
	logger     logger.Logger
}

// New creates a Guard. dispatcher, cooldowns, metrics and tracer may be nil.
func New(
	eval Evaluator,
	flags service.FlagSource,
	dispatcher *Dispatcher,
	cooldowns service.CooldownClearer,
	metrics service.Metrics,
	tracer trace.Tracer,
	log logger.Logger,
) *Guard {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/turtacn/abuseguard/internal/guard")
	}
	return &Guard{
		engine:     eval,
		flags:      flags,
		dispatcher: dispatcher,
		cooldowns:  cooldowns,
		metrics:    metrics,
		tracer:     tracer,
		logger:     log.WithComponent("guard"),
	}
}

// Check decides whether the caller may perform action.
//
// With the kill switch off it returns allow/disabled without touching the store.
// In shadow mode a non-allow decision is recorded but the caller receives allow
// with the original reason; in enforce mode the true decision is returned.
// Counters advance in both modes, so shadow mode measures real usage against
// the configured limits. The only error is malformed policy data.
func (g *Guard) Check(ctx context.Context, action models.Action, id models.Identity, opts *engine.EnforceOptions) (models.Decision, error) {
	ctx, span := g.tracer.Start(ctx, "guard.Check",
		trace.WithAttributes(attribute.String("abuse.action", string(action))),
	)
	defer span.End()

	if !g.flags.Enabled() {
		span.SetAttributes(attribute.String("abuse.mode", "disabled"))
		return models.Allow(models.ReasonDisabled), nil
	}
	mode := g.flags.Mode()

	decision, err := g.engine.Enforce(ctx, action, id, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error(ctx, "Policy evaluation failed", err, logger.String("action", string(action)))
		return models.Decision{}, err
	}

	g.metrics.RecordDecision(string(action), decision.Outcome.String(), decision.Reason, mode)
	span.SetAttributes(
		attribute.String("abuse.mode", mode),
		attribute.String("abuse.decision", decision.Outcome.String()),
		attribute.String("abuse.reason", decision.Reason),
	)

	if decision.Allowed() {
		return decision, nil
	}

	tag := models.ModeTag(mode, decision.Outcome)
	g.logger.Warn(ctx, "Abuse decision",
		logger.String("action", string(action)),
		logger.String("decision", decision.Outcome.String()),
		logger.String("reason", decision.Reason),
		logger.String("triggered_rule", decision.TriggeredRule),
		logger.Int64("current_count", decision.CurrentCount),
		logger.Int64("limit", decision.Limit),
		logger.String("user_id", id.UserID),
		logger.String("mode", tag),
	)
	if g.dispatcher != nil {
		g.dispatcher.Dispatch(ctx, models.NewAbuseEvent(action, decision, tag).WithIdentity(id))
	}

	if mode == models.ModeEnforce {
		return decision, nil
	}
	return models.Allow(decision.Reason), nil
}

// ClearCooldowns removes every rate counter of userHash. It reports how many
// counters were deleted.
func (g *Guard) ClearCooldowns(ctx context.Context, userHash string) (int, error) {
	if g.cooldowns == nil {
		return 0, nil
	}
	n, err := g.cooldowns.ClearCooldowns(ctx, userHash)
	if err != nil {
		g.logger.Error(ctx, "Failed to clear cooldowns", err, logger.String("user_id", userHash))
		return 0, err
	}
	g.logger.Info(ctx, "Cooldowns cleared", logger.String("user_id", userHash), logger.Int("deleted", n))
	return n, nil
}
