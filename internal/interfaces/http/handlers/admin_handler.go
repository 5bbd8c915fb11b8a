package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/pkg/errors"
	"github.com/turtacn/abuseguard/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// PolicyLister lists the configured policies.
type PolicyLister interface {
	Actions() []models.Action
	Lookup(action models.Action) (models.PolicyDefinition, bool)
}

// EventQuerier reads persisted abuse events.
type EventQuerier interface {
	ListRecent(ctx context.Context, limit int, action string) ([]models.AbuseEvent, error)
}

// AdminHandler serves the operator endpoints under /admin.
type AdminHandler struct {
	policies  PolicyLister
	eventLog  service.EventLog
	persisted EventQuerier
	cooldowns service.CooldownClearer
	logger    logger.Logger
}

// NewAdminHandler creates a new AdminHandler. persisted may be nil when no
// database is configured.
func NewAdminHandler(policies PolicyLister, eventLog service.EventLog, persisted EventQuerier, cooldowns service.CooldownClearer, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		policies:  policies,
		eventLog:  eventLog,
		persisted: persisted,
		cooldowns: cooldowns,
		logger:    log.WithComponent("AdminHandler"),
	}
}

// PolicyView is one entry of GET /admin/policies.
type PolicyView struct {
	Action models.Action `json:"action"`
	models.PolicyDefinition
}

// ListPolicies returns every policy, sorted by action.
func (h *AdminHandler) ListPolicies(c *gin.Context) {
	actions := h.policies.Actions()
	out := make([]PolicyView, 0, len(actions))
	for _, a := range actions {
		def, _ := h.policies.Lookup(a)
		out = append(out, PolicyView{Action: a, PolicyDefinition: def})
	}
	c.JSON(http.StatusOK, gin.H{"policies": out})
}

// RecentEvents returns the newest entries of the capped event log.
func (h *AdminHandler) RecentEvents(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		sendError(c, err)
		return
	}
	events, err := h.eventLog.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Warn(c.Request.Context(), "event log unavailable", logger.Err(err))
		sendError(c, errors.ErrServiceUnavailable("event log unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// PersistedEvents returns stored abuse events, optionally filtered by action.
func (h *AdminHandler) PersistedEvents(c *gin.Context) {
	if h.persisted == nil {
		sendError(c, errors.ErrNotFound("event persistence is not configured"))
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		sendError(c, err)
		return
	}
	action := c.Query("action")
	if action != "" {
		if _, ok := models.ParseAction(action); !ok {
			sendError(c, errors.ErrInvalidRequest("unknown action"))
			return
		}
	}
	events, err := h.persisted.ListRecent(c.Request.Context(), limit, action)
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to list abuse events", err)
		sendError(c, errors.ErrInternal("failed to list events").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ClearCooldowns deletes every rate counter of the hashed user in the path.
func (h *AdminHandler) ClearCooldowns(c *gin.Context) {
	userHash := c.Param("userHash")
	if userHash == "" {
		sendError(c, errors.ErrInvalidRequest("userHash is required"))
		return
	}
	n, err := h.cooldowns.ClearCooldowns(c.Request.Context(), userHash)
	if err != nil {
		sendError(c, errors.ErrServiceUnavailable("counter store unavailable").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.ErrInvalidRequest("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
