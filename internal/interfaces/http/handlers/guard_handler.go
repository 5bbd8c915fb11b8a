package handlers

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/engine"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/internal/interfaces/http/middleware"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/errors"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// GuardRequest is the optional body of POST /v1/guard/:action.
type GuardRequest struct {
	ContentBody  string `json:"contentBody"`
	PendingCount *int64 `json:"pendingCount"`
	PendingMax   int64  `json:"pendingMax"`
	Email        string `json:"email"`
}

// GuardResponse is returned when the action may proceed.
type GuardResponse struct {
	Allowed bool `json:"allowed"`
}

// GuardHandler exposes the guard to callers that are not Go processes.
type GuardHandler struct {
	guard    middleware.Checker
	resolver *identity.Resolver
	logger   logger.Logger
}

// NewGuardHandler creates a new GuardHandler.
func NewGuardHandler(guard middleware.Checker, resolver *identity.Resolver, log logger.Logger) *GuardHandler {
	return &GuardHandler{
		guard:    guard,
		resolver: resolver,
		logger:   log.WithComponent("GuardHandler"),
	}
}

// Check evaluates one action attempt. The response never contains counts or
// limits: callers learn only whether to proceed.
func (h *GuardHandler) Check(c *gin.Context) {
	action, ok := models.ParseAction(c.Param("action"))
	if !ok {
		sendError(c, errors.ErrInvalidRequest("unknown action"))
		return
	}

	// The body is optional; a chunked request may still carry nothing.
	var req GuardRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
			sendError(c, errors.ErrInvalidRequest(err.Error()))
			return
		}
	}

	id, ok := middleware.IdentityFrom(c)
	if !ok {
		id = h.resolver.FromRequest(c.Request, c.GetHeader(constants.HeaderUserID))
	}
	if req.Email != "" {
		id.EmailHash = h.resolver.HashEmail(req.Email)
	}
	opts := &engine.EnforceOptions{ContentBody: req.ContentBody}
	if req.PendingCount != nil && req.PendingMax > 0 {
		pending := *req.PendingCount
		opts.PendingCheck = func(context.Context) (int64, error) { return pending, nil }
		opts.PendingMax = req.PendingMax
	}

	decision, err := h.guard.Check(c.Request.Context(), action, id, opts)
	if err != nil {
		h.logger.Error(c.Request.Context(), "guard check failed", err, logger.String("action", string(action)))
		sendError(c, errors.ErrInternal("guard check failed").WithCause(err))
		return
	}
	if !decision.Allowed() {
		sendError(c, errors.ErrRateLimited())
		return
	}

	c.JSON(http.StatusOK, GuardResponse{Allowed: true})
}
