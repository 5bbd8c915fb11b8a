package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/engine"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/errors"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// Checker is the guard as seen by transport adapters.
type Checker interface {
	Check(ctx context.Context, action models.Action, id models.Identity, opts *engine.EnforceOptions) (models.Decision, error)
}

// Guard protects the routes behind it with the policy of action. Requests the
// guard does not allow are answered with the uniform 429 body; evaluation
// errors let the request through.
func Guard(checker Checker, action models.Action, resolver *identity.Resolver, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			id = resolver.FromRequest(c.Request, c.GetHeader(constants.HeaderUserID))
		}

		decision, err := checker.Check(c.Request.Context(), action, id, nil)
		if err != nil {
			log.Error(c.Request.Context(), "abuse guard failed", err, logger.String("action", string(action)))
			c.Next()
			return
		}

		if !decision.Allowed() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errors.ToErrorResponse(errors.ErrRateLimited()))
			return
		}

		c.Next()
	}
}
