package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/identity"
	"github.com/turtacn/abuseguard/pkg/constants"
)

// Identity resolves the caller once per request. The raw user id comes from the
// X-User-Id header set by the upstream auth proxy.
func Identity(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(constants.ContextKeyIdentity, resolver.FromRequest(c.Request, c.GetHeader(constants.HeaderUserID)))
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Identity.
func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(constants.ContextKeyIdentity)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}
