package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/abuseguard/pkg/errors"
)

// sendError writes err as the standard error body. Errors that are not
// GuardErrors become a 500 without detail.
func sendError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if gErr, ok := errors.AsGuardError(err); ok {
		status = gErr.HTTPStatus()
	}
	c.AbortWithStatusJSON(status, errors.ToErrorResponse(err))
}
