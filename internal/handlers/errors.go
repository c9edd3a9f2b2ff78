package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/services"
	"github.com/huangang/testsentry/pkg/response"
)

// handleServiceError maps service sentinel errors onto the HTTP envelope.
// Anything unrecognized is a 500.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		response.Unauthorized(c, "authentication required")
	case errors.Is(err, services.ErrForbidden):
		response.Forbidden(c, "insufficient permissions")
	case errors.Is(err, services.ErrNotFound):
		response.NotFound(c, "resource not found")
	case errors.Is(err, services.ErrExpired):
		response.Gone(c, "invitation has expired")
	case errors.Is(err, services.ErrInvalidTransition):
		response.Conflict(c, "invitation has already been resolved")
	case errors.Is(err, services.ErrConflict):
		response.Conflict(c, "resource already exists")
	case errors.Is(err, services.ErrInvalidRole):
		response.BadRequest(c, "invalid role")
	default:
		response.ServerError(c, err.Error())
	}
}
