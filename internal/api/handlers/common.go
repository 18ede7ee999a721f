package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"coach-service/internal/api/middleware"
	"coach-service/internal/models"
	"coach-service/internal/services"
)

func abortWithError(c *gin.Context, status int, message, details string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Code:    status,
		Message: message,
		Details: details,
	})
}

func badRequest(c *gin.Context, err error) {
	abortWithError(c, http.StatusBadRequest, "Invalid input data", err.Error())
}

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, services.ErrForbidden):
		abortWithError(c, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, services.ErrInvalidInput):
		abortWithError(c, http.StatusBadRequest, "Invalid input data", err.Error())
	case errors.Is(err, services.ErrUserAlreadyExists):
		abortWithError(c, http.StatusConflict, "Email already exists", "")
	case errors.Is(err, services.ErrUnavailable):
		abortWithError(c, http.StatusServiceUnavailable, "Service unavailable", err.Error())
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidToken):
		abortWithError(c, http.StatusUnauthorized, "Unauthorized", "")
	default:
		slog.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		abortWithError(c, http.StatusInternalServerError, "Internal server error", "An unexpected error occurred.")
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
