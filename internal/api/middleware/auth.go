package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coach-service/internal/models"
)

// UserIDKey holds the authenticated user ID in the gin context.
const UserIDKey = "user_id"

// TokenVerifier resolves a bearer token to the user it was issued for.
type TokenVerifier interface {
	VerifyToken(token string) (userID string, err error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "authorization header is required")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			unauthorized(c, "authorization header must be a bearer token")
			return
		}

		userID, err := am.verifier.VerifyToken(tokenString)
		if err != nil {
			slog.Debug("Rejected token", "path", c.Request.URL.Path, "error", err)
			unauthorized(c, "invalid token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func unauthorized(c *gin.Context, details string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized",
		Details: details,
	})
}
