package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"

	"coach-service/internal/websocket"
)

type WSHandler struct {
	hub          *websocket.Hub
	upgrader     *gws.Upgrader
	verifier     websocket.TokenVerifier
	requireToken bool
}

// NewWSHandler accepts a nil verifier, in which case upgrade requests are
// never authenticated and identity comes only from presence.register.
func NewWSHandler(hub *websocket.Hub, upgrader *gws.Upgrader, verifier websocket.TokenVerifier, requireToken bool) *WSHandler {
	return &WSHandler{
		hub:          hub,
		upgrader:     upgrader,
		verifier:     verifier,
		requireToken: requireToken && verifier != nil,
	}
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Upgrade to the realtime channel. The client must send presence.register before it receives change events.
// @Tags websocket
// @Param token query string false "JWT; binds the connection to the token's user"
// @Success 101 "Switching Protocols - WebSocket connection established"
// @Failure 401 {object} models.ErrorResponse "Invalid or missing token"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}

	var authUserID string
	if token != "" && h.verifier != nil {
		userID, err := h.verifier.VerifyToken(token)
		if err != nil {
			slog.Warn("WebSocket upgrade rejected", "remote", c.ClientIP(), "error", err)
			abortWithError(c, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}
		authUserID = userID
	} else if h.requireToken {
		abortWithError(c, http.StatusUnauthorized, "Unauthorized", "token is required")
		return
	}

	websocket.ServeWS(h.hub, h.upgrader, c.Writer, c.Request, authUserID)
}
