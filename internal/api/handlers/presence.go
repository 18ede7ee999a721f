package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"coach-service/internal/services"
)

type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (*services.PresenceStatus, error)
}

type PresenceHandler struct {
	presence PresenceReader
}

func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// GetPresence godoc
// @Summary User presence
// @Description Display-only online status mirrored from the realtime hub
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} services.PresenceStatus
// @Router /presence/{userId} [get]
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	status, err := h.presence.GetPresence(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
