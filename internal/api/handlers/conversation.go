package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coach-service/internal/models"
	"coach-service/internal/services"
)

type ConversationHandler struct {
	conversationService *services.ConversationService
}

func NewConversationHandler(conversationService *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// ListConversations godoc
// @Summary List conversations
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Conversation
// @Router /conversations [get]
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	conversations, err := h.conversationService.ListForUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// OpenConversation godoc
// @Summary Open a conversation
// @Description Returns the conversation with the counterpart, creating it on first use
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateConversationRequest true "Counterpart"
// @Success 200 {object} models.Conversation "Existing conversation"
// @Success 201 {object} models.Conversation "Created"
// @Failure 400 {object} models.ErrorResponse
// @Router /conversations [post]
func (h *ConversationHandler) OpenConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conversation, created, err := h.conversationService.Open(c.Request.Context(), currentUser(c), req.CounterpartID)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conversation)
}

// ListMessages godoc
// @Summary List messages
// @Description Chronological page of messages. Pass before (Unix ms) to page back.
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param limit query int false "Page size (max 200)"
// @Param before query int false "Only messages created before this Unix millisecond"
// @Success 200 {array} models.Message
// @Failure 403 {object} models.ErrorResponse
// @Router /conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var before *int64
	if raw := c.Query("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, err)
			return
		}
		before = &v
	}

	messages, err := h.conversationService.ListMessages(c.Request.Context(), currentUser(c), c.Param("id"), limit, before)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// SendMessage godoc
// @Summary Send a message
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param request body models.SendMessageRequest true "Message"
// @Success 201 {object} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /conversations/{id}/messages [post]
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.conversationService.SendMessage(c.Request.Context(), currentUser(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// DeleteMessage godoc
// @Summary Delete a message
// @Description Only the sender can delete a message
// @Tags conversations
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param messageId path string true "Message ID"
// @Success 204
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /conversations/{id}/messages/{messageId} [delete]
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	err := h.conversationService.DeleteMessage(c.Request.Context(), currentUser(c), c.Param("id"), c.Param("messageId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
