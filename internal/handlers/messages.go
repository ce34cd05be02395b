package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MarkMessageSeen marks one message as seen by its receiver.
func (h *ConversationHandler) MarkMessageSeen(c *gin.Context) {
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}

	if err := h.messenger.MarkSeen(c.Request.Context(), c.GetInt("userID"), messageID); err != nil {
		respondError(c, h.log, err, "failed to mark message seen")
		return
	}
	respond(c, http.StatusOK, nil)
}

// DeleteMessage hard-deletes a message. Sender only.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}

	if err := h.messenger.DeleteMessage(c.Request.Context(), c.GetInt("userID"), messageID); err != nil {
		respondError(c, h.log, err, "failed to delete message")
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "message deleted"})
}

// React toggles the caller's reaction on a message.
func (h *ConversationHandler) React(c *gin.Context) {
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "emoji is required")
		return
	}

	msg, err := h.messenger.React(c.Request.Context(), c.GetInt("userID"), messageID, req.Emoji)
	if err != nil {
		respondError(c, h.log, err, "failed to update reaction")
		return
	}
	respond(c, http.StatusOK, gin.H{"message": msg})
}
