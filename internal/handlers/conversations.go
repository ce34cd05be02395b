package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"messenger-service/internal/models"
)

// Messenger is the conversation service used by the HTTP surface.
type Messenger interface {
	Sidebar(ctx context.Context, userID int) (models.Sidebar, error)
	History(ctx context.Context, userID, peerID int) ([]models.Message, error)
	Send(ctx context.Context, senderID, receiverID int, text, image string) (models.Message, error)
	MarkSeen(ctx context.Context, userID, messageID int) error
	MarkConversationSeen(ctx context.Context, userID, peerID int) (int, error)
	DeleteMessage(ctx context.Context, userID, messageID int) error
	DeleteConversation(ctx context.Context, userID, peerID int) (int, error)
	React(ctx context.Context, userID, messageID int, emoji string) (models.Message, error)
	SearchUsers(ctx context.Context, userID int, handle string) ([]models.User, error)
	ScrollPosition(ctx context.Context, userID, peerID int) (int, error)
	SaveScrollPosition(ctx context.Context, userID, peerID, position int) error
}

// ConversationHandler manages the direct-message endpoints.
type ConversationHandler struct {
	messenger Messenger
	log       zerolog.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(messenger Messenger, log zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{messenger: messenger, log: log}
}

// Register mounts every endpoint on an authenticated group.
func (h *ConversationHandler) Register(api gin.IRoutes) {
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:peer_id/messages", h.GetMessages)
	api.POST("/conversations/:peer_id/messages", h.PostMessage)
	api.PUT("/conversations/:peer_id/seen", h.MarkConversationSeen)
	api.DELETE("/conversations/:peer_id", h.DeleteConversation)
	api.GET("/conversations/:peer_id/scroll", h.GetScroll)
	api.PUT("/conversations/:peer_id/scroll", h.PutScroll)
	api.PUT("/messages/:message_id/seen", h.MarkMessageSeen)
	api.DELETE("/messages/:message_id", h.DeleteMessage)
	api.PUT("/messages/:message_id/reaction", h.React)
	api.GET("/users/search", h.SearchUsers)
}

// ListConversations returns the sidebar of the authenticated user.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	sidebar, err := h.messenger.Sidebar(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		respondError(c, h.log, err, "failed to load conversations")
		return
	}

	respond(c, http.StatusOK, gin.H{
		"users":          sidebar.Users,
		"unseenMessages": sidebar.UnseenMessages,
		"lastMessages":   sidebar.LastMessages,
		"onlineUsers":    sidebar.OnlineUsers,
	})
}

// GetMessages returns the history with a peer and marks the peer's messages seen.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	peerID, ok := intParam(c, "peer_id")
	if !ok {
		return
	}

	msgs, err := h.messenger.History(c.Request.Context(), c.GetInt("userID"), peerID)
	if err != nil {
		respondError(c, h.log, err, "failed to load messages")
		return
	}
	respond(c, http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and pushes it to the peer.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	peerID, ok := intParam(c, "peer_id")
	if !ok {
		return
	}

	var req struct {
		Text  string `json:"text"`
		Image string `json:"image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messenger.Send(c.Request.Context(), c.GetInt("userID"), peerID, req.Text, req.Image)
	if err != nil {
		respondError(c, h.log, err, "failed to send message")
		return
	}
	respond(c, http.StatusCreated, gin.H{"message": msg})
}

// MarkConversationSeen marks every message from the peer as seen.
func (h *ConversationHandler) MarkConversationSeen(c *gin.Context) {
	peerID, ok := intParam(c, "peer_id")
	if !ok {
		return
	}

	count, err := h.messenger.MarkConversationSeen(c.Request.Context(), c.GetInt("userID"), peerID)
	if err != nil {
		respondError(c, h.log, err, "failed to mark messages seen")
		return
	}
	respond(c, http.StatusOK, gin.H{"count": count})
}

// DeleteConversation removes the whole conversation for both participants.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	peerID, ok := intParam(c, "peer_id")
	if !ok {
		return
	}

	count, err := h.messenger.DeleteConversation(c.Request.Context(), c.GetInt("userID"), peerID)
	if err != nil {
		respondError(c, h.log, err, "failed to delete conversation")
		return
	}
	respond(c, http.StatusOK, gin.H{"count": count, "message": "conversation deleted"})
}

func (h *ConversationHandler) GetScroll(c *gin.Context) {
	peerID, ok := intParam(c, "peer_id")
	if !ok {
		return
	}

	offset, err := h.messenger.ScrollPosition(c.Request.Context(), c.GetInt("userID"), peerID)
	if err != nil {
		respondError(c, h.log, err, "failed to load scroll position")
		return
	}
	respond(c, http.StatusOK, gin.H{"offset": offset})
}

func (h *ConversationHandler) PutScroll(c *gin.Context) {
	peerID, ok := intParam(c, "peer_id")
	if !ok {
		return
	}

	var req struct {
		Offset *int `json:"offset" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "offset is required")
		return
	}

	if err := h.messenger.SaveScrollPosition(c.Request.Context(), c.GetInt("userID"), peerID, *req.Offset); err != nil {
		respondError(c, h.log, err, "failed to save scroll position")
		return
	}
	respond(c, http.StatusOK, gin.H{"offset": *req.Offset})
}

// SearchUsers finds users by handle prefix.
func (h *ConversationHandler) SearchUsers(c *gin.Context) {
	users, err := h.messenger.SearchUsers(c.Request.Context(), c.GetInt("userID"), c.Query("handle"))
	if err != nil {
		respondError(c, h.log, err, "failed to search users")
		return
	}
	respond(c, http.StatusOK, gin.H{"users": users})
}

func intParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
