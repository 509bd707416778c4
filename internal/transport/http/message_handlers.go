package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ArchiveRequest is a message the caller sent over the broker and wants kept in the
// server-side history.
type ArchiveRequest struct {
	ReceiverID int64     `json:"receiverId" binding:"required"`
	Text       string    `json:"text" binding:"required"`
	SentAt     time.Time `json:"sentAt"`
}

// MessageHandlers serves the archived conversation history. Clients archive their own
// sent messages here; the broker itself never stores anything.
type MessageHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		store: st,
		log:   logger,
	}
}

// History returns the latest messages between the caller and a peer, oldest first.
// GET /api/messages?peer=ID&limit=N
func (h *MessageHandlers) History(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	peer, ok := peerParam(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := h.store.GetMessages(c.Request.Context(), uid, peer, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Int64("peer_id", peer).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, toMessageResponse(m))
	}
	c.JSON(http.StatusOK, response)
}

// Archive stores a message sent by the caller. The sender is taken from the token, and a
// message already archived with the same sender, receiver, text and time is not stored twice.
// POST /api/messages
func (h *MessageHandlers) Archive(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ReceiverID <= 0 || strings.TrimSpace(req.Text) == "" || req.SentAt.IsZero() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "receiverId, text and sentAt are required"})
		return
	}
	ctx := c.Request.Context()
	sentAt := req.SentAt.UTC()

	dup, err := h.store.IsDuplicate(ctx, uid, req.ReceiverID, req.Text, sentAt)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("duplicate check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if dup {
		c.Status(http.StatusNoContent)
		return
	}

	msg := &store.Message{
		SenderID:   uid,
		SenderName: c.GetString(ContextKeyUsername),
		ReceiverID: req.ReceiverID,
		Body:       req.Text,
		SentAt:     sentAt,
		SenderRole: store.RoleOf(c.GetBool(ContextKeyIsAdmin)),
	}
	receiver, err := h.store.GetUserByID(ctx, req.ReceiverID)
	switch {
	case err == nil:
		msg.ReceiverName = receiver.Username
	case !errors.Is(err, store.ErrNotFound):
		h.log.Warn().Err(err).Int64("receiver_id", req.ReceiverID).Msg("receiver lookup failed")
	}

	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to archive message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

// MarkRead marks every message from a peer to the caller as read.
// POST /api/messages/read?peer=ID
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	peer, ok := peerParam(c)
	if !ok {
		return
	}

	if err := h.store.MarkRead(c.Request.Context(), peer, uid); err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Int64("peer_id", peer).Msg("failed to mark read")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func peerParam(c *gin.Context) (int64, bool) {
	peer, err := strconv.ParseInt(c.Query("peer"), 10, 64)
	if err != nil || peer <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "peer must be a positive user id"})
		return 0, false
	}
	return peer, true
}
