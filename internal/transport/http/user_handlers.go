package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/registry"
	"github.com/vovakirdan/taskchat/internal/store"
)

// UserHandlers provides HTTP handlers for presence and the admin directory.
type UserHandlers struct {
	store    store.UserStore
	registry *registry.Registry
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.UserStore, reg *registry.Registry, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store:    st,
		registry: reg,
		log:      logger,
	}
}

// Online lists live broker connections.
// GET /api/online
func (h *UserHandlers) Online(c *gin.Context) {
	conns := h.registry.ListAll()

	response := make([]ConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		response = append(response, toConnectionResponse(conn))
	}
	c.JSON(http.StatusOK, response)
}

// Admins lists admin users with their presence.
// GET /api/admins
func (h *UserHandlers) Admins(c *gin.Context) {
	admins, err := h.store.ListAdmins(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list admins")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	uid, _ := currentUserID(c)
	response := make([]UserResponse, 0, len(admins))
	for _, u := range admins {
		// admins chatting among themselves don't need to see their own entry
		if u.ID == uid {
			continue
		}
		_, online := h.registry.Lookup(u.ID)
		response = append(response, toUserResponse(u, online))
	}

	c.JSON(http.StatusOK, response)
}
