package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"messenger-service/internal/repositories"
	"messenger-service/internal/service"
)

func respond(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = status < http.StatusBadRequest
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// respondError maps service and repository errors to a status and a reason.
func respondError(c *gin.Context, log zerolog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		fail(c, http.StatusForbidden, "not allowed")
	case errors.Is(err, repositories.ErrMessageNotFound):
		fail(c, http.StatusNotFound, "message not found")
	case errors.Is(err, repositories.ErrUserNotFound):
		fail(c, http.StatusNotFound, "user not found")
	default:
		log.Error().Err(err).Str("route", c.FullPath()).Int("user_id", c.GetInt("userID")).Msg(fallback)
		fail(c, http.StatusInternalServerError, fallback)
	}
}
