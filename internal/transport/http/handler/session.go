package handler

import (
	"github.com/gin-gonic/gin"

	"ragchat/internal/app"
	"ragchat/internal/transport/http/response"
)

type SessionHandler struct {
	sessions *app.SessionService
}

func NewSessionHandler(sessions *app.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Delete(c *gin.Context) {
	result, err := h.sessions.Delete(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeServiceError(c, err, "delete session failed")
		return
	}
	response.OK(c, result)
}
