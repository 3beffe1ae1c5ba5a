package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"ragchat/internal/app"
	"ragchat/internal/transport/http/response"
)

type ChatHandler struct {
	chat *app.ChatService
}

type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	APIKey    string `json:"api_key" binding:"required"`
	SessionID string `json:"session_id" binding:"max=64"`
	Model     string `json:"model" binding:"omitempty,llm_model"`
}

func NewChatHandler(chat *app.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (h *ChatHandler) Chat(c *gin.Context) {
	req, ok := bindChatRequest(c)
	if !ok {
		return
	}
	result, err := h.chat.Chat(c.Request.Context(), req.input())
	if err != nil {
		writeServiceError(c, err, "chat failed")
		return
	}
	response.OK(c, result)
}

// Stream answers over server-sent events: one data event per chunk, then a
// done event with the result metadata or an error event.
func (h *ChatHandler) Stream(c *gin.Context) {
	req, ok := bindChatRequest(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	result, err := h.chat.ChatStream(c.Request.Context(), req.input(), func(chunk string) error {
		if err := writeEvent(c, "", gin.H{"content": chunk}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		_ = c.Error(err)
		if writeErr := writeEvent(c, "error", gin.H{"error": streamErrorMessage(err)}); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	if writeErr := writeEvent(c, "done", gin.H{
		"session_id": result.SessionID,
		"model":      result.Model,
		"cached":     result.Cached,
		"sources":    result.Sources,
	}); writeErr == nil {
		flusher.Flush()
	}
}

// History handles GET /chat-history/:session_id?limit=.
func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Param("session_id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	turns, err := h.chat.History(c.Request.Context(), sessionID, limit)
	if err != nil {
		writeServiceError(c, err, "get history failed")
		return
	}
	response.OK(c, gin.H{"session_id": sessionID, "turns": turns})
}

func bindChatRequest(c *gin.Context) (ChatRequest, bool) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "llm_model" {
					response.Error(c, http.StatusBadRequest, response.CodeModelNotAllowed, "model not allowed: "+fe.Value().(string))
					return req, false
				}
			}
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return req, false
	}
	return req, true
}

func (r ChatRequest) input() app.ChatInput {
	return app.ChatInput{
		Message:   r.Message,
		APIKey:    r.APIKey,
		SessionID: r.SessionID,
		Model:     r.Model,
	}
}

func writeEvent(c *gin.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := "data: " + string(data) + "\n\n"
	if event != "" {
		frame = "event: " + event + "\n" + frame
	}
	_, err = c.Writer.WriteString(frame)
	return err
}

func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, app.ErrInvalidAPIKey):
		return "invalid API key"
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty),
		errors.Is(err, app.ErrAPIKeyRequired), errors.Is(err, app.ErrModelNotAllowed):
		return err.Error()
	default:
		return "chat failed"
	}
}
