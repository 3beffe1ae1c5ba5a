package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat/internal/ai"
	"ragchat/internal/app"
	"ragchat/internal/transport/http/response"
)

// writeServiceError maps service errors to HTTP responses. Unknown errors
// become a 500 with fallback as the message; the cause goes to the access log.
func writeServiceError(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)

	var statusErr *ai.StatusError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, app.ErrInvalidAPIKey):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidAPIKey, "invalid API key")
	case errors.Is(err, app.ErrAPIKeyRequired):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidAPIKey, err.Error())
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrUnsupportedFileType):
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFileType, err.Error())
	case errors.Is(err, app.ErrEmptyDocument):
		response.Error(c, http.StatusBadRequest, response.CodeEmptyDocument, err.Error())
	case errors.Is(err, app.ErrUnreadableDocument):
		response.Error(c, http.StatusBadRequest, response.CodeUnreadableDocument, err.Error())
	case errors.Is(err, app.ErrModelNotAllowed):
		response.Error(c, http.StatusBadRequest, response.CodeModelNotAllowed, err.Error())
	case errors.Is(err, app.ErrFileTooLarge), errors.As(err, &tooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, "file too large")
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, app.ErrIndexingFailed):
		response.Error(c, http.StatusInternalServerError, response.CodeIndexingFailed, "document indexing failed")
	case errors.As(err, &statusErr):
		response.Error(c, http.StatusBadGateway, response.CodeUpstream, "LLM provider error")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
