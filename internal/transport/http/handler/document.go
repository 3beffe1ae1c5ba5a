package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragchat/internal/app"
	"ragchat/internal/transport/http/response"
)

type DocumentHandler struct {
	documents *app.DocumentService
	maxBytes  int64
}

type DeleteDocumentRequest struct {
	FileID    uint   `json:"file_id" binding:"required,gt=0"`
	SessionID string `json:"session_id" binding:"required,max=64"`
}

func NewDocumentHandler(documents *app.DocumentService, maxBytes int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxBytes: maxBytes}
}

// Upload accepts multipart form fields file, api_key and session_id.
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, "file too large")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file is required")
		return
	}
	if h.maxBytes > 0 && fileHeader.Size > h.maxBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, "file too large")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read uploaded file failed")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeServiceError(c, err, "read uploaded file failed")
		return
	}

	result, err := h.documents.Upload(c.Request.Context(), app.UploadInput{
		SessionID: c.PostForm("session_id"),
		Filename:  fileHeader.Filename,
		Data:      data,
		APIKey:    c.PostForm("api_key"),
	})
	if err != nil {
		writeServiceError(c, err, "upload document failed")
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "session_id is required")
		return
	}
	docs, err := h.documents.List(c.Request.Context(), sessionID)
	if err != nil {
		writeServiceError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

// Delete handles DELETE /delete-doc/:file_id?session_id=.
func (h *DocumentHandler) Delete(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil || fileID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid file_id")
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "session_id is required")
		return
	}
	h.delete(c, sessionID, uint(fileID))
}

// DeleteJSON handles POST /delete-doc with a JSON body.
func (h *DocumentHandler) DeleteJSON(c *gin.Context) {
	var req DeleteDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	h.delete(c, req.SessionID, req.FileID)
}

func (h *DocumentHandler) delete(c *gin.Context, sessionID string, fileID uint) {
	if err := h.documents.Delete(c.Request.Context(), sessionID, fileID); err != nil {
		writeServiceError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{
		"file_id": fileID,
		"status":  "deleted",
		"message": fmt.Sprintf("Successfully deleted document with file_id %d from the system.", fileID),
	})
}
