package response

import "github.com/gin-gonic/gin"

const (
	CodeBadRequest          = 40000
	CodeInvalidAPIKey       = 40001
	CodeUnsupportedFileType = 40002
	CodeEmptyDocument       = 40003
	CodeModelNotAllowed     = 40004
	CodeUnreadableDocument  = 40005
	CodeDocumentNotFound    = 40401
	CodeFileTooLarge        = 41300
	CodeInternalServer      = 50000
	CodeIndexingFailed      = 50001
	CodeUpstream            = 50200
	CodeCacheDisabled       = 50300
)

type ErrorBody struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// OK writes data as the bare JSON body.
func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.AbortWithStatusJSON(httpStatus, ErrorBody{
		Code:  code,
		Error: message,
	})
}
