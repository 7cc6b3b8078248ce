package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/cutout/compose"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/imaging"
	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/session"
)

// Response 成功响应
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

var errUploadTooLarge = errors.New("upload exceeds size limit")

// statusOf 把领域错误映射为 HTTP 状态码
func statusOf(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errUploadTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, imaging.ErrFileTypeRejected):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, imaging.ErrInvalidImage),
		errors.Is(err, compose.ErrInvalidBackgroundSelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrWrongPhase),
		errors.Is(err, session.ErrAbandoned):
		return http.StatusConflict
	case errors.Is(err, rembg.ErrSegmentationFailed):
		return http.StatusBadGateway
	case errors.Is(err, export.ErrExportFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(status int) string {
	switch status {
	case http.StatusNotFound:
		return "session not found"
	case http.StatusRequestEntityTooLarge:
		return "file too large"
	case http.StatusUnsupportedMediaType:
		return "please select an image file"
	case http.StatusUnprocessableEntity:
		return "invalid image or background"
	case http.StatusConflict:
		return "operation not allowed now"
	case http.StatusBadGateway:
		return "background removal failed"
	default:
		return "internal error"
	}
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Message: messageOf(status),
		Error:   err.Error(),
	})
}

func badRequest(c *gin.Context, message string, err error) {
	resp := ErrorResponse{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}
