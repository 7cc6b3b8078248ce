package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// attachmentSaver 把导出结果作为下载附件写回响应
type attachmentSaver struct {
	c *gin.Context
}

func (a *attachmentSaver) Save(_ context.Context, data []byte, name, mimeType string) error {
	a.c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	a.c.Header("X-Filename", name)
	a.c.Data(http.StatusOK, mimeType, data)
	return nil
}
