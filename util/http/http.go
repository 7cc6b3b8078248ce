package http

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次 HTTP 调用
//
// Body 支持 nil、io.Reader、[]byte，其余类型按 JSON 序列化。
// Response 为 *[]byte 时保存原始响应体，其余非 nil 值按 JSON 反序列化。
type RequestParam struct {
	RequestURI string
	Method     string
	Query      map[string]string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	// StatusCode 请求完成后回填
	StatusCode int
	Timeout    time.Duration
}
