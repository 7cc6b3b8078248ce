// Package server 通过 HTTP 暴露抠图会话
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/session"
)

const defaultMaxUploadSize = 50 << 20

type Options struct {
	Mode          string
	MaxUploadSize int64
	Version       string
}

type Server struct {
	store     *session.Store
	maxUpload int64
	version   string
	logger    *zap.Logger
	engine    *gin.Engine
}

func New(store *session.Store, opts Options, logger *zap.Logger) *Server {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = defaultMaxUploadSize
	}

	s := &Server{
		store:     store,
		maxUpload: opts.MaxUploadSize,
		version:   opts.Version,
		logger:    logger.Named("server"),
	}

	r := gin.New()
	r.MaxMultipartMemory = opts.MaxUploadSize
	r.Use(gin.Recovery())
	r.Use(Logger(s.logger))
	s.registerRoutes(r)
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  s.version,
			"sessions": s.store.Len(),
		})
	})

	api := r.Group("/api/v1/sessions")
	{
		api.POST("", s.createSession)
		api.GET("/:id", s.getSession)
		api.DELETE("/:id", s.deleteSession)
		api.POST("/:id/image", s.uploadImage)
		api.PUT("/:id/background", s.setBackground)
		api.POST("/:id/background/image", s.uploadBackground)
		api.PUT("/:id/format", s.setFormat)
		api.GET("/:id/preview", s.preview)
		api.POST("/:id/export", s.export)
		api.POST("/:id/reset", s.reset)
	}
}

// Serve 启动服务，收到 SIGINT/SIGTERM 后优雅退出
func Serve(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return ServeWithOptions(server, shutdownTimeout, logger, nil, nil)
}

// ServeWithOptions listener 为空时监听 server.Addr，signalCh 为空时监听系统信号
func ServeWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
