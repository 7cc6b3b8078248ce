package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/compose"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/imaging"
	"github.com/chaos-io/cutout/session"
)

// multipartOverhead 留给表单边界和字段头的余量
const multipartOverhead = 64 << 10

type backgroundRequest struct {
	// Type transparent/white/black/blue/gradient/custom-image/color
	Type  string `json:"type" binding:"required"`
	Color string `json:"color"`
}

type formatRequest struct {
	Format  string   `json:"format" binding:"required"`
	Quality *float64 `json:"quality"`
}

func (s *Server) lookup(c *gin.Context) (*session.Session, bool) {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) createSession(c *gin.Context) {
	sess := s.store.Create()
	ok(c, http.StatusCreated, sess.Status())
}

func (s *Server) getSession(c *gin.Context) {
	sess, found := s.lookup(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, sess.Status())
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.store.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// uploadImage 校验后立即返回 202，流水线在后台运行，进度通过会话状态查询
func (s *Server) uploadImage(c *gin.Context) {
	sess, found := s.lookup(c)
	if !found {
		return
	}

	f, err := s.formImage(c)
	if err != nil {
		s.failUpload(c, err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	done, err := sess.StartFile(ctx, f)
	if err != nil {
		fail(c, err)
		return
	}

	go func(id string) {
		if err := <-done; err != nil && !errors.Is(err, session.ErrAbandoned) {
			s.logger.Warn("pipeline finished with error", zap.String("session_id", id), zap.Error(err))
		}
	}(sess.ID())

	ok(c, http.StatusAccepted, sess.Status())
}

func (s *Server) setBackground(c *gin.Context) {
	sess, found := s.lookup(c)
	if !found {
		return
	}

	var req backgroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid background request", err)
		return
	}

	name := req.Type
	if req.Type == compose.SolidColor.String() {
		name = req.Color
	}
	bg, err := compose.ParseBackground(name)
	if err != nil {
		fail(c, err)
		return
	}

	if err := sess.Dispatch(c.Request.Context(), session.BackgroundChanged{Background: bg}); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sess.Status())
}

func (s *Server) uploadBackground(c *gin.Context) {
	sess, found := s.lookup(c)
	if !found {
		return
	}

	f, err := s.formImage(c)
	if err != nil {
		s.failUpload(c, err)
		return
	}

	if err := sess.Dispatch(c.Request.Context(), session.CustomBackgroundSelected{File: f}); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sess.Status())
}

func (s *Server) setFormat(c *gin.Context) {
	sess, found := s.lookup(c)
	if !found {
		return
	}

	var req formatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid format request", err)
		return
	}

	opts, err := parseOptions(req.Format, req.Quality)
	if err != nil {
		badRequest(c, "invalid export options", err)
		return
	}

	if err := sess.Dispatch(c.Request.Context(), session.FormatChanged{Options: opts}); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sess.Status())
}

func (s *Server) preview(c *gin.Context) {
	sess, found := s.lookup(c)
	if !found {
		return
	}

	artifact, err := sess.Preview()
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, artifact.MIMEType, artifact.Data)
}

// export 可以通过 query 临时覆盖导出设置，不修改会话
func (s *Server) export(c *gin.Context) {
	sess, found := s.lookup(c)
	if !found {
		return
	}

	ev := session.ExportRequested{Saver: &attachmentSaver{c: c}}
	if format, quality := c.Query("format"), c.Query("quality"); format != "" || quality != "" {
		override, err := s.overrideOptions(sess, format, quality)
		if err != nil {
			badRequest(c, "invalid export options", err)
			return
		}
		ev.Options = &override
	}

	if err := sess.Dispatch(c.Request.Context(), ev); err != nil {
		fail(c, err)
	}
}

func (s *Server) reset(c *gin.Context) {
	sess, found := s.lookup(c)
	if !found {
		return
	}

	if err := sess.Dispatch(c.Request.Context(), session.ResetRequested{}); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sess.Status())
}

func (s *Server) overrideOptions(sess *session.Session, format, quality string) (export.Options, error) {
	current := sess.ExportOptions()
	if format == "" {
		format = string(current.Format)
	}

	q := current.Quality
	if quality != "" {
		v, err := strconv.ParseFloat(quality, 64)
		if err != nil {
			return export.Options{}, fmt.Errorf("bad quality %q: %w", quality, err)
		}
		q = v
	}
	return parseOptions(format, &q)
}

func parseOptions(format string, quality *float64) (export.Options, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return export.Options{}, err
	}

	opts := export.Options{Format: f, Quality: export.DefaultQuality}
	if quality != nil {
		opts.Quality = *quality
	}
	if err := opts.Validate(); err != nil {
		return export.Options{}, err
	}
	return opts, nil
}

// formImage 读取 multipart 字段 image
func (s *Server) formImage(c *gin.Context) (imaging.File, error) {
	limit := s.maxUpload + multipartOverhead
	if c.Request.ContentLength > limit {
		return imaging.File{}, fmt.Errorf("%w: %d bytes", errUploadTooLarge, c.Request.ContentLength)
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	fh, err := c.FormFile("image")
	if err != nil {
		return imaging.File{}, err
	}
	if fh.Size > s.maxUpload {
		return imaging.File{}, fmt.Errorf("%w: %d bytes", errUploadTooLarge, fh.Size)
	}

	data, err := readPart(fh)
	if err != nil {
		return imaging.File{}, err
	}

	return imaging.File{
		Name:     fh.Filename,
		MIMEType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
		Data:     data,
	}, nil
}

func (s *Server) failUpload(c *gin.Context, err error) {
	var maxBytes *http.MaxBytesError
	if errors.Is(err, errUploadTooLarge) || errors.As(err, &maxBytes) {
		fail(c, err)
		return
	}
	badRequest(c, "image file is required", err)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}
