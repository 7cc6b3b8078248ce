// Package session 管理一次抠图会话的状态：上传 -> 处理中 -> 结果。
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/compose"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/imaging"
	"github.com/chaos-io/cutout/rembg"
)

var (
	ErrBusy       = errors.New("session is busy processing another image")
	ErrWrongPhase = errors.New("operation not allowed in current phase")
	ErrNotFound   = errors.New("session not found")
	// ErrAbandoned 处理期间会话被重置，结果已丢弃
	ErrAbandoned = errors.New("pipeline abandoned by reset")
)

type Deps struct {
	Loader   *imaging.Loader
	Adapter  *rembg.Adapter
	Exporter *export.Exporter
	Logger   *zap.Logger
}

type Session struct {
	id       string
	loader   *imaging.Loader
	adapter  *rembg.Adapter
	exporter *export.Exporter
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	phase       Phase
	source      *imaging.SourceImage
	cutout      *rembg.Cutout
	background  compose.Background
	customImage image.Image
	surface     *image.NRGBA
	exportOpts  export.Options
	progress    Progress
	lastErr     error
	// generation 每次开始处理或重置时递增，用于丢弃过期的流水线结果
	generation uint64
	inflight   bool
	touched    time.Time
}

func New(id string, deps Deps) *Session {
	s := &Session{
		id:         id,
		loader:     deps.Loader,
		adapter:    deps.Adapter,
		exporter:   deps.Exporter,
		logger:     deps.Logger.Named("session").With(zap.String("session_id", id)),
		now:        time.Now,
		phase:      Upload,
		background: compose.NewTransparent(),
		exportOpts: export.DefaultOptions(),
		progress:   initialProgress,
	}
	s.touched = s.now()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Busy 处理中，或被重置的流水线尚未返回
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == Processing || s.inflight
}

func (s *Session) Touched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// SelectFile 同步执行 加载 -> 分割 -> 首次合成
func (s *Session) SelectFile(ctx context.Context, f imaging.File) error {
	gen, err := s.begin(f)
	if err != nil {
		return err
	}
	return s.run(ctx, gen, f)
}

// StartFile 同步完成校验和状态切换，流水线在后台运行，结果写入返回的 channel
func (s *Session) StartFile(ctx context.Context, f imaging.File) (<-chan error, error) {
	gen, err := s.begin(f)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- s.run(ctx, gen, f)
		close(done)
	}()
	return done, nil
}

func (s *Session) begin(f imaging.File) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()

	if s.phase == Processing || s.inflight {
		s.logger.Warn("file selected while busy, ignored", zap.String("file", f.Name))
		return 0, ErrBusy
	}
	if s.phase != Upload {
		return 0, fmt.Errorf("%w: select file in %s", ErrWrongPhase, s.phase)
	}
	if err := imaging.CheckType(f); err != nil {
		s.lastErr = err
		return 0, err
	}

	s.generation++
	s.inflight = true
	s.phase = Processing
	s.progress = initialProgress
	s.lastErr = nil
	s.discardLocked()

	s.logger.Info("processing started",
		zap.String("file", f.Name),
		zap.Int64("size", f.Size),
		zap.Uint64("generation", s.generation))
	return s.generation, nil
}

func (s *Session) run(ctx context.Context, gen uint64, f imaging.File) error {
	defer func() {
		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()
	}()

	src, err := s.loader.Load(f)
	if err != nil {
		return s.fail(gen, err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrAbandoned
	}
	s.source = src
	s.mu.Unlock()

	if src.Resized() {
		s.logger.Info("image resized",
			zap.Int("from_width", src.OriginalWidth),
			zap.Int("from_height", src.OriginalHeight),
			zap.Int("width", src.Width),
			zap.Int("height", src.Height))
	}

	cutout, err := s.adapter.Segment(ctx, src, &progressSink{s: s, gen: gen})
	if err != nil {
		return s.fail(gen, err)
	}

	bg := compose.NewTransparent()
	surface, err := compose.Render(cutout.Image, bg)
	if err != nil {
		return s.fail(gen, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Info("discarding result of abandoned pipeline", zap.Uint64("generation", gen))
		return ErrAbandoned
	}
	s.cutout = cutout
	s.background = bg
	s.surface = surface
	s.phase = Result
	s.progress = Progress{}
	s.touched = s.now()

	s.logger.Info("processing finished", zap.Int("width", cutout.Width), zap.Int("height", cutout.Height))
	return nil
}

// fail 回到上传阶段并丢弃中间状态
func (s *Session) fail(gen uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return ErrAbandoned
	}

	s.logger.Error("processing failed", zap.Error(err))
	s.phase = Upload
	s.progress = initialProgress
	s.lastErr = err
	s.discardLocked()
	return err
}

func (s *Session) discardLocked() {
	s.source = nil
	s.cutout = nil
	s.surface = nil
}

// progressSink 只接受当前代次、处理中阶段的进度
type progressSink struct {
	s   *Session
	gen uint64
}

func (p *progressSink) Progress(percent int, message string) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.gen != p.s.generation || p.s.phase != Processing {
		return
	}
	if percent < p.s.progress.Percent {
		return
	}
	p.s.progress = Progress{Percent: percent, Message: message}
}

// SetBackground 重新合成，失败时保持原背景
//
// CustomImage 未附带位图时使用已加载的自定义背景
func (s *Session) SetBackground(bg compose.Background) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()

	if s.phase != Result {
		return fmt.Errorf("%w: change background in %s", ErrWrongPhase, s.phase)
	}
	if bg.Kind == compose.CustomImage && bg.Image == nil {
		bg.Image = s.customImage
	}
	return s.renderLocked(bg)
}

// SelectBackground 按名称选择背景，例如 white、gradient、#ff0000、custom-image
func (s *Session) SelectBackground(name string) error {
	bg, err := compose.ParseBackground(name)
	if err != nil {
		return err
	}
	return s.SetBackground(bg)
}

func (s *Session) renderLocked(bg compose.Background) error {
	surface, err := compose.Render(s.cutout.Image, bg)
	if err != nil {
		s.logger.Warn("background rejected", zap.String("background", bg.Name()), zap.Error(err))
		return err
	}
	s.background = bg
	s.surface = surface
	return nil
}

// LoadCustomBackground 解码自定义背景并立即选中
func (s *Session) LoadCustomBackground(f imaging.File) error {
	s.mu.Lock()
	if s.phase != Result {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: load background in %s", ErrWrongPhase, phase)
	}
	gen := s.generation
	s.mu.Unlock()

	img, err := s.loader.Decode(f)
	if err != nil {
		s.logger.Warn("custom background rejected", zap.String("file", f.Name), zap.Error(err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()
	if gen != s.generation || s.phase != Result {
		return ErrAbandoned
	}
	if err := s.renderLocked(compose.NewCustomImage(img)); err != nil {
		return err
	}
	s.customImage = img
	return nil
}

func (s *Session) SetExportOptions(opts export.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()
	if s.phase != Result {
		return fmt.Errorf("%w: change format in %s", ErrWrongPhase, s.phase)
	}
	s.exportOpts = opts
	return nil
}

// Export 编码当前合成图并交给 saver，返回文件名
func (s *Session) Export(ctx context.Context, saver export.Saver, override *export.Options) (string, error) {
	if saver == nil {
		return "", errors.New("nil saver")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()

	if s.phase != Result {
		return "", fmt.Errorf("%w: export in %s", ErrWrongPhase, s.phase)
	}
	opts := s.exportOpts
	if override != nil {
		opts = *override
	}

	name, err := s.exporter.Export(ctx, s.surface, s.source.Name, opts, saver)
	if err != nil {
		s.logger.Error("export failed", zap.Error(err))
		return "", err
	}
	return name, nil
}

// Preview 当前合成图的无损编码
func (s *Session) Preview() (*export.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Result {
		return nil, fmt.Errorf("%w: preview in %s", ErrWrongPhase, s.phase)
	}
	return export.Encode(s.surface, export.Options{Format: export.Lossless})
}

// Reset 回到上传阶段，释放所有位图并恢复默认设置
//
// 处理中的推理不会被取消，返回时结果被丢弃
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()

	if s.phase == Processing {
		s.logger.Info("reset while processing, in-flight result will be discarded")
	}
	s.generation++
	s.phase = Upload
	s.discardLocked()
	s.customImage = nil
	s.background = compose.NewTransparent()
	s.exportOpts = export.DefaultOptions()
	s.progress = initialProgress
	s.lastErr = nil
}
