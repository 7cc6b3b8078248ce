// Package export 把合成结果编码为 PNG/JPEG 并交给保存端。
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrExportFailed = errors.New("export failed")

type Format string

const (
	Lossless Format = "lossless"
	Lossy    Format = "lossy"
)

// DefaultQuality 与浏览器 canvas 的默认 JPEG 质量一致
const DefaultQuality = 0.92

// ParseFormat 接受 lossless/png 与 lossy/jpg/jpeg
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lossless", "png":
		return Lossless, nil
	case "lossy", "jpg", "jpeg":
		return Lossy, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

func (f Format) Ext() string {
	if f == Lossy {
		return "jpg"
	}
	return "png"
}

func (f Format) MIMEType() string {
	if f == Lossy {
		return "image/jpeg"
	}
	return "image/png"
}

type Options struct {
	Format Format `json:"format"`
	// Quality 仅对 lossy 生效，取值 [0, 1]
	Quality float64 `json:"quality"`
}

func DefaultOptions() Options {
	return Options{Format: Lossless, Quality: DefaultQuality}
}

func (o Options) Validate() error {
	if o.Format != Lossless && o.Format != Lossy {
		return fmt.Errorf("unknown export format %q", o.Format)
	}
	if o.Quality < 0 || o.Quality > 1 || math.IsNaN(o.Quality) {
		return fmt.Errorf("quality %v out of range [0, 1]", o.Quality)
	}
	return nil
}

// JPEGQuality 把 [0, 1] 映射到 jpeg 的 [1, 100]
func (o Options) JPEGQuality() int {
	q := int(math.Round(o.Quality * 100))
	return max(1, min(100, q))
}

// Artifact 编码后的导出结果
type Artifact struct {
	Data     []byte
	MIMEType string
	Ext      string
}

// Encode 编码合成图，lossy 时透明像素按黑色铺底
func Encode(surface image.Image, opts Options) (*Artifact, error) {
	if surface == nil || surface.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty surface", ErrExportFailed)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	var buf bytes.Buffer
	switch opts.Format {
	case Lossy:
		if err := jpeg.Encode(&buf, flatten(surface), &jpeg.Options{Quality: opts.JPEGQuality()}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
		}
	default:
		if err := png.Encode(&buf, surface); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
		}
	}

	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no data", ErrExportFailed)
	}

	return &Artifact{
		Data:     buf.Bytes(),
		MIMEType: opts.Format.MIMEType(),
		Ext:      opts.Format.Ext(),
	}, nil
}

func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// FileName 生成 <原文件名去扩展名>-no-bg.<ext>，没有原文件名时使用时间戳
func FileName(original string, format Format, now time.Time) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "cutout-" + now.Format("20060102-150405")
	}
	return base + "-no-bg." + format.Ext()
}

// Saver 由平台实现的保存动作
type Saver interface {
	Save(ctx context.Context, data []byte, name, mimeType string) error
}

type SaverFunc func(ctx context.Context, data []byte, name, mimeType string) error

func (f SaverFunc) Save(ctx context.Context, data []byte, name, mimeType string) error {
	return f(ctx, data, name, mimeType)
}

type Exporter struct {
	now    func() time.Time
	logger *zap.Logger
}

func NewExporter(logger *zap.Logger) *Exporter {
	return &Exporter{now: time.Now, logger: logger.Named("export")}
}

// Export 编码并保存，返回使用的文件名
func (e *Exporter) Export(ctx context.Context, surface image.Image, original string, opts Options, saver Saver) (string, error) {
	artifact, err := Encode(surface, opts)
	if err != nil {
		return "", err
	}

	name := FileName(original, opts.Format, e.now())
	if err := saver.Save(ctx, artifact.Data, name, artifact.MIMEType); err != nil {
		return "", fmt.Errorf("%w: save %s: %v", ErrExportFailed, name, err)
	}

	e.logger.Info("exported",
		zap.String("file", name),
		zap.String("format", string(opts.Format)),
		zap.Int("bytes", len(artifact.Data)))
	return name, nil
}
