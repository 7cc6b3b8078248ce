// Package rembg 封装外部的背景移除推理，把它的进度回调归一化为百分比，
// 并把返回的图片解码为带透明通道的抠图结果。
package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/imaging"
)

// 推理回调中的阶段名
const (
	PhaseFetch   = "fetch"
	PhaseCompute = "compute"
	PhasePost    = "post"
)

const (
	PercentStart = 10
	PercentEnd   = 90
	PercentDone  = 100
)

var ErrSegmentationFailed = errors.New("segmentation failed")

// SegmentationError 保留外部推理返回的原始信息
type SegmentationError struct {
	Message string
	Err     error
}

func (e *SegmentationError) Error() string {
	return "segmentation failed: " + e.Message
}

func (e *SegmentationError) Unwrap() error {
	return e.Err
}

func (e *SegmentationError) Is(target error) bool {
	return target == ErrSegmentationFailed
}

func newSegmentationError(err error) *SegmentationError {
	return &SegmentationError{Message: err.Error(), Err: err}
}

// ProgressFunc 外部推理的进度回调
type ProgressFunc func(phase string, current, total int)

// Segmenter 外部背景移除推理，输入输出都是编码后的图片
type Segmenter interface {
	Infer(ctx context.Context, src []byte, progress ProgressFunc) ([]byte, error)
}

// ProgressSink 接收归一化后的进度
type ProgressSink interface {
	Progress(percent int, message string)
}

// ProgressSinkFunc 把普通函数适配为 ProgressSink
type ProgressSinkFunc func(percent int, message string)

func (f ProgressSinkFunc) Progress(percent int, message string) {
	f(percent, message)
}

// Cutout 抠图结果，尺寸与送入推理的图片一致
type Cutout struct {
	Image  *image.NRGBA
	Width  int
	Height int
	// Subject 主体外接矩形，推理没有产生前景时为空
	Subject image.Rectangle
}

type Adapter struct {
	segmenter Segmenter
	logger    *zap.Logger
}

func NewAdapter(segmenter Segmenter, logger *zap.Logger) *Adapter {
	return &Adapter{
		segmenter: segmenter,
		logger:    logger.Named("rembg"),
	}
}

// Segment 对一张图片调用一次外部推理
func (a *Adapter) Segment(ctx context.Context, src *imaging.SourceImage, sink ProgressSink) (*Cutout, error) {
	if sink == nil {
		sink = ProgressSinkFunc(func(int, string) {})
	}
	tracker := &progressTracker{sink: sink}
	tracker.emit(PercentStart, "Loading AI model...")

	var buf bytes.Buffer
	if err := png.Encode(&buf, src.Image); err != nil {
		return nil, newSegmentationError(fmt.Errorf("encode source: %w", err))
	}

	a.logger.Debug("invoke segmenter",
		zap.String("name", src.Name),
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
		zap.Int("bytes", buf.Len()))

	out, err := a.segmenter.Infer(ctx, buf.Bytes(), tracker.report)
	if err != nil {
		a.logger.Warn("segmenter rejected", zap.Error(err))
		return nil, newSegmentationError(err)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, newSegmentationError(fmt.Errorf("decode result: %w", err))
	}

	cutout := imaging.ToNRGBA(img)
	if !HasTransparency(cutout) {
		a.logger.Warn("segmenter returned an opaque image", zap.String("name", src.Name))
	}
	tracker.emit(PercentDone, "Complete!")

	return &Cutout{
		Image:   cutout,
		Width:   cutout.Bounds().Dx(),
		Height:  cutout.Bounds().Dy(),
		Subject: SubjectBounds(cutout, subjectThreshold),
	}, nil
}

// Percent 把阶段内的 current/total 映射到 [10, 90]
func Percent(current, total int) int {
	frac := 0.0
	if total > 0 {
		frac = float64(current) / float64(total)
	}
	frac = math.Max(0, math.Min(1, frac))
	return int(math.Round(frac*80)) + PercentStart
}

// Message 阶段对应的提示文案
func Message(phase string) string {
	switch phase {
	case PhaseFetch:
		return "Loading model..."
	case PhaseCompute:
		return "Processing image..."
	case PhasePost:
		return "Finalizing..."
	default:
		return "Processing..."
	}
}

// progressTracker 保证上报的百分比不回退
type progressTracker struct {
	sink ProgressSink
	last int
}

func (t *progressTracker) report(phase string, current, total int) {
	p := min(Percent(current, total), PercentEnd)
	t.emit(p, Message(phase))
}

func (t *progressTracker) emit(percent int, message string) {
	if percent < t.last {
		percent = t.last
	}
	t.last = percent
	t.sink.Progress(percent, message)
}
