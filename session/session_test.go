package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/compose"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/imaging"
	"github.com/chaos-io/cutout/rembg"
)

// stubSegmenter 可以在推理中途阻塞，模拟慢速模型
type stubSegmenter struct {
	err      error
	progress [][3]int
	started  chan struct{}
	release  chan struct{}
}

func (s *stubSegmenter) Infer(ctx context.Context, src []byte, progress rembg.ProgressFunc) ([]byte, error) {
	for _, p := range s.progress {
		progress(rembg.PhaseCompute, p[1], p[2])
	}
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return src, nil
}

func newTestSession(seg rembg.Segmenter) *Session {
	logger := zap.NewNop()
	return New("test", Deps{
		Loader:   imaging.NewLoader(),
		Adapter:  rembg.NewAdapter(seg, logger),
		Exporter: export.NewExporter(logger),
		Logger:   logger,
	})
}

func pngFile(t *testing.T, name string, w, h int) imaging.File {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	// 左半边不透明，右半边透明
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return imaging.File{Name: name, MIMEType: "image/png", Size: int64(buf.Len()), Data: buf.Bytes()}
}

func readySession(t *testing.T) *Session {
	t.Helper()
	s := newTestSession(&stubSegmenter{})
	require.NoError(t, s.SelectFile(context.Background(), pngFile(t, "portrait.png", 40, 30)))
	require.Equal(t, Result, s.Phase())
	return s
}

type memSaver struct {
	name, mime string
	data       []byte
}

func (m *memSaver) Save(_ context.Context, data []byte, name, mimeType string) error {
	m.data, m.name, m.mime = data, name, mimeType
	return nil
}

func TestSession_InitialState(t *testing.T) {
	s := newTestSession(&stubSegmenter{})
	st := s.Status()

	assert.Equal(t, Upload, st.Phase)
	assert.Nil(t, st.Progress)
	assert.Nil(t, st.Result)
	assert.Equal(t, "transparent", s.Background())
	assert.Equal(t, export.DefaultOptions(), st.Export)
}

func TestSession_SelectFile(t *testing.T) {
	s := readySession(t)
	st := s.Status()

	assert.Equal(t, Result, st.Phase)
	require.NotNil(t, st.Result)
	assert.Equal(t, 40, st.Result.Width)
	assert.Equal(t, 30, st.Result.Height)
	assert.Equal(t, "transparent", st.Result.Background)
	assert.Equal(t, [4]int{0, 0, 20, 30}, st.Result.Subject)
	require.NotNil(t, st.Source)
	assert.Equal(t, "portrait.png", st.Source.Name)
	assert.Nil(t, st.Progress)
	assert.Empty(t, st.Error)
}

func TestSession_SelectFile_Downscaled(t *testing.T) {
	s := newTestSession(&stubSegmenter{})
	s.loader = &imaging.Loader{MaxDimension: 50, MaxBytes: imaging.DefaultMaxBytes}

	require.NoError(t, s.SelectFile(context.Background(), pngFile(t, "wide.png", 200, 100)))

	st := s.Status()
	assert.Equal(t, 50, st.Result.Width)
	assert.Equal(t, 25, st.Result.Height)
	assert.Equal(t, 200, st.Source.OriginalWidth)
}

func TestSession_SelectFile_FileTypeRejected(t *testing.T) {
	s := newTestSession(&stubSegmenter{})
	err := s.SelectFile(context.Background(), imaging.File{Name: "a.txt", MIMEType: "text/plain", Data: []byte("hi")})

	assert.ErrorIs(t, err, imaging.ErrFileTypeRejected)
	assert.Equal(t, Upload, s.Phase())
	assert.ErrorIs(t, s.LastError(), imaging.ErrFileTypeRejected)
}

func TestSession_SelectFile_InvalidImage(t *testing.T) {
	s := newTestSession(&stubSegmenter{})
	err := s.SelectFile(context.Background(), imaging.File{Name: "a.png", MIMEType: "image/png", Data: []byte("broken")})

	assert.ErrorIs(t, err, imaging.ErrInvalidImage)
	assert.Equal(t, Upload, s.Phase())
	assert.Nil(t, s.Status().Source)
}

// 分割失败后回到上传阶段，不保留任何结果
func TestSession_SelectFile_SegmentationFailed(t *testing.T) {
	s := newTestSession(&stubSegmenter{err: errors.New("model fetch failed")})
	err := s.SelectFile(context.Background(), pngFile(t, "cat.png", 10, 10))

	require.ErrorIs(t, err, rembg.ErrSegmentationFailed)
	assert.Contains(t, err.Error(), "model fetch failed")

	st := s.Status()
	assert.Equal(t, Upload, st.Phase)
	assert.Nil(t, st.Result)
	assert.Nil(t, st.Source)
	assert.Nil(t, s.cutout)
	assert.Nil(t, s.surface)
	assert.Contains(t, st.Error, "model fetch failed")

	// 重新选择文件时清除错误
	s.adapter = rembg.NewAdapter(&stubSegmenter{}, zap.NewNop())
	require.NoError(t, s.SelectFile(context.Background(), pngFile(t, "cat.png", 10, 10)))
	assert.Empty(t, s.Status().Error)
}

func TestSession_SelectFile_WhileProcessingIsRejected(t *testing.T) {
	seg := &stubSegmenter{
		progress: [][3]int{{0, 1, 2}},
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	s := newTestSession(seg)

	done, err := s.StartFile(context.Background(), pngFile(t, "first.png", 10, 10))
	require.NoError(t, err)
	<-seg.started

	st := s.Status()
	assert.Equal(t, Processing, st.Phase)
	require.NotNil(t, st.Progress)
	assert.Equal(t, 50, st.Progress.Percent)
	assert.Equal(t, "Processing image...", st.Progress.Message)

	err = s.SelectFile(context.Background(), pngFile(t, "second.png", 10, 10))
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, s.Busy())

	close(seg.release)
	require.NoError(t, <-done)
	assert.Equal(t, Result, s.Phase())
	assert.Equal(t, "first.png", s.Status().Source.Name)
}

func TestSession_ResetWhileProcessing(t *testing.T) {
	seg := &stubSegmenter{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := newTestSession(seg)

	done, err := s.StartFile(context.Background(), pngFile(t, "slow.png", 10, 10))
	require.NoError(t, err)
	<-seg.started

	s.Reset()
	assert.Equal(t, Upload, s.Phase())
	assert.Nil(t, s.Status().Progress)

	// 被放弃的推理仍在进行
	assert.ErrorIs(t, s.SelectFile(context.Background(), pngFile(t, "next.png", 10, 10)), ErrBusy)

	close(seg.release)
	assert.ErrorIs(t, <-done, ErrAbandoned)
	assert.Equal(t, Upload, s.Phase())
	assert.Nil(t, s.cutout)
	assert.False(t, s.Busy())

	seg.started, seg.release = nil, nil
	require.NoError(t, s.SelectFile(context.Background(), pngFile(t, "next.png", 10, 10)))
	assert.Equal(t, Result, s.Phase())
}

func TestSession_SelectFile_InResultRequiresReset(t *testing.T) {
	s := readySession(t)
	err := s.SelectFile(context.Background(), pngFile(t, "other.png", 10, 10))
	assert.ErrorIs(t, err, ErrWrongPhase)
	assert.Equal(t, Result, s.Phase())
}

func TestSession_SetBackground(t *testing.T) {
	s := readySession(t)

	require.NoError(t, s.SelectBackground("gradient"))
	assert.Equal(t, "gradient", s.Background())
	first := append([]uint8(nil), s.surface.Pix...)

	require.NoError(t, s.SelectBackground("#ff0000"))
	assert.Equal(t, "#ff0000", s.Background())
	assert.Equal(t, color.NRGBA{R: 0xff, A: 0xff}, s.surface.NRGBAAt(39, 0))
	assert.Equal(t, color.NRGBA{R: 200, A: 0xff}, s.surface.NRGBAAt(0, 0))

	require.NoError(t, s.SelectBackground("gradient"))
	assert.Equal(t, first, s.surface.Pix)
	assert.Equal(t, image.Rect(0, 0, 40, 30), s.surface.Bounds())
}

// 未加载自定义背景时选择 custom-image 被拒绝，原背景保持不变
func TestSession_SetBackground_CustomWithoutImage(t *testing.T) {
	s := readySession(t)
	require.NoError(t, s.SelectBackground("blue"))
	before := append([]uint8(nil), s.surface.Pix...)

	err := s.SelectBackground("custom-image")
	assert.ErrorIs(t, err, compose.ErrInvalidBackgroundSelection)
	assert.Equal(t, "#3b82f6", s.Background())
	assert.Equal(t, before, s.surface.Pix)
	assert.Equal(t, Result, s.Phase())
}

func TestSession_SetBackground_WrongPhase(t *testing.T) {
	s := newTestSession(&stubSegmenter{})
	assert.ErrorIs(t, s.SelectBackground("white"), ErrWrongPhase)
}

func TestSession_LoadCustomBackground(t *testing.T) {
	s := readySession(t)

	require.NoError(t, s.LoadCustomBackground(pngFile(t, "beach.png", 80, 20)))
	assert.Equal(t, "custom-image", s.Background())
	assert.True(t, s.Status().HasCustomBackground)
	assert.Equal(t, image.Rect(0, 0, 40, 30), s.surface.Bounds())

	require.NoError(t, s.SelectBackground("white"))
	require.NoError(t, s.SelectBackground("custom-image"))
	assert.Equal(t, "custom-image", s.Background())
}

func TestSession_LoadCustomBackground_Invalid(t *testing.T) {
	s := readySession(t)
	err := s.LoadCustomBackground(imaging.File{Name: "bg.png", MIMEType: "image/png", Data: []byte("nope")})

	assert.ErrorIs(t, err, imaging.ErrInvalidImage)
	assert.Equal(t, Result, s.Phase())
	assert.Equal(t, "transparent", s.Background())
	assert.False(t, s.Status().HasCustomBackground)
}

// 渐变背景按质量 0.8 导出为 jpg
func TestSession_Export(t *testing.T) {
	s := readySession(t)
	require.NoError(t, s.SelectBackground("gradient"))
	require.NoError(t, s.SetExportOptions(export.Options{Format: export.Lossy, Quality: 0.8}))

	saver := &memSaver{}
	name, err := s.Export(context.Background(), saver, nil)
	require.NoError(t, err)
	assert.Equal(t, "portrait-no-bg.jpg", name)
	assert.Equal(t, "portrait-no-bg.jpg", saver.name)
	assert.Equal(t, "image/jpeg", saver.mime)
	assert.NotEmpty(t, saver.data)

	override := export.Options{Format: export.Lossless}
	name, err = s.Export(context.Background(), saver, &override)
	require.NoError(t, err)
	assert.Equal(t, "portrait-no-bg.png", name)
}

func TestSession_Export_FailureKeepsResult(t *testing.T) {
	s := readySession(t)
	failing := export.SaverFunc(func(context.Context, []byte, string, string) error {
		return errors.New("quota exceeded")
	})

	_, err := s.Export(context.Background(), failing, nil)
	assert.ErrorIs(t, err, export.ErrExportFailed)
	assert.Equal(t, Result, s.Phase())
	assert.NotNil(t, s.surface)
}

func TestSession_Export_WrongPhase(t *testing.T) {
	s := newTestSession(&stubSegmenter{})
	_, err := s.Export(context.Background(), &memSaver{}, nil)
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestSession_SetExportOptions_Invalid(t *testing.T) {
	s := readySession(t)
	assert.Error(t, s.SetExportOptions(export.Options{Format: export.Lossy, Quality: 2}))
	assert.Equal(t, export.DefaultOptions(), s.ExportOptions())
}

func TestSession_Preview(t *testing.T) {
	s := readySession(t)
	artifact, err := s.Preview()
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(artifact.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
}

// 重置后回到上传阶段，背景、导出设置和所有位图都被清空
func TestSession_Reset(t *testing.T) {
	s := readySession(t)
	require.NoError(t, s.LoadCustomBackground(pngFile(t, "bg.png", 5, 5)))
	require.NoError(t, s.SetExportOptions(export.Options{Format: export.Lossy, Quality: 0.5}))

	s.Reset()

	st := s.Status()
	assert.Equal(t, Upload, st.Phase)
	assert.Equal(t, "transparent", s.Background())
	assert.Equal(t, export.DefaultOptions(), st.Export)
	assert.False(t, st.HasCustomBackground)
	assert.Nil(t, s.source)
	assert.Nil(t, s.cutout)
	assert.Nil(t, s.surface)
	assert.Nil(t, s.customImage)
	assert.Equal(t, initialProgress, s.progress)
}

func TestSession_Dispatch(t *testing.T) {
	s := newTestSession(&stubSegmenter{})
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, FileSelected{File: pngFile(t, "dog.png", 12, 8)}))
	require.NoError(t, s.Dispatch(ctx, BackgroundChanged{Background: compose.NewSolid(compose.White)}))
	require.NoError(t, s.Dispatch(ctx, CustomBackgroundSelected{File: pngFile(t, "bg.png", 3, 3)}))
	require.NoError(t, s.Dispatch(ctx, FormatChanged{Options: export.Options{Format: export.Lossy, Quality: 1}}))

	saver := &memSaver{}
	require.NoError(t, s.Dispatch(ctx, ExportRequested{Saver: saver}))
	assert.Equal(t, "dog-no-bg.jpg", saver.name)

	require.NoError(t, s.Dispatch(ctx, ResetRequested{}))
	assert.Equal(t, Upload, s.Phase())

	assert.Error(t, s.Dispatch(ctx, nil))
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "upload", Upload.String())
	assert.Equal(t, "processing", Processing.String())
	assert.Equal(t, "result", Result.String())
	text, err := Result.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "result", string(text))
}
