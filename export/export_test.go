package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSurface(w, h int, opaque bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if !opaque {
				a = uint8((x * 255) / max(1, w-1))
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: a})
		}
	}
	return img
}

func toNRGBA(c color.Color) color.NRGBA {
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}

func TestEncode_LosslessRoundTrip(t *testing.T) {
	for _, opaque := range []bool{true, false} {
		surface := testSurface(48, 32, opaque)

		artifact, err := Encode(surface, Options{Format: Lossless})
		require.NoError(t, err)
		assert.Equal(t, "image/png", artifact.MIMEType)
		assert.Equal(t, "png", artifact.Ext)

		decoded, err := png.Decode(bytes.NewReader(artifact.Data))
		require.NoError(t, err)
		require.Equal(t, surface.Bounds(), decoded.Bounds())
		for y := 0; y < 32; y++ {
			for x := 0; x < 48; x++ {
				want := surface.NRGBAAt(x, y)
				got := toNRGBA(decoded.At(x, y))
				if want.A == 0 {
					assert.Equal(t, uint8(0), got.A)
					continue
				}
				require.Equal(t, want, got, "pixel %d,%d", x, y)
			}
		}
	}
}

func TestEncode_LossyMaxQuality(t *testing.T) {
	surface := testSurface(64, 64, true)

	artifact, err := Encode(surface, Options{Format: Lossy, Quality: 1})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", artifact.MIMEType)
	assert.Equal(t, "jpg", artifact.Ext)

	decoded, err := jpeg.Decode(bytes.NewReader(artifact.Data))
	require.NoError(t, err)
	require.Equal(t, surface.Bounds(), decoded.Bounds())

	var sum, n float64
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			want := surface.NRGBAAt(x, y)
			got := toNRGBA(decoded.At(x, y))
			for _, d := range []float64{
				float64(want.R) - float64(got.R),
				float64(want.G) - float64(got.G),
				float64(want.B) - float64(got.B),
			} {
				if d < 0 {
					d = -d
				}
				sum += d
				n++
			}
		}
	}
	assert.Less(t, sum/n, 3.0)
}

func TestEncode_LossyFlattensOntoBlack(t *testing.T) {
	surface := image.NewNRGBA(image.Rect(0, 0, 16, 16))

	artifact, err := Encode(surface, Options{Format: Lossy, Quality: 0.9})
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(artifact.Data))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(8, 8).RGBA()
	assert.Less(t, r>>8, uint32(4))
	assert.Less(t, g>>8, uint32(4))
	assert.Less(t, b>>8, uint32(4))
}

func TestEncode_Errors(t *testing.T) {
	_, err := Encode(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrExportFailed)

	_, err = Encode(image.NewNRGBA(image.Rect(0, 0, 0, 0)), DefaultOptions())
	assert.ErrorIs(t, err, ErrExportFailed)

	_, err = Encode(testSurface(2, 2, true), Options{Format: Lossy, Quality: 1.5})
	assert.ErrorIs(t, err, ErrExportFailed)

	_, err = Encode(testSurface(2, 2, true), Options{Format: "webp"})
	assert.ErrorIs(t, err, ErrExportFailed)
}

func TestOptions_JPEGQuality(t *testing.T) {
	assert.Equal(t, 80, Options{Quality: 0.8}.JPEGQuality())
	assert.Equal(t, 100, Options{Quality: 1}.JPEGQuality())
	assert.Equal(t, 1, Options{Quality: 0}.JPEGQuality())
	assert.Equal(t, 92, DefaultOptions().JPEGQuality())
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"": Lossless, "png": Lossless, "Lossless": Lossless,
		"jpg": Lossy, "jpeg": Lossy, "lossy": Lossy,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("gif")
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 5, 0, time.UTC)

	tests := []struct {
		original string
		format   Format
		want     string
	}{
		{"portrait.jpg", Lossless, "portrait-no-bg.png"},
		{"portrait.jpg", Lossy, "portrait-no-bg.jpg"},
		{"archive.tar.gz", Lossless, "archive.tar-no-bg.png"},
		{"noext", Lossy, "noext-no-bg.jpg"},
		{"uploads/2026/cat.webp", Lossless, "cat-no-bg.png"},
		{`C:\Users\me\dog.png`, Lossless, "dog-no-bg.png"},
		{"", Lossless, "cutout-20261014-093005-no-bg.png"},
		{".png", Lossy, "cutout-20261014-093005-no-bg.jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(tt.original, tt.format, now), tt.original)
	}
}

func TestExporter_Export(t *testing.T) {
	var gotName, gotMIME string
	var gotData []byte
	saver := SaverFunc(func(_ context.Context, data []byte, name, mimeType string) error {
		gotData, gotName, gotMIME = data, name, mimeType
		return nil
	})

	name, err := NewExporter(zap.NewNop()).Export(context.Background(), testSurface(8, 8, true), "beach.png",
		Options{Format: Lossy, Quality: 0.8}, saver)
	require.NoError(t, err)
	assert.Equal(t, "beach-no-bg.jpg", name)
	assert.Equal(t, name, gotName)
	assert.Equal(t, "image/jpeg", gotMIME)
	assert.NotEmpty(t, gotData)
}

func TestExporter_Export_SaveFails(t *testing.T) {
	saver := SaverFunc(func(context.Context, []byte, string, string) error {
		return errors.New("disk full")
	})
	_, err := NewExporter(zap.NewNop()).Export(context.Background(), testSurface(8, 8, true), "a.png", DefaultOptions(), saver)
	assert.ErrorIs(t, err, ErrExportFailed)
	assert.Contains(t, err.Error(), "disk full")
}

func TestDirSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := NewDirSaver(dir)

	require.NoError(t, s.Save(context.Background(), []byte("data"), "../escape-no-bg.png", "image/png"))
	got, err := os.ReadFile(s.Path("escape-no-bg.png"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, []byte("x"), "a.png", "image/png"), context.Canceled)
}
