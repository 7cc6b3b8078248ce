// Package imaging 负责把上传的原始文件解码成位图，并在需要时缩小尺寸。
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 2000
	DefaultMaxBytes     = 10 * 1024 * 1024
)

var (
	ErrFileTypeRejected = errors.New("file type rejected")
	ErrInvalidImage     = errors.New("invalid image")
)

// File 由上传入口交付的原始文件
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Data     []byte
}

// SourceImage 解码（必要时缩放）后的输入图片
type SourceImage struct {
	Image  *image.NRGBA
	Width  int
	Height int
	Name   string
	Size   int64

	// 缩放前的尺寸
	OriginalWidth  int
	OriginalHeight int
}

// Resized 是否经过缩放
func (s *SourceImage) Resized() bool {
	return s.Width != s.OriginalWidth || s.Height != s.OriginalHeight
}

// DetectType 返回文件的 MIME，声明为空时按内容识别
func DetectType(f File) string {
	if f.MIMEType != "" {
		return f.MIMEType
	}
	return mimetype.Detect(f.Data).String()
}

// CheckType 只接受 image/ 开头的 MIME
func CheckType(f File) error {
	mime := DetectType(f)
	if !strings.HasPrefix(strings.ToLower(mime), "image/") {
		return fmt.Errorf("%w: %q is not an image", ErrFileTypeRejected, mime)
	}
	return nil
}

type Loader struct {
	MaxDimension int
	MaxBytes     int64
}

func NewLoader() *Loader {
	return &Loader{
		MaxDimension: DefaultMaxDimension,
		MaxBytes:     DefaultMaxBytes,
	}
}

// Load 校验类型、解码，超过阈值时把长边缩放到 MaxDimension
func (l *Loader) Load(f File) (*SourceImage, error) {
	img, err := l.Decode(f)
	if err != nil {
		return nil, err
	}

	size := f.Size
	if size <= 0 {
		size = int64(len(f.Data))
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	src := &SourceImage{
		Image:          img,
		Width:          w,
		Height:         h,
		Name:           f.Name,
		Size:           size,
		OriginalWidth:  w,
		OriginalHeight: h,
	}

	if l.needsResize(w, h, size) {
		src.Image = resizeLongEdge(img, l.MaxDimension)
		src.Width = src.Image.Bounds().Dx()
		src.Height = src.Image.Bounds().Dy()
	}

	return src, nil
}

// Decode 校验类型并解码，不做缩放
func (l *Loader) Decode(f File) (*image.NRGBA, error) {
	if err := CheckType(f); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty bounds", ErrInvalidImage)
	}

	return ToNRGBA(img), nil
}

func (l *Loader) needsResize(w, h int, size int64) bool {
	if l.MaxDimension <= 0 {
		return false
	}
	if w > l.MaxDimension || h > l.MaxDimension {
		return true
	}
	return l.MaxBytes > 0 && size > l.MaxBytes
}

// ToNRGBA 转为原点在 (0,0) 的 NRGBA
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
