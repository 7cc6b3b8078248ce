package imaging

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// FitLongEdge 计算长边等于 maxSize 时的尺寸，短边四舍五入且至少为 1
func FitLongEdge(w, h, maxSize int) (int, int) {
	if w >= h {
		return maxSize, max(1, int(math.Round(float64(h)*float64(maxSize)/float64(w))))
	}
	return max(1, int(math.Round(float64(w)*float64(maxSize)/float64(h)))), maxSize
}

func resizeLongEdge(img *image.NRGBA, maxSize int) *image.NRGBA {
	w, h := FitLongEdge(img.Bounds().Dx(), img.Bounds().Dy(), maxSize)
	if w == img.Bounds().Dx() && h == img.Bounds().Dy() {
		return img
	}
	return ToNRGBA(resize.Resize(uint(w), uint(h), img, resize.Lanczos3))
}
