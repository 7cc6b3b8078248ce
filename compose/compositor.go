// Package compose 把抠图结果合成到所选背景上。
package compose

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

// Render 生成与抠图同尺寸的合成图：先画背景，再把抠图原样叠在左上角
func Render(cutout image.Image, bg Background) (*image.NRGBA, error) {
	if err := bg.Validate(); err != nil {
		return nil, err
	}

	b := cutout.Bounds()
	w, h := b.Dx(), b.Dy()
	surface := image.NewNRGBA(image.Rect(0, 0, w, h))

	switch bg.Kind {
	case SolidColor:
		fill(surface, bg.Color)
	case Gradient:
		fillGradient(surface, bg.Stops)
	case CustomImage:
		drawCover(surface, bg.Image)
	}

	draw.Draw(surface, surface.Bounds(), cutout, b.Min, draw.Over)
	return surface, nil
}

func fill(dst *image.NRGBA, c color.NRGBA) {
	w := dst.Bounds().Dx()
	row := dst.Pix[:w*4]
	for x := 0; x < w; x++ {
		row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = c.R, c.G, c.B, c.A
	}
	for y := 1; y < dst.Bounds().Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+w*4], row)
	}
}

// fillGradient 沿左上到右下的对角线做线性渐变
func fillGradient(dst *image.NRGBA, stops []Stop) {
	stops = sortedStops(stops)
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	fw, fh := float64(w), float64(h)
	length := fw*fw + fh*fh

	for y := 0; y < h; y++ {
		row := y * dst.Stride
		for x := 0; x < w; x++ {
			// 像素中心在对角线上的投影
			t := ((float64(x)+0.5)*fw + (float64(y)+0.5)*fh) / length
			c := gradientAt(stops, t)
			i := row + x*4
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = c.R, c.G, c.B, c.A
		}
	}
}

func sortedStops(stops []Stop) []Stop {
	out := make([]Stop, len(stops))
	copy(out, stops)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func gradientAt(stops []Stop, t float64) color.NRGBA {
	if t <= stops[0].Offset {
		return stops[0].Color
	}
	last := stops[len(stops)-1]
	if t >= last.Offset {
		return last.Color
	}
	for i := 1; i < len(stops); i++ {
		a, b := stops[i-1], stops[i]
		if t > b.Offset {
			continue
		}
		span := b.Offset - a.Offset
		if span <= 0 {
			return b.Color
		}
		return blend(a.Color, b.Color, (t-a.Offset)/span)
	}
	return last.Color
}

func blend(a, b color.NRGBA, t float64) color.NRGBA {
	ca := colorful.Color{R: float64(a.R) / 255, G: float64(a.G) / 255, B: float64(a.B) / 255}
	cb := colorful.Color{R: float64(b.R) / 255, G: float64(b.G) / 255, B: float64(b.B) / 255}
	r, g, bl := ca.BlendRgb(cb, t).Clamped().RGB255()
	alpha := math.Round(float64(a.A) + (float64(b.A)-float64(a.A))*t)
	return color.NRGBA{R: r, G: g, B: bl, A: uint8(alpha)}
}

// CoverRect 等比缩放使背景铺满 w×h，居中后超出部分被裁掉
func CoverRect(w, h, bw, bh int) image.Rectangle {
	scale := math.Max(float64(w)/float64(bw), float64(h)/float64(bh))
	sw := float64(bw) * scale
	sh := float64(bh) * scale
	x := int(math.Round((float64(w) - sw) / 2))
	y := int(math.Round((float64(h) - sh) / 2))
	return image.Rect(x, y, x+int(math.Ceil(sw)), y+int(math.Ceil(sh)))
}

func drawCover(dst *image.NRGBA, bg image.Image) {
	bb := bg.Bounds()
	r := CoverRect(dst.Bounds().Dx(), dst.Bounds().Dy(), bb.Dx(), bb.Dy())
	draw.CatmullRom.Scale(dst, r, bg, bb, draw.Src, nil)
}
