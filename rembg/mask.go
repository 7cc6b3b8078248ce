package rembg

import "image"

// subjectThreshold alpha 超过该比例的像素算作主体
const subjectThreshold = 0.5

// HasTransparency 只要存在非完全不透明的像素，就认为已经抠图
func HasTransparency(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// SubjectBounds 按 alpha 通道计算主体外接矩形，没有主体时返回空矩形
func SubjectBounds(img *image.NRGBA, threshold float64) image.Rectangle {
	b := img.Bounds()
	th := uint8(threshold * 255)

	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.Pix[row+(x-b.Min.X)*4+3] <= th {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}

	if maxX < minX {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
