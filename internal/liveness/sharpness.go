package liveness

import (
	"image"
	"image/color"
)

// Sharpness returns the variance of the 4-neighbour Laplacian over the
// grayscale image. Larger values mean a sharper frame. Images smaller than
// 3x3 return 0.
func Sharpness(img image.Image) float64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			gray[y*w+x] = float64(g.Y)
		}
	}

	var sum, sumSq float64
	n := float64((w - 2) * (h - 2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			lap := gray[i-w] + gray[i+w] + gray[i-1] + gray[i+1] - 4*gray[i]
			sum += lap
			sumSq += lap * lap
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}
