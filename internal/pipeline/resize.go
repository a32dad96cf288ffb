package pipeline

import (
	"image"
	"math"

	"github.com/dunamismax/imageconv/internal/domain"
	"github.com/nfnt/resize"
)

// Filters used by the two resampling paths. User resizes get Lanczos3;
// previews trade aliasing for speed.
const (
	qualityFilter = resize.Lanczos3
	previewFilter = resize.Bilinear
)

// Resize applies spec to img. With no dimension set, img is returned as-is.
func Resize(img image.Image, spec *domain.ResizeSpec) image.Image {
	if spec.Empty() {
		return img
	}
	bounds := img.Bounds()
	w, h := targetDimensions(bounds.Dx(), bounds.Dy(), *spec)
	return resampleExact(img, w, h, qualityFilter)
}

// targetDimensions resolves the output size for a source of srcW x srcH.
func targetDimensions(srcW, srcH int, spec domain.ResizeSpec) (int, int) {
	width, height := spec.Width, spec.Height
	switch {
	case width > 0 && height > 0:
		if spec.KeepAspectRatio {
			return fitWithin(srcW, srcH, width, height)
		}
		return width, height
	case width > 0:
		if spec.KeepAspectRatio && srcW > 0 {
			return width, atLeastOne(math.Round(float64(srcH) * float64(width) / float64(srcW)))
		}
		return width, max(1, srcH)
	case height > 0:
		if spec.KeepAspectRatio && srcH > 0 {
			return atLeastOne(math.Round(float64(srcW) * float64(height) / float64(srcH))), height
		}
		return max(1, srcW), height
	default:
		return srcW, srcH
	}
}

// fitWithin scales srcW x srcH so it fits inside boxW x boxH, upscaling when the
// source is smaller than the box.
func fitWithin(srcW, srcH, boxW, boxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return max(1, boxW), max(1, boxH)
	}
	ratio := math.Min(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))
	return atLeastOne(math.Round(float64(srcW) * ratio)), atLeastOne(math.Round(float64(srcH) * ratio))
}

func scaleBy(img image.Image, factor float64, filter resize.InterpolationFunction) image.Image {
	b := img.Bounds()
	w := atLeastOne(math.Round(float64(b.Dx()) * factor))
	h := atLeastOne(math.Round(float64(b.Dy()) * factor))
	return resampleExact(img, w, h, filter)
}

func resampleExact(img image.Image, w, h int, filter resize.InterpolationFunction) image.Image {
	return resize.Resize(uint(max(1, w)), uint(max(1, h)), img, filter)
}

func atLeastOne(v float64) int {
	if v < 1 {
		return 1
	}
	return int(v)
}
