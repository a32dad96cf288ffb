package pipeline

import (
	"image"
	"iter"
	"math"
)

const (
	// adaptivePixelThreshold is the size above which JPEG quality is tuned by content.
	adaptivePixelThreshold = 2_000_000
	// sparseStridePixelThreshold switches sampling to the wider stride.
	sparseStridePixelThreshold = 10_000_000
	denseSampleStride          = 10
	sparseSampleStride         = 20
	// maxDistinctColors stops sampling once the image is known to be diverse.
	maxDistinctColors = 3000
	qualityFloor      = 75
	qualityCeiling    = 100
	diversityWeight   = 30
)

// ColorSample summarizes a strided walk over an image.
type ColorSample struct {
	Distinct int
	Samples  int
}

// Diversity is the ratio of distinct colors to samples taken.
func (s ColorSample) Diversity() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.Distinct) / float64(s.Samples)
}

// AdaptiveQuality picks a JPEG quality for img. Images at or below 2 MP keep the
// clamped request; larger ones are capped by a color-diversity estimate with a floor of 75.
func AdaptiveQuality(img image.Image, requested int) int {
	requested = ClampQuality(requested)
	pixels := pixelCount(img)
	if pixels <= adaptivePixelThreshold {
		return requested
	}

	stride := denseSampleStride
	if pixels > sparseStridePixelThreshold {
		stride = sparseSampleStride
	}
	sample := SampleColors(img, stride, maxDistinctColors)
	return qualityForDiversity(sample.Diversity(), requested)
}

func qualityForDiversity(diversity float64, requested int) int {
	candidate := int(math.Round(qualityFloor + diversity*diversityWeight))
	candidate = max(qualityFloor, min(qualityCeiling, candidate))
	return max(qualityFloor, min(requested, candidate))
}

// SampleColors walks img on a stride x stride grid and stops once limit distinct
// colors have been seen.
func SampleColors(img image.Image, stride, limit int) ColorSample {
	seen := make(map[uint32]struct{}, min(limit, 1024))
	var sample ColorSample
	for key := range sampledColors(img, stride) {
		sample.Samples++
		seen[key] = struct{}{}
		if len(seen) >= limit {
			break
		}
	}
	sample.Distinct = len(seen)
	return sample
}

// sampledColors yields the 24-bit RGB key of every stride-th pixel in row-major order.
func sampledColors(img image.Image, stride int) iter.Seq[uint32] {
	if stride < 1 {
		stride = 1
	}
	b := img.Bounds()
	return func(yield func(uint32) bool) {
		for y := b.Min.Y; y < b.Max.Y; y += stride {
			for x := b.Min.X; x < b.Max.X; x += stride {
				if !yield(colorKey(img, x, y)) {
					return
				}
			}
		}
	}
}

func colorKey(img image.Image, x, y int) uint32 {
	switch m := img.(type) {
	case *image.NRGBA:
		i := m.PixOffset(x, y)
		return uint32(m.Pix[i])<<16 | uint32(m.Pix[i+1])<<8 | uint32(m.Pix[i+2])
	case *image.RGBA:
		i := m.PixOffset(x, y)
		return uint32(m.Pix[i])<<16 | uint32(m.Pix[i+1])<<8 | uint32(m.Pix[i+2])
	default:
		r, g, b, _ := img.At(x, y).RGBA()
		return (r>>8)<<16 | (g>>8)<<8 | b>>8
	}
}
