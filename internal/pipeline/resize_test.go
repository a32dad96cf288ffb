package pipeline

import (
	"math"
	"testing"

	"github.com/dunamismax/imageconv/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestTargetDimensions(t *testing.T) {
	cases := []struct {
		name         string
		srcW, srcH   int
		spec         domain.ResizeSpec
		wantW, wantH int
	}{
		{"width keep aspect", 4000, 3000, domain.ResizeSpec{Width: 800, KeepAspectRatio: true}, 800, 600},
		{"height keep aspect", 4000, 3000, domain.ResizeSpec{Height: 300, KeepAspectRatio: true}, 400, 300},
		{"width only stretches", 4000, 3000, domain.ResizeSpec{Width: 800}, 800, 3000},
		{"height only stretches", 4000, 3000, domain.ResizeSpec{Height: 100}, 4000, 100},
		{"exact box", 240, 120, domain.ResizeSpec{Width: 500, Height: 300}, 500, 300},
		{"fit box landscape", 4000, 3000, domain.ResizeSpec{Width: 1000, Height: 1000, KeepAspectRatio: true}, 1000, 750},
		{"fit box upscales", 100, 50, domain.ResizeSpec{Width: 400, Height: 400, KeepAspectRatio: true}, 400, 200},
		{"rounding", 333, 777, domain.ResizeSpec{Width: 100, KeepAspectRatio: true}, 100, 233},
		{"never zero", 10000, 10, domain.ResizeSpec{Width: 5, KeepAspectRatio: true}, 5, 1},
		{"unset", 64, 32, domain.ResizeSpec{}, 64, 32},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := targetDimensions(tc.srcW, tc.srcH, tc.spec)
			assert.Equal(t, tc.wantW, w, "width")
			assert.Equal(t, tc.wantH, h, "height")
		})
	}
}

func TestTargetDimensionsKeepAspectRounding(t *testing.T) {
	for srcW := 1; srcW <= 1200; srcW += 37 {
		for srcH := 1; srcH <= 900; srcH += 41 {
			for _, width := range []int{1, 16, 250, 799, 1024} {
				_, h := targetDimensions(srcW, srcH, domain.ResizeSpec{Width: width, KeepAspectRatio: true})
				want := int(math.Round(float64(srcH) * float64(width) / float64(srcW)))
				assert.Equal(t, max(1, want), h, "src=%dx%d width=%d", srcW, srcH, width)
			}
		}
	}
}

func TestResizeWithoutDimensionsReusesBuffer(t *testing.T) {
	img := gradientImage(20, 10)

	assert.Same(t, img, Resize(img, nil))
	assert.Same(t, img, Resize(img, &domain.ResizeSpec{KeepAspectRatio: true}))
}

func TestResizeProducesRequestedBounds(t *testing.T) {
	img := gradientImage(400, 300)

	out := Resize(img, &domain.ResizeSpec{Width: 80, KeepAspectRatio: true})
	assert.Equal(t, 80, out.Bounds().Dx())
	assert.Equal(t, 60, out.Bounds().Dy())

	exact := Resize(img, &domain.ResizeSpec{Width: 50, Height: 70})
	assert.Equal(t, 50, exact.Bounds().Dx())
	assert.Equal(t, 70, exact.Bounds().Dy())

	assert.Equal(t, 400, img.Bounds().Dx(), "source must not be modified")
}

func TestScaleBy(t *testing.T) {
	out := scaleBy(gradientImage(101, 50), 0.2, previewFilter)
	assert.Equal(t, 20, out.Bounds().Dx())
	assert.Equal(t, 10, out.Bounds().Dy())

	tiny := scaleBy(gradientImage(3, 3), 0.2, previewFilter)
	assert.Equal(t, 1, tiny.Bounds().Dx())
	assert.Equal(t, 1, tiny.Bounds().Dy())
}
