package pipeline

import (
	"encoding/base64"
	"fmt"
	"image"

	"github.com/dunamismax/imageconv/internal/domain"
)

const (
	previewHugePixels      = 10_000_000
	previewLargePixels     = 4_000_000
	previewHugeScale       = 0.2
	previewLargeScale      = 0.3
	previewMaxSide         = 1200
	previewLossyThreshold  = 2_000_000
	previewLossyLowQuality = 60
	previewLossyQuality    = 75
	previewPNGPixelLimit   = 1_000_000

	fileMiB                 = 1 << 20
	filePreviewLargeBytes   = 5 * fileMiB
	filePreviewHugeBytes    = 20 * fileMiB
	filePreviewQuality      = 85
	filePreviewLargeQuality = 70
	filePreviewHugeQuality  = 60
	filePreviewLargeScale   = 0.3
	filePreviewHugeScale    = 0.2
)

// Preview renders a bounded rendition of the saved image as a data URI. The
// codec depends on the conversion target and on the saved image's pixel count.
func Preview(saved image.Image, target domain.Format) (string, error) {
	pixels := pixelCount(saved)
	codec, quality := previewCodec(target, pixels)
	data, err := encodePreview(previewBaseline(saved), codec, quality)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPreview, err)
	}
	return dataURI(codec.MIMEType(), data), nil
}

// previewBaseline downscales by pixel-count tier. The input is never modified.
func previewBaseline(img image.Image) image.Image {
	b := img.Bounds()
	pixels := b.Dx() * b.Dy()
	switch {
	case pixels > previewHugePixels:
		return scaleBy(img, previewHugeScale, previewFilter)
	case pixels > previewLargePixels:
		return scaleBy(img, previewLargeScale, previewFilter)
	case b.Dx() > previewMaxSide || b.Dy() > previewMaxSide:
		w, h := fitWithin(b.Dx(), b.Dy(), previewMaxSide, previewMaxSide)
		return resampleExact(img, w, h, previewFilter)
	default:
		return img
	}
}

// previewCodec picks the preview encoding for a conversion target.
func previewCodec(target domain.Format, pixels int) (domain.Format, int) {
	lossyQuality := previewLossyQuality
	if pixels > previewLossyThreshold {
		lossyQuality = previewLossyLowQuality
	}

	switch target {
	case domain.FormatPNG:
		if pixels > previewPNGPixelLimit {
			return domain.FormatJPEG, lossyQuality
		}
		return domain.FormatPNG, 0
	case domain.FormatICO, domain.FormatSVG:
		return domain.FormatPNG, 0
	case domain.FormatGIF:
		return domain.FormatGIF, 0
	case domain.FormatJPEG, domain.FormatBMP, domain.FormatWEBP:
		return domain.FormatJPEG, lossyQuality
	default:
		return domain.FormatJPEG, lossyQuality
	}
}

func encodePreview(img image.Image, codec domain.Format, quality int) ([]byte, error) {
	switch codec {
	case domain.FormatJPEG:
		return encodeJPEG(img, quality)
	case domain.FormatGIF:
		return encodeGIF(img)
	default:
		return encodePNG(img)
	}
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

type filePreviewTier struct {
	scale   float64
	quality int
}

// filePreviewPlan classifies an existing file by its byte size.
func filePreviewPlan(size int64) filePreviewTier {
	switch {
	case size > filePreviewHugeBytes:
		return filePreviewTier{scale: filePreviewHugeScale, quality: filePreviewHugeQuality}
	case size > filePreviewLargeBytes:
		return filePreviewTier{scale: filePreviewLargeScale, quality: filePreviewLargeQuality}
	default:
		return filePreviewTier{scale: 1, quality: filePreviewQuality}
	}
}

// filePreviewCodec maps the source format onto a displayable preview codec.
// PNG stays lossless only while the file is not being scaled down.
func filePreviewCodec(source domain.Format, scaled bool) domain.Format {
	switch source {
	case domain.FormatPNG:
		if scaled {
			return domain.FormatJPEG
		}
		return domain.FormatPNG
	case domain.FormatICO, domain.FormatSVG:
		return domain.FormatPNG
	case domain.FormatGIF:
		return domain.FormatGIF
	default:
		return domain.FormatJPEG
	}
}
