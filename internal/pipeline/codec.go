package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const defaultJPEGQuality = 90

// ClampQuality bounds q to [1,100].
func ClampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// requestedQuality resolves the caller override, falling back to def when unset.
func requestedQuality(q, def int) int {
	if q == 0 {
		return ClampQuality(def)
	}
	return ClampQuality(q)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: ClampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func encodeGIF(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, &gif.Options{NumColors: 256}); err != nil {
		return nil, fmt.Errorf("%w: gif: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func encodeBMP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: bmp: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int, lossless bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := webpEncode(&buf, img, ClampQuality(quality), lossless); err != nil {
		return nil, fmt.Errorf("%w: webp: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

func pixelCount(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}
