package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / max(1, w-1)),
				G: uint8((y * 255) / max(1, h-1)),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

// uniqueColorImage gives every pixel a distinct 24-bit color.
func uniqueColorImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[i*4+0] = uint8(i >> 16)
		img.Pix[i*4+1] = uint8(i >> 8)
		img.Pix[i*4+2] = uint8(i)
		img.Pix[i*4+3] = 255
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "encode fixture png")
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644), "write fixture")
	return path
}

func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	return NewConverter(log.New(io.Discard, "", 0), Config{OutputDir: t.TempDir()})
}

func decodeFile(t *testing.T, path string) (image.Image, string) {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, format, err := image.Decode(f)
	require.NoError(t, err, "decode %s", path)
	return img, format
}
