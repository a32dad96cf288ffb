//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/davidbyttow/govips/v2/vips"
)

const webpAvailable = true

// webpEncode hands the pixels to libvips through a fast PNG buffer.
func webpEncode(w io.Writer, img image.Image, quality int, lossless bool) error {
	if err := Startup(); err != nil {
		return err
	}

	var staged bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&staged, img); err != nil {
		return fmt.Errorf("stage pixels: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return fmt.Errorf("load staged pixels: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = quality
	params.Lossless = lossless
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
