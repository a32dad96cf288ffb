//go:build cgo && !govips

package pipeline

import (
	"image"
	"io"

	"github.com/chai2010/webp"
)

const webpAvailable = true

func webpEncode(w io.Writer, img image.Image, quality int, lossless bool) error {
	return webp.Encode(w, img, &webp.Options{
		Lossless: lossless,
		Quality:  float32(quality),
	})
}
