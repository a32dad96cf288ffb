//go:build !cgo

package pipeline

import (
	"image"
	"io"
)

const webpAvailable = false

func webpEncode(_ io.Writer, _ image.Image, _ int, _ bool) error {
	return ErrWebPUnavailable
}
