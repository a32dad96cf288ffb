package pipeline

import (
	"encoding/base64"
	"fmt"
	"image"
	"strings"
)

const (
	svgTitle       = "Converted image"
	svgDescription = "Raster image embedded by imageconv"
)

// WrapSVG embeds PNG bytes in a minimal SVG document sized width x height.
func WrapSVG(pngData []byte, width, height int) []byte {
	encoded := base64.StdEncoding.EncodeToString(pngData)

	var b strings.Builder
	b.Grow(len(encoded) + 512)
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="no"?>` + "\n")
	fmt.Fprintf(&b, `<svg width="%d" height="%d" viewBox="0 0 %d %d"`+"\n", width, height, width, height)
	b.WriteString(`     xmlns="http://www.w3.org/2000/svg"` + "\n")
	b.WriteString(`     xmlns:xlink="http://www.w3.org/1999/xlink">` + "\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", svgTitle)
	fmt.Fprintf(&b, "  <desc>%s</desc>\n", svgDescription)
	fmt.Fprintf(&b, `  <image width="%d" height="%d" x="0" y="0"`+"\n", width, height)
	fmt.Fprintf(&b, `         xlink:href="data:image/png;base64,%s"/>`+"\n", encoded)
	b.WriteString("</svg>\n")
	return []byte(b.String())
}

// encodeSVG renders img as PNG in memory and wraps it.
func encodeSVG(img image.Image) ([]byte, error) {
	pngData, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return WrapSVG(pngData, b.Dx(), b.Dy()), nil
}
