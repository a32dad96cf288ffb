package domain

import (
	"fmt"
	"strings"
)

// Format is the closed set of conversion targets.
type Format int

const (
	FormatPNG Format = iota
	FormatJPEG
	FormatGIF
	FormatWEBP
	FormatBMP
	FormatICO
	FormatSVG
)

var allFormats = []Format{FormatPNG, FormatJPEG, FormatGIF, FormatWEBP, FormatBMP, FormatICO, FormatSVG}

// Formats returns the conversion targets in display order.
func Formats() []Format {
	out := make([]Format, len(allFormats))
	copy(out, allFormats)
	return out
}

// SupportedFormats lists target format names in display order.
func SupportedFormats() []string {
	names := make([]string, 0, len(allFormats))
	for _, f := range allFormats {
		names = append(names, f.String())
	}
	return names
}

// ParseFormat accepts a format name or file extension, case-insensitive.
func ParseFormat(in string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(in), ".")) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "gif":
		return FormatGIF, nil
	case "webp":
		return FormatWEBP, nil
	case "bmp":
		return FormatBMP, nil
	case "ico":
		return FormatICO, nil
	case "svg":
		return FormatSVG, nil
	default:
		return 0, fmt.Errorf("unsupported format: %q", in)
	}
}

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "PNG"
	case FormatJPEG:
		return "JPEG"
	case FormatGIF:
		return "GIF"
	case FormatWEBP:
		return "WEBP"
	case FormatBMP:
		return "BMP"
	case FormatICO:
		return "ICO"
	case FormatSVG:
		return "SVG"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Extension returns the file extension written for the format, without a dot.
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpg"
	case FormatGIF:
		return "gif"
	case FormatWEBP:
		return "webp"
	case FormatBMP:
		return "bmp"
	case FormatICO:
		return "ico"
	case FormatSVG:
		return "svg"
	default:
		return "bin"
	}
}

func (f Format) MIMEType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	case FormatBMP:
		return "image/bmp"
	case FormatICO:
		return "image/x-icon"
	case FormatSVG:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

func (f Format) Valid() bool {
	return f >= FormatPNG && f <= FormatSVG
}

func (f Format) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid format %d", int(f))
	}
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
