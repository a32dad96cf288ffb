package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/dunamismax/imageconv/internal/domain"
)

// Inspect reports dimensions and color layout without decoding pixel data.
func (c *Converter) Inspect(path string) (domain.ImageInfo, error) {
	info, err := c.checkSource(path)
	if err != nil {
		return domain.ImageInfo{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.ImageInfo{}, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return domain.ImageInfo{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return domain.ImageInfo{
		Width:     cfg.Width,
		Height:    cfg.Height,
		ColorType: describeColorModel(cfg.ColorModel),
		FileSize:  info.Size(),
		FilePath:  path,
	}, nil
}

func describeColorModel(m color.Model) string {
	if palette, ok := m.(color.Palette); ok {
		for _, c := range palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return "8-bit indexed + alpha"
			}
		}
		return "8-bit indexed"
	}

	switch m {
	case color.GrayModel:
		return "8-bit grayscale"
	case color.Gray16Model:
		return "16-bit grayscale"
	case color.AlphaModel:
		return "8-bit alpha"
	case color.Alpha16Model:
		return "16-bit alpha"
	case color.YCbCrModel, color.RGBAModel:
		// Decoders report opaque truecolor (PNG without alpha, 24-bit BMP) as RGBA.
		return "8-bit RGB"
	case color.RGBA64Model:
		return "16-bit RGB"
	case color.NRGBAModel, color.NYCbCrAModel:
		return "8-bit RGBA"
	case color.NRGBA64Model:
		return "16-bit RGBA"
	case color.CMYKModel:
		return "8-bit CMYK"
	default:
		return "unknown"
	}
}

// PreviewFile builds a data URI for an existing image file. Scaling and quality
// are chosen from the file's byte size rather than its pixel count.
func (c *Converter) PreviewFile(path string) (string, error) {
	info, err := c.checkSource(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	tier := filePreviewPlan(info.Size())
	scaled := tier.scale < 1
	if scaled {
		img = scaleBy(img, tier.scale, previewFilter)
	}

	source, err := domain.ParseFormat(filepath.Ext(path))
	if err != nil {
		source = domain.FormatJPEG
	}
	codec := filePreviewCodec(source, scaled)
	encoded, err := encodePreview(img, codec, tier.quality)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPreview, err)
	}
	return dataURI(codec.MIMEType(), encoded), nil
}

// CopyFile duplicates src to dst, replacing dst if it exists.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return fmt.Errorf("%w: open %s: %v", ErrIO, src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: copy to %s: %v", ErrIO, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, dst, err)
	}
	return nil
}
