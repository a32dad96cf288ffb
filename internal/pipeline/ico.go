package pipeline

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/dunamismax/imageconv/internal/domain"
)

// ICO container layout. All multi-byte fields are little-endian.
//
//	offset  size  field
//	0       6     iconDir
//	6       16    iconDirEntry (exactly one)
//	22      40    bitmapInfoHeader
//	62      w*h*4 BGRA pixel rows, bottom row first
const (
	iconDirSize       = 6
	iconDirEntrySize  = 16
	bitmapHeaderSize  = 40
	icoImageOffset    = iconDirSize + iconDirEntrySize
	icoPixelOffset    = icoImageOffset + bitmapHeaderSize
	icoBitsPerPixel   = 32
	icoResourceIcon   = 1
	defaultIconSide   = 32
	maxIconEntrySide  = 256
	bytesPerIconPixel = icoBitsPerPixel / 8
)

type iconDir struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

type iconDirEntry struct {
	Width      uint8 // 0 means 256
	Height     uint8 // 0 means 256
	ColorCount uint8
	Reserved   uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	Offset     uint32
}

// bitmapInfoHeader is BITMAPINFOHEADER. Height covers the XOR and AND masks,
// so it is twice the icon height.
type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

func init() {
	image.RegisterFormat("ico", "\x00\x00\x01\x00", DecodeICO, DecodeICOConfig)
}

// iconSide resolves the icon side length from an optional resize width.
func iconSide(spec *domain.ResizeSpec) int {
	side := defaultIconSide
	if spec != nil && spec.Width > 0 {
		side = spec.Width
	}
	return domain.SnapIconSize(side)
}

// EncodeICO resamples img to side x side and wraps it as a single-entry ICO.
func EncodeICO(img image.Image, side int) ([]byte, error) {
	data, _, err := encodeICOImage(img, side)
	return data, err
}

// encodeICOImage also returns the icon bitmap that was written.
func encodeICOImage(img image.Image, side int) ([]byte, *image.NRGBA, error) {
	side = domain.SnapIconSize(side)
	scaled := toNRGBA(resampleExact(img, side, side, qualityFilter))

	dib := encodeDIB(scaled)
	w, h := scaled.Bounds().Dx(), scaled.Bounds().Dy()

	var buf bytes.Buffer
	buf.Grow(icoImageOffset + len(dib))
	if err := binary.Write(&buf, binary.LittleEndian, iconDir{Type: icoResourceIcon, Count: 1}); err != nil {
		return nil, nil, fmt.Errorf("%w: ico header: %v", ErrEncode, err)
	}
	entry := iconDirEntry{
		Width:      entryDimension(w),
		Height:     entryDimension(h),
		Planes:     1,
		BitCount:   icoBitsPerPixel,
		BytesInRes: uint32(len(dib)),
		Offset:     icoImageOffset,
	}
	if err := binary.Write(&buf, binary.LittleEndian, entry); err != nil {
		return nil, nil, fmt.Errorf("%w: ico directory: %v", ErrEncode, err)
	}
	buf.Write(dib)
	return buf.Bytes(), scaled, nil
}

// encodeDIB writes the bitmap header followed by bottom-up BGRA rows.
func encodeDIB(img *image.NRGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pixelBytes := w * h * bytesPerIconPixel

	var buf bytes.Buffer
	buf.Grow(bitmapHeaderSize + pixelBytes)
	header := bitmapInfoHeader{
		Size:      bitmapHeaderSize,
		Width:     int32(w),
		Height:    int32(h * 2),
		Planes:    1,
		BitCount:  icoBitsPerPixel,
		SizeImage: uint32(pixelBytes),
	}
	// bytes.Buffer writes cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, header)

	row := make([]byte, w*bytesPerIconPixel)
	for y := h - 1; y >= 0; y-- {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			row[x*4+0] = src[x*4+2]
			row[x*4+1] = src[x*4+1]
			row[x*4+2] = src[x*4+0]
			row[x*4+3] = src[x*4+3]
		}
		buf.Write(row)
	}
	return buf.Bytes()
}

func entryDimension(n int) uint8 {
	if n >= maxIconEntrySide {
		return 0
	}
	return uint8(n)
}

func entrySide(v uint8) int {
	if v == 0 {
		return maxIconEntrySide
	}
	return int(v)
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

var errICOFormat = errors.New("ico: invalid format")

// ICOEntry is the first directory entry of an ICO file together with its bitmap
// header, when the image is stored as a DIB rather than PNG.
type ICOEntry struct {
	Width, Height int
	BitCount      int
	Size          int
	Offset        int
	PNG           bool
	bitmap        bitmapInfoHeader
}

// ParseICO reads the directory of an ICO file and describes its first entry.
func ParseICO(data []byte) (ICOEntry, error) {
	r := bytes.NewReader(data)
	var dir iconDir
	if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
		return ICOEntry{}, fmt.Errorf("%w: header: %v", errICOFormat, err)
	}
	if dir.Reserved != 0 || dir.Type != icoResourceIcon || dir.Count == 0 {
		return ICOEntry{}, fmt.Errorf("%w: not an icon resource", errICOFormat)
	}
	var entry iconDirEntry
	if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
		return ICOEntry{}, fmt.Errorf("%w: directory: %v", errICOFormat, err)
	}

	out := ICOEntry{
		Width:    entrySide(entry.Width),
		Height:   entrySide(entry.Height),
		BitCount: int(entry.BitCount),
		Size:     int(entry.BytesInRes),
		Offset:   int(entry.Offset),
	}
	end := out.Offset + out.Size
	if out.Offset < icoImageOffset || end > len(data) || out.Size < 8 {
		return ICOEntry{}, fmt.Errorf("%w: image data out of range", errICOFormat)
	}
	payload := data[out.Offset:end]
	if bytes.HasPrefix(payload, []byte("\x89PNG\r\n\x1a\n")) {
		out.PNG = true
		return out, nil
	}
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &out.bitmap); err != nil {
		return ICOEntry{}, fmt.Errorf("%w: bitmap header: %v", errICOFormat, err)
	}
	if out.bitmap.Size != bitmapHeaderSize {
		return ICOEntry{}, fmt.Errorf("%w: bitmap header size %d", errICOFormat, out.bitmap.Size)
	}
	return out, nil
}

// DecodeICOConfig returns the dimensions of the first icon entry.
func DecodeICOConfig(r io.Reader) (image.Config, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	entry, err := ParseICO(data)
	if err != nil {
		return image.Config{}, err
	}
	if entry.PNG {
		return png.DecodeConfig(bytes.NewReader(data[entry.Offset : entry.Offset+entry.Size]))
	}
	return image.Config{ColorModel: color.NRGBAModel, Width: entry.Width, Height: entry.Height}, nil
}

// DecodeICO decodes the first entry of an ICO file. PNG entries and 32-bit
// DIB entries are supported.
func DecodeICO(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	entry, err := ParseICO(data)
	if err != nil {
		return nil, err
	}
	payload := data[entry.Offset : entry.Offset+entry.Size]
	if entry.PNG {
		return png.Decode(bytes.NewReader(payload))
	}

	bh := entry.bitmap
	if bh.BitCount != icoBitsPerPixel || bh.Compression != 0 {
		return nil, fmt.Errorf("%w: unsupported bitmap depth=%d compression=%d", errICOFormat, bh.BitCount, bh.Compression)
	}
	w, h := int(bh.Width), int(bh.Height)/2
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: bitmap dimensions %dx%d", errICOFormat, w, h)
	}
	pixels := payload[bitmapHeaderSize:]
	if len(pixels) < w*h*bytesPerIconPixel {
		return nil, fmt.Errorf("%w: truncated pixel data", errICOFormat)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		src := pixels[row*w*4 : (row+1)*w*4]
		y := h - 1 - row
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			dst[x*4+0] = src[x*4+2]
			dst[x*4+1] = src[x*4+1]
			dst[x*4+2] = src[x*4+0]
			dst[x*4+3] = src[x*4+3]
		}
	}
	return img, nil
}
