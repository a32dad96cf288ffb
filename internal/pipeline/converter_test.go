package pipeline

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/dunamismax/imageconv/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPNGToICO(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "logo.png", gradientImage(100, 100))
	c := newTestConverter(t)

	result := c.Convert(context.Background(), domain.ConversionRequest{SourcePath: src, Format: domain.FormatICO})
	require.True(t, result.Success, result.Message)
	require.NoError(t, result.Err)
	assert.True(t, strings.HasSuffix(result.FileName, ".ico"))
	assert.Equal(t, 32, result.Width)
	assert.Equal(t, 32, result.Height)
	assert.True(t, strings.HasPrefix(result.Preview, "data:image/png;base64,"))

	img, format := decodeFile(t, result.FilePath)
	assert.Equal(t, "ico", format)
	assert.Equal(t, image.Rect(0, 0, 32, 32), img.Bounds())
}

func TestConvertJPEGWithAspectResize(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "photo.png", gradientImage(400, 300))
	c := newTestConverter(t)

	result := c.Convert(context.Background(), domain.ConversionRequest{
		SourcePath: src,
		Format:     domain.FormatJPEG,
		Quality:    85,
		Resize:     &domain.ResizeSpec{Width: 80, KeepAspectRatio: true},
	})
	require.True(t, result.Success, result.Message)
	assert.Equal(t, 80, result.Width)
	assert.Equal(t, 60, result.Height)
	assert.True(t, strings.HasPrefix(result.Preview, "data:image/jpeg;base64,"))

	img, format := decodeFile(t, result.FilePath)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 80, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())
}

func TestConvertExactResize(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "wide.png", gradientImage(120, 90))
	c := newTestConverter(t)

	result := c.Convert(context.Background(), domain.ConversionRequest{
		SourcePath: src,
		Format:     domain.FormatPNG,
		Resize:     &domain.ResizeSpec{Width: 50, Height: 30},
	})
	require.True(t, result.Success, result.Message)
	assert.Equal(t, 50, result.Width)
	assert.Equal(t, 30, result.Height)

	img, _ := decodeFile(t, result.FilePath)
	assert.Equal(t, image.Rect(0, 0, 50, 30), img.Bounds())
}

func TestConvertEveryAvailableTarget(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "all.png", gradientImage(40, 30))
	c := newTestConverter(t)

	for _, format := range domain.Formats() {
		if format == domain.FormatWEBP && !webpAvailable {
			continue
		}
		result := c.Convert(context.Background(), domain.ConversionRequest{SourcePath: src, Format: format})
		require.True(t, result.Success, "%s: %s", format, result.Message)
		assert.Equal(t, "."+format.Extension(), filepath.Ext(result.FilePath), format.String())
		assert.NotEmpty(t, result.Preview, format.String())

		info, err := os.Stat(result.FilePath)
		require.NoError(t, err)
		assert.Equal(t, info.Size(), result.OutputBytes, format.String())
	}
}

func TestConvertSVGTargetEmbedsPNG(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "vector.png", gradientImage(24, 16))
	c := newTestConverter(t)

	result := c.Convert(context.Background(), domain.ConversionRequest{SourcePath: src, Format: domain.FormatSVG})
	require.True(t, result.Success, result.Message)
	assert.True(t, strings.HasPrefix(result.Preview, "data:image/png;base64,"))

	doc, err := os.ReadFile(result.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), `viewBox="0 0 24 16"`)
	assert.Contains(t, string(doc), "data:image/png;base64,")
}

func TestConvertWebP(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "small.png", gradientImage(64, 64))
	c := newTestConverter(t)

	result := c.Convert(context.Background(), domain.ConversionRequest{SourcePath: src, Format: domain.FormatWEBP})
	if !webpAvailable {
		require.False(t, result.Success)
		assert.ErrorIs(t, result.Err, ErrWebPUnavailable)
		return
	}
	require.True(t, result.Success, result.Message)
	img, format := decodeFile(t, result.FilePath)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestWebPSettings(t *testing.T) {
	cases := []struct {
		pixels, requested int
		quality           int
		lossless          bool
	}{
		{pixels: 640 * 480, requested: 50, quality: 100, lossless: true},
		{pixels: 1_000_000, requested: 0, quality: 100, lossless: true},
		{pixels: 2_000_000, requested: 0, quality: 90, lossless: false},
		{pixels: 2_000_000, requested: 60, quality: 85, lossless: false},
		{pixels: 2_000_000, requested: 95, quality: 95, lossless: false},
		{pixels: 12_000_000, requested: 40, quality: 90, lossless: false},
	}
	for _, tc := range cases {
		quality, lossless := webpSettings(tc.pixels, tc.requested)
		assert.Equal(t, tc.quality, quality, "pixels=%d requested=%d", tc.pixels, tc.requested)
		assert.Equal(t, tc.lossless, lossless, "pixels=%d requested=%d", tc.pixels, tc.requested)
	}
}

func TestConvertMissingSource(t *testing.T) {
	c := newTestConverter(t)

	result := c.Convert(context.Background(), domain.ConversionRequest{
		SourcePath: filepath.Join(t.TempDir(), "missing.png"),
		Format:     domain.FormatPNG,
	})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrNotFound)
	assert.Equal(t, "source file does not exist or is not accessible", result.Message)
	assert.Empty(t, result.FilePath)
	assert.Empty(t, result.Preview)
}

func TestSourceSizeBoundary(t *testing.T) {
	dir := t.TempDir()
	c := newTestConverter(t)

	sparse := func(name string, size int64) string {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		require.NoError(t, os.Truncate(path, size))
		return path
	}

	_, err := c.checkSource(sparse("limit.png", 100*fileMiB))
	assert.NoError(t, err, "exactly 100 MiB is accepted")

	_, err = c.checkSource(sparse("over.png", 100*fileMiB+1))
	assert.ErrorIs(t, err, ErrOversize)

	result := c.Convert(context.Background(), domain.ConversionRequest{
		SourcePath: sparse("huge.png", 150*fileMiB),
		Format:     domain.FormatJPEG,
	})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrOversize)
	assert.Contains(t, result.Message, "150.00 MB")
	assert.Contains(t, result.Message, "100 MB")
}

func TestConvertRejectsSVGSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drawing.SVG")
	require.NoError(t, os.WriteFile(path, []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`), 0o644))
	c := newTestConverter(t)

	result := c.Convert(context.Background(), domain.ConversionRequest{SourcePath: path, Format: domain.FormatPNG})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrUnsupportedInput)
	assert.Contains(t, result.Message, "SVG")
}

func TestConvertUndecodableSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("definitely not an image"), 0o644))
	c := newTestConverter(t)

	result := c.Convert(context.Background(), domain.ConversionRequest{SourcePath: path, Format: domain.FormatJPEG})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrDecode)
	assert.True(t, strings.HasPrefix(result.Message, "failed to open image:"))
	assert.Equal(t, "decode", ErrorKind(result.Err))

	entries, err := os.ReadDir(c.outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no output on failure")
}

func TestConvertCancelledContext(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "cancel.png", gradientImage(10, 10))
	c := newTestConverter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := c.Convert(ctx, domain.ConversionRequest{SourcePath: src, Format: domain.FormatPNG})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, context.Canceled)
}

func TestConvertPreviewFailureKeepsSuccess(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "degrade.png", gradientImage(20, 20))
	c := newTestConverter(t)
	c.preview = func(image.Image, domain.Format) (string, error) {
		return "", errors.Join(ErrPreview, errors.New("boom"))
	}

	result := c.Convert(context.Background(), domain.ConversionRequest{SourcePath: src, Format: domain.FormatPNG})
	require.True(t, result.Success)
	assert.Empty(t, result.Preview)
	assert.ErrorIs(t, result.Err, ErrPreview)
	assert.Contains(t, result.Message, "preview could not be generated")
	_, err := os.Stat(result.FilePath)
	assert.NoError(t, err, "output file is kept")
}

func TestOutputFileName(t *testing.T) {
	c := newTestConverter(t)
	pattern := regexp.MustCompile(`^holiday-[0-9a-f-]{36}\.jpg$`)

	first := outputFileName("/photos/holiday.png", c.newID(), domain.FormatJPEG)
	second := outputFileName("/photos/holiday.png", c.newID(), domain.FormatJPEG)
	assert.Regexp(t, pattern, first)
	assert.Regexp(t, pattern, second)
	assert.NotEqual(t, first, second)

	assert.Equal(t, "converted-x.png", outputFileName("/", "x", domain.FormatPNG))
	assert.Equal(t, "archive.tar-x.bmp", outputFileName("archive.tar.gz", "x", domain.FormatBMP))
}

func TestCompletionMessage(t *testing.T) {
	assert.Equal(t, "image converted to PNG", completionMessage(domain.FormatPNG, 1024, 512))
	assert.Equal(t, "image converted to JPEG, size reduced by 75.0%",
		completionMessage(domain.FormatJPEG, 8*fileMiB, 2*fileMiB))
	assert.Equal(t, "image converted to BMP", completionMessage(domain.FormatBMP, 6*fileMiB, 12*fileMiB))
}

func TestConvertUnknownFormat(t *testing.T) {
	c := newTestConverter(t)
	result := c.Convert(context.Background(), domain.ConversionRequest{SourcePath: "x.png", Format: domain.Format(99)})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrEncode)
}
