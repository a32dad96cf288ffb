package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/imageconv/internal/domain"
	"github.com/dunamismax/imageconv/internal/id"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxSourceBytes is the ceiling on source file size (100 MiB).
	DefaultMaxSourceBytes int64 = 100 * fileMiB
	// compressionReportBytes is the source size above which the message reports savings.
	compressionReportBytes = 5 * fileMiB

	webpLossyPixelThreshold = 1_000_000
	webpHighQualityPixels   = 4_000_000
	webpHighQuality         = 90
	webpMinQuality          = 85
)

type Config struct {
	OutputDir      string
	MaxSourceBytes int64
}

// Converter runs conversion requests. It holds configuration only; every call
// owns its buffers, so a Converter is safe for concurrent use.
type Converter struct {
	logger         *log.Logger
	outputDir      string
	maxSourceBytes int64
	newID          func() string
	preview        func(image.Image, domain.Format) (string, error)
	tracer         trace.Tracer
}

func NewConverter(logger *log.Logger, cfg Config) *Converter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	outputDir := strings.TrimSpace(cfg.OutputDir)
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	maxSourceBytes := cfg.MaxSourceBytes
	if maxSourceBytes <= 0 {
		maxSourceBytes = DefaultMaxSourceBytes
	}

	return &Converter{
		logger:         logger,
		outputDir:      outputDir,
		maxSourceBytes: maxSourceBytes,
		newID:          id.New,
		preview:        Preview,
		tracer:         otel.Tracer("imageconv/pipeline"),
	}
}

// Convert never fails past its boundary: every error is folded into a result
// with Success=false, and Err keeps the classified cause.
func (c *Converter) Convert(ctx context.Context, req domain.ConversionRequest) domain.ConversionResult {
	ctx, span := c.tracer.Start(ctx, "pipeline.convert")
	span.SetAttributes(
		attribute.String("conversion.format", req.Format.String()),
		attribute.String("conversion.source", filepath.Base(req.SourcePath)),
	)
	defer span.End()

	result, err := c.convert(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
		c.logger.Printf("conversion failed source=%s format=%s kind=%s err=%v", req.SourcePath, req.Format, ErrorKind(err), err)
		return domain.ConversionResult{
			Success: false,
			Message: failureMessage(err),
			Err:     err,
		}
	}
	if result.Err != nil {
		span.SetStatus(codes.Error, ErrorKind(result.Err))
	} else {
		span.SetStatus(codes.Ok, "converted")
	}
	return result
}

func (c *Converter) convert(ctx context.Context, req domain.ConversionRequest) (domain.ConversionResult, error) {
	if !req.Format.Valid() {
		return domain.ConversionResult{}, fmt.Errorf("%w: unknown target format %d", ErrEncode, int(req.Format))
	}

	info, err := c.checkSource(req.SourcePath)
	if err != nil {
		return domain.ConversionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ConversionResult{}, err
	}

	img, err := c.decode(ctx, req.SourcePath)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	if !req.Resize.Empty() {
		_, span := c.tracer.Start(ctx, "pipeline.resize")
		img = Resize(img, req.Resize)
		span.SetAttributes(
			attribute.Int("image.width", img.Bounds().Dx()),
			attribute.Int("image.height", img.Bounds().Dy()),
		)
		span.End()
	}

	fileName := outputFileName(req.SourcePath, c.newID(), req.Format)
	outputPath := filepath.Join(c.outputDir, fileName)

	_, saveSpan := c.tracer.Start(ctx, "pipeline.save")
	data, saved, err := encodeForTarget(img, req)
	if err == nil {
		err = writeOutput(outputPath, data)
	}
	saveSpan.End()
	if err != nil {
		return domain.ConversionResult{}, err
	}

	bounds := saved.Bounds()
	result := domain.ConversionResult{
		Success:     true,
		Message:     completionMessage(req.Format, info.Size(), int64(len(data))),
		FilePath:    outputPath,
		FileName:    fileName,
		OutputBytes: int64(len(data)),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}

	_, previewSpan := c.tracer.Start(ctx, "pipeline.preview")
	preview, err := c.preview(saved, req.Format)
	previewSpan.End()
	if err != nil {
		c.logger.Printf("preview degraded file=%s err=%v", fileName, err)
		result.Message = fmt.Sprintf("image converted to %s, but the preview could not be generated: %v", req.Format, err)
		result.Err = err
		return result, nil
	}
	result.Preview = preview
	return result, nil
}

// checkSource runs the cheap rejections that precede any decode.
func (c *Converter) checkSource(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	if info.Size() > c.maxSourceBytes {
		return nil, fmt.Errorf("%w: %.2f MB exceeds the %.0f MB limit", ErrOversize, megabytes(info.Size()), megabytes(c.maxSourceBytes))
	}
	if strings.EqualFold(filepath.Ext(path), ".svg") {
		return nil, fmt.Errorf("%w: SVG sources are not supported, choose a raster image", ErrUnsupportedInput)
	}
	return info, nil
}

func (c *Converter) decode(ctx context.Context, path string) (image.Image, error) {
	_, span := c.tracer.Start(ctx, "pipeline.decode")
	defer span.End()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	span.SetAttributes(
		attribute.String("image.source_format", format),
		attribute.Int("image.width", img.Bounds().Dx()),
		attribute.Int("image.height", img.Bounds().Dy()),
	)
	return img, nil
}

// encodeForTarget produces the saved bytes and the image they represent.
func encodeForTarget(img image.Image, req domain.ConversionRequest) ([]byte, image.Image, error) {
	var (
		data []byte
		err  error
	)
	switch req.Format {
	case domain.FormatJPEG:
		data, err = encodeJPEG(img, AdaptiveQuality(img, requestedQuality(req.Quality, defaultJPEGQuality)))
	case domain.FormatPNG:
		data, err = encodePNG(img)
	case domain.FormatWEBP:
		quality, lossless := webpSettings(pixelCount(img), req.Quality)
		data, err = encodeWebP(img, quality, lossless)
	case domain.FormatGIF:
		data, err = encodeGIF(img)
	case domain.FormatBMP:
		data, err = encodeBMP(img)
	case domain.FormatICO:
		var icon *image.NRGBA
		data, icon, err = encodeICOImage(img, iconSide(req.Resize))
		if err == nil {
			return data, icon, nil
		}
	case domain.FormatSVG:
		data, err = encodeSVG(img)
	default:
		err = fmt.Errorf("%w: unsupported target %s", ErrEncode, req.Format)
	}
	if err != nil {
		return nil, nil, err
	}
	return data, img, nil
}

// webpSettings returns the WEBP quality and whether to encode losslessly.
// Images up to 1 MP are stored losslessly.
func webpSettings(pixels, requested int) (int, bool) {
	if pixels <= webpLossyPixelThreshold {
		return 100, true
	}
	if pixels > webpHighQualityPixels {
		return webpHighQuality, false
	}
	return max(requestedQuality(requested, defaultJPEGQuality), webpMinQuality), false
}

func writeOutput(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return nil
}

func outputFileName(sourcePath, uniqueID string, format domain.Format) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "converted"
	}
	return fmt.Sprintf("%s-%s.%s", stem, uniqueID, format.Extension())
}

func completionMessage(format domain.Format, inputBytes, outputBytes int64) string {
	if inputBytes > compressionReportBytes && outputBytes > 0 {
		ratio := 100 * (1 - float64(outputBytes)/float64(inputBytes))
		if ratio > 0 {
			return fmt.Sprintf("image converted to %s, size reduced by %.1f%%", format, ratio)
		}
	}
	return fmt.Sprintf("image converted to %s", format)
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "source file does not exist or is not accessible"
	case errors.Is(err, ErrOversize), errors.Is(err, ErrUnsupportedInput):
		return err.Error()
	case errors.Is(err, ErrDecode):
		return "failed to open image: " + err.Error()
	case errors.Is(err, ErrIO):
		return "file access failed: " + err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "conversion cancelled before start: " + err.Error()
	default:
		return "failed to save image: " + err.Error()
	}
}

func megabytes(n int64) float64 {
	return float64(n) / fileMiB
}
