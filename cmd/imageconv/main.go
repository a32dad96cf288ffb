// Command imageconv converts, inspects and previews raster images from the
// command line using the same pipeline as the worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dunamismax/imageconv/internal/config"
	"github.com/dunamismax/imageconv/internal/domain"
	"github.com/dunamismax/imageconv/internal/pipeline"
	"github.com/dunamismax/imageconv/internal/telemetry"
	"github.com/dustin/go-humanize"
)

const usage = `usage: imageconv <command> [flags]

commands:
  convert  convert one or more images to another format
  formats  list supported output formats
  info     print dimensions and color type of an image
  preview  print a data URI preview of an image
  copy     copy a file
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	logger := log.New(stderr, "[cli] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Printf("load config: %v", err)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "convert":
		err = runConvert(rest, cfg, logger, stdout, stderr)
	case "formats":
		err = runFormats(stdout)
	case "info":
		err = runInfo(rest, cfg, logger, stdout, stderr)
	case "preview":
		err = runPreview(rest, cfg, logger, stdout, stderr)
	case "copy":
		err = runCopy(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		logger.Printf("%s: %v", cmd, err)
		return 1
	}
}

var errUsage = errors.New("usage")

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func newConverter(cfg config.Config, logger *log.Logger, outputDir string) *pipeline.Converter {
	if outputDir == "" {
		outputDir = cfg.Convert.OutputDir
	}
	return pipeline.NewConverter(logger, pipeline.Config{
		OutputDir:      outputDir,
		MaxSourceBytes: cfg.Convert.MaxSourceBytes,
	})
}

func runConvert(args []string, cfg config.Config, logger *log.Logger, stdout, stderr io.Writer) error {
	fs := newFlagSet("convert", stderr)
	var (
		formatName  = fs.String("format", "", "target format (png, jpeg, gif, webp, bmp, ico, svg)")
		quality     = fs.Int("quality", 0, "quality 1-100 for lossy targets; 0 uses the default")
		width       = fs.Int("width", 0, "target width in pixels")
		height      = fs.Int("height", 0, "target height in pixels")
		keepAspect  = fs.Bool("keep-aspect", false, "fit within width x height keeping the aspect ratio")
		outputDir   = fs.String("out", "", "output directory (default from config)")
		withPreview = fs.Bool("preview", false, "include the preview data URI in JSON output")
		jsonOutput  = fs.Bool("json", false, "print results as JSON lines")
		traceTo     = fs.String("trace", "", "trace exporter: stdout or otlp")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 || *formatName == "" {
		fmt.Fprintln(stderr, "usage: imageconv convert -format FORMAT [flags] FILE...")
		fs.PrintDefaults()
		return errUsage
	}

	format, err := domain.ParseFormat(*formatName)
	if err != nil {
		return err
	}

	if *traceTo != "" {
		shutdown, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
			ServiceName:  "imageconv-cli",
			Exporter:     *traceTo,
			OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
			OTLPInsecure: cfg.Tracing.OTLPInsecure,
			Writer:       stderr,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Printf("tracing shutdown error: %v", err)
			}
		}()
	}

	if err := pipeline.Startup(); err != nil {
		return err
	}
	defer pipeline.Shutdown()

	var resize *domain.ResizeSpec
	if *width > 0 || *height > 0 {
		resize = &domain.ResizeSpec{Width: *width, Height: *height, KeepAspectRatio: *keepAspect}
	}

	conv := newConverter(cfg, logger, *outputDir)
	failed := 0
	for _, path := range fs.Args() {
		sourceSize := int64(-1)
		if info, err := os.Stat(path); err == nil {
			sourceSize = info.Size()
		}

		result := conv.Convert(context.Background(), domain.ConversionRequest{
			SourcePath: path,
			Format:     format,
			Quality:    *quality,
			Resize:     resize,
		})
		if !result.Success {
			failed++
		}
		if !*withPreview {
			result.Preview = ""
		}

		if *jsonOutput {
			if err := json.NewEncoder(stdout).Encode(result); err != nil {
				return err
			}
			continue
		}
		printResult(stdout, path, sourceSize, result)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, fs.NArg())
	}
	return nil
}

func printResult(w io.Writer, source string, sourceSize int64, result domain.ConversionResult) {
	if !result.Success {
		fmt.Fprintf(w, "FAIL %s: %s\n", source, result.Message)
		return
	}
	sizes := humanize.Bytes(uint64(result.OutputBytes))
	if sourceSize >= 0 {
		sizes = humanize.Bytes(uint64(sourceSize)) + " -> " + sizes
	}
	fmt.Fprintf(w, "OK   %s -> %s (%dx%d, %s): %s\n", source, result.FilePath, result.Width, result.Height, sizes, result.Message)
}

func runFormats(stdout io.Writer) error {
	for _, f := range domain.Formats() {
		fmt.Fprintf(stdout, "%-5s .%-4s %s\n", f, f.Extension(), f.MIMEType())
	}
	return nil
}

func runInfo(args []string, cfg config.Config, logger *log.Logger, stdout, stderr io.Writer) error {
	fs := newFlagSet("info", stderr)
	jsonOutput := fs.Bool("json", false, "print as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: imageconv info [-json] FILE")
		return errUsage
	}

	info, err := newConverter(cfg, logger, "").Inspect(fs.Arg(0))
	if err != nil {
		return err
	}
	if *jsonOutput {
		return json.NewEncoder(stdout).Encode(info)
	}
	fmt.Fprintf(stdout, "file:   %s\n", info.FilePath)
	fmt.Fprintf(stdout, "size:   %dx%d\n", info.Width, info.Height)
	fmt.Fprintf(stdout, "color:  %s\n", info.ColorType)
	fmt.Fprintf(stdout, "bytes:  %s (%s)\n", humanize.Comma(info.FileSize), humanize.IBytes(uint64(info.FileSize)))
	return nil
}

func runPreview(args []string, cfg config.Config, logger *log.Logger, stdout, stderr io.Writer) error {
	fs := newFlagSet("preview", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: imageconv preview FILE")
		return errUsage
	}

	uri, err := newConverter(cfg, logger, "").PreviewFile(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, uri)
	return nil
}

func runCopy(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("copy", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "usage: imageconv copy SRC DST")
		return errUsage
	}

	src, dst := fs.Arg(0), fs.Arg(1)
	if err := pipeline.CopyFile(src, dst); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "copied %s -> %s\n", src, dst)
	return nil
}
