package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/imageconv/internal/domain"
)

func writeFixture(t *testing.T, dir string, w, h int) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 10, A: 255})
		}
	}
	path := filepath.Join(dir, "fixture.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return path
}

func TestRunWithoutArgs(t *testing.T) {
	t.Setenv("IMAGECONV_CONFIG", "")
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "usage: imageconv") {
		t.Fatalf("expected usage, got %q", stderr.String())
	}
}

func TestRunFormats(t *testing.T) {
	t.Setenv("IMAGECONV_CONFIG", "")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"formats"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("expected 7 formats, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "JPEG  .jpg") {
		t.Fatalf("unexpected JPEG line %q", lines[1])
	}
}

func TestRunConvertJSON(t *testing.T) {
	t.Setenv("IMAGECONV_CONFIG", "")
	dir := t.TempDir()
	src := writeFixture(t, dir, 60, 40)
	out := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{"convert", "-format", "ico", "-width", "48", "-out", out, "-json", src}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}

	var result domain.ConversionResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if !result.Success || result.Width != 48 || result.Height != 48 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Preview != "" {
		t.Fatal("expected preview to be omitted without -preview")
	}
	if filepath.Dir(result.FilePath) != out {
		t.Fatalf("expected output in %s, got %s", out, result.FilePath)
	}
}

func TestRunConvertReportsFailures(t *testing.T) {
	t.Setenv("IMAGECONV_CONFIG", "")
	var stdout, stderr bytes.Buffer
	code := run([]string{"convert", "-format", "png", "-out", t.TempDir(), filepath.Join(t.TempDir(), "missing.png")}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "FAIL ") {
		t.Fatalf("expected FAIL line, got %q", stdout.String())
	}
}

func TestRunConvertUsage(t *testing.T) {
	t.Setenv("IMAGECONV_CONFIG", "")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"convert", "some.png"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2 without -format, got %d", code)
	}
	if code := run([]string{"convert", "-format", "tiff", "some.png"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for unsupported format, got %d", code)
	}
}

func TestRunInfoAndPreview(t *testing.T) {
	t.Setenv("IMAGECONV_CONFIG", "")
	src := writeFixture(t, t.TempDir(), 12, 9)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"info", src}, &stdout, &stderr); code != 0 {
		t.Fatalf("info failed with %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "size:   12x9") {
		t.Fatalf("unexpected info output %q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"preview", src}, &stdout, &stderr); code != 0 {
		t.Fatalf("preview failed with %d: %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "data:image/png;base64,") {
		t.Fatalf("unexpected preview output %q", stdout.String())
	}
}

func TestRunCopy(t *testing.T) {
	t.Setenv("IMAGECONV_CONFIG", "")
	dir := t.TempDir()
	src := writeFixture(t, dir, 2, 2)
	dst := filepath.Join(dir, "copy.png")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"copy", src, dst}, &stdout, &stderr); code != 0 {
		t.Fatalf("copy failed with %d: %s", code, stderr.String())
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected copied file: %v", err)
	}
	if code := run([]string{"copy", src}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected usage exit 2, got %d", code)
	}
}
