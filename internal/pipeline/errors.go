package pipeline

import "errors"

var (
	// ErrNotFound indicates the source path does not exist or cannot be stat'ed.
	ErrNotFound = errors.New("source not found")
	// ErrOversize indicates the source file exceeds the size ceiling.
	ErrOversize = errors.New("source too large")
	// ErrUnsupportedInput indicates a source format that is never decoded (SVG).
	ErrUnsupportedInput = errors.New("unsupported input format")
	// ErrDecode indicates the codec rejected the source bytes.
	ErrDecode = errors.New("decode image failed")
	// ErrEncode indicates an encoder could not produce output.
	ErrEncode = errors.New("encode image failed")
	// ErrIO indicates a filesystem read or write failure.
	ErrIO = errors.New("file io failed")
	// ErrPreview indicates the preview could not be produced.
	ErrPreview = errors.New("preview failed")
	// ErrWebPUnavailable indicates the binary was built without a WEBP encoder.
	ErrWebPUnavailable = errors.New("webp encoder unavailable in this build")
)

// ErrorKind returns a short, stable label for err, suitable for metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOversize):
		return "oversize"
	case errors.Is(err, ErrUnsupportedInput):
		return "unsupported_input"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrWebPUnavailable), errors.Is(err, ErrEncode):
		return "encode"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrPreview):
		return "preview"
	default:
		return "internal"
	}
}
