package domain

// ResizeSpec describes a requested geometry change. A zero dimension is unset.
type ResizeSpec struct {
	Width           int  `json:"width,omitempty"`
	Height          int  `json:"height,omitempty"`
	KeepAspectRatio bool `json:"keep_aspect_ratio"`
}

// Empty reports whether neither dimension is set.
func (r *ResizeSpec) Empty() bool {
	return r == nil || (r.Width <= 0 && r.Height <= 0)
}

// ConversionRequest is immutable once built. Quality 0 means no override.
type ConversionRequest struct {
	SourcePath string
	Format     Format
	Quality    int
	Resize     *ResizeSpec
}

type ConversionResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	FilePath    string `json:"file_path,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Preview     string `json:"preview,omitempty"`
	OutputBytes int64  `json:"output_bytes,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	ObjectKey   string `json:"object_key,omitempty"`

	// Err keeps the classified failure; it is never serialized.
	Err error `json:"-"`
}

type ImageInfo struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	ColorType string `json:"color_type"`
	FileSize  int64  `json:"file_size"`
	FilePath  string `json:"file_path"`
}

var iconSizes = [...]int{16, 32, 48, 64, 128, 256}

// SnapIconSize maps any requested side length onto the nearest supported icon size
// at or above it, capped at 256.
func SnapIconSize(size int) int {
	for _, s := range iconSizes {
		if size <= s {
			return s
		}
	}
	return iconSizes[len(iconSizes)-1]
}
