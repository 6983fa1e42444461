package compressor

import "errors"

const (
	// MaxDimension is the longest side, in pixels, an output image may have.
	MaxDimension = 1920
	// MinQuality and MaxQuality bound the quality actually handed to the encoder.
	MinQuality = 10
	MaxQuality = 90
	// OutputMIMEType is the content type of every produced artifact.
	OutputMIMEType = "image/jpeg"
)

var (
	// ErrDecode is returned when the input bytes cannot be decoded as an image.
	ErrDecode = errors.New("failed to decode image")
	// ErrEncode is returned when the encoder fails or produces no output.
	ErrEncode = errors.New("failed to encode image")
)

// Result describes the encoded output of a single compression.
type Result struct {
	Data     []byte
	MIMEType string
	Size     int64
	Width    int
	Height   int
}

// Compressor defines the interface for image compression.
type Compressor interface {
	// Compress decodes raw, downscales it if needed and re-encodes it at quality.
	// declaredType is informational; the output type is always OutputMIMEType.
	Compress(raw []byte, declaredType string, quality int) (Result, error)
}

// ClampQuality limits quality to [MinQuality, MaxQuality].
func ClampQuality(quality int) int {
	return max(MinQuality, min(quality, MaxQuality))
}
