package compressor

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultCompressor is the default implementation of the Compressor interface.
type DefaultCompressor struct{}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor() *DefaultCompressor {
	return &DefaultCompressor{}
}

// Compress decodes raw, fits it into MaxDimension and encodes it as JPEG.
func (c *DefaultCompressor) Compress(raw []byte, declaredType string, quality int) (Result, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("%w (declared %q): %v", ErrDecode, declaredType, err)
	}

	img = fitToMaxDimension(img)

	var buf bytes.Buffer
	err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(ClampQuality(quality)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if buf.Len() == 0 {
		return Result{}, fmt.Errorf("%w: encoder produced no output", ErrEncode)
	}

	bounds := img.Bounds()
	return Result{
		Data:     buf.Bytes(),
		MIMEType: OutputMIMEType,
		Size:     int64(buf.Len()),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// fitToMaxDimension downscales img so that neither side exceeds MaxDimension,
// preserving aspect ratio. Smaller images are returned unchanged.
func fitToMaxDimension(img image.Image) image.Image {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	newWidth, newHeight := ScaledSize(width, height)
	if newWidth == width && newHeight == height {
		return img
	}
	return imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)
}

// ScaledSize returns the output dimensions for a width x height source.
func ScaledSize(width, height int) (int, int) {
	if width <= MaxDimension && height <= MaxDimension {
		return width, height
	}
	ratio := math.Min(float64(MaxDimension)/float64(width), float64(MaxDimension)/float64(height))
	newWidth := max(1, int(math.Round(float64(width)*ratio)))
	newHeight := max(1, int(math.Round(float64(height)*ratio)))
	return newWidth, newHeight
}
