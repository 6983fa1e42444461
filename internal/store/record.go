package store

import (
	"math"

	"photo-compressor-go/internal/extractor"
)

// Artifact is an encoded image payload and its content type.
type Artifact struct {
	Data     []byte
	MIMEType string
}

// Size returns the payload length in bytes.
func (a Artifact) Size() int64 {
	return int64(len(a.Data))
}

// ImageRecord is one compressed image and its provenance.
// Records are values; every change produces a new record, and
// CompressedSize always equals Compressed.Size().
type ImageRecord struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	DeclaredType   string             `json:"declared_type"`
	Original       []byte             `json:"-"`
	Compressed     Artifact           `json:"-"`
	OriginalSize   int64              `json:"original_size"`
	CompressedSize int64              `json:"compressed_size"`
	Savings        float64            `json:"savings"`
	Width          int                `json:"width"`
	Height         int                `json:"height"`
	Preview        string             `json:"preview"`
	Metadata       extractor.Metadata `json:"metadata"`
}

// NewRecord creates a record for freshly uploaded bytes. The preview reference
// is derived from id once here and never changes afterwards.
func NewRecord(id, name, declaredType string, original []byte) ImageRecord {
	return ImageRecord{
		ID:           id,
		Name:         name,
		DeclaredType: declaredType,
		Original:     original,
		OriginalSize: int64(len(original)),
		Preview:      PreviewPath(id),
	}
}

// WithArtifact returns a copy of r carrying artifact together with the size,
// savings and dimensions derived from it.
func (r ImageRecord) WithArtifact(artifact Artifact, width, height int) ImageRecord {
	r.Compressed = artifact
	r.CompressedSize = artifact.Size()
	r.Savings = SavingsPercent(r.OriginalSize, r.CompressedSize)
	r.Width = width
	r.Height = height
	return r
}

// SavingsPercent returns the size reduction in percent, rounded to one decimal.
// Negative values mean the compressed output grew.
func SavingsPercent(originalSize, compressedSize int64) float64 {
	if originalSize <= 0 {
		return 0
	}
	savings := float64(originalSize-compressedSize) / float64(originalSize) * 100
	return math.Round(savings*10) / 10
}

// PreviewPath is the renderable reference to a record's original bytes.
func PreviewPath(id string) string {
	return "/api/images/" + id + "/preview"
}
