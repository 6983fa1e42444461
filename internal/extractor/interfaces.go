package extractor

import (
	"time"
)

// Inspector reads display metadata from raw image bytes.
type Inspector interface {
	Inspect(data []byte) Metadata
}

// CachedInspector extends Inspector with caching capabilities.
type CachedInspector interface {
	Inspector
	ClearCache()
	GetCacheStats() CacheStats
}

// Metadata describes an original image as uploaded.
type Metadata struct {
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Format      string     `json:"format,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	DateSource  DateSource `json:"-"`
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	Size         int
	HitRate      float64
	TotalQueries int64
}

// DateSource represents the EXIF field a capture time came from.
type DateSource int

const (
	DateSourceUnknown DateSource = iota
	DateSourceEXIFDateTime
	DateSourceEXIFDateTimeOriginal
	DateSourceEXIFDateTimeDigitized
)

// String returns a human-readable description of the date source.
func (ds DateSource) String() string {
	switch ds {
	case DateSourceEXIFDateTime:
		return "EXIF DateTime"
	case DateSourceEXIFDateTimeOriginal:
		return "EXIF DateTimeOriginal"
	case DateSourceEXIFDateTimeDigitized:
		return "EXIF DateTimeDigitized"
	default:
		return "Unknown"
	}
}
