package extractor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	// Register decoders so DecodeConfig recognises every accepted format.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// EXIFInspector reads dimensions and EXIF capture data from image bytes.
type EXIFInspector struct {
	logger *logrus.Logger
	cache  *sync.Map
	stats  CacheStats
	mutex  sync.RWMutex
}

var _ CachedInspector = (*EXIFInspector)(nil)

// NewEXIFInspector returns a new EXIFInspector.
func NewEXIFInspector(logger *logrus.Logger) *EXIFInspector {
	return &EXIFInspector{
		logger: logger,
		cache:  &sync.Map{},
	}
}

// Inspect returns what can be learned about data. It never fails; fields that
// cannot be read are left empty.
func (e *EXIFInspector) Inspect(data []byte) Metadata {
	key := contentKey(data)
	if value, ok := e.cache.Load(key); ok {
		e.incrementCacheHits()
		return value.(Metadata)
	}
	e.incrementCacheMisses()

	var meta Metadata
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
		meta.Format = format
	} else {
		e.logger.Debugf("Failed to read image config: %v", err)
	}

	e.readEXIF(data, &meta)

	e.cache.Store(key, meta)
	e.mutex.Lock()
	e.stats.Size++
	e.mutex.Unlock()
	return meta
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (e *EXIFInspector) ClearCache() {
	e.cache.Range(func(key, _ any) bool {
		e.cache.Delete(key)
		return true
	})
	e.mutex.Lock()
	e.stats = CacheStats{}
	e.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this inspector.
func (e *EXIFInspector) GetCacheStats() CacheStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	stats := e.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

// readEXIF fills the capture time and camera model using rwcarlsen/goexif.
func (e *EXIFInspector) readEXIF(data []byte, meta *Metadata) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}

	if field, err := x.Get(exif.Model); err == nil {
		if model, err := field.StringVal(); err == nil {
			meta.CameraModel = strings.TrimSpace(strings.TrimRight(model, "\x00"))
		}
	}

	if tm, err := x.DateTime(); err == nil {
		meta.TakenAt = &tm
		meta.DateSource = DateSourceEXIFDateTime
		return
	}

	sources := []struct {
		name   exif.FieldName
		source DateSource
	}{
		{exif.DateTimeOriginal, DateSourceEXIFDateTimeOriginal},
		{exif.DateTimeDigitized, DateSourceEXIFDateTimeDigitized},
	}
	for _, s := range sources {
		field, err := x.Get(s.name)
		if err != nil {
			continue
		}
		dateStr, err := field.StringVal()
		if err != nil {
			continue
		}
		if date := e.parseEXIFDateTime(dateStr); date != nil {
			meta.TakenAt = date
			meta.DateSource = s.source
			return
		}
	}
}

// parseEXIFDateTime parses an EXIF date time string. Returns nil if parsing fails.
func (e *EXIFInspector) parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}

	e.logger.Debugf("Failed to parse date string: %s", dateStr)
	return nil
}

func contentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (e *EXIFInspector) incrementCacheHits() {
	e.mutex.Lock()
	e.stats.Hits++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}

func (e *EXIFInspector) incrementCacheMisses() {
	e.mutex.Lock()
	e.stats.Misses++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}
