package pipeline

import (
	"fmt"
	"strings"

	"photo-compressor-go/internal/compressor"
	"photo-compressor-go/internal/extractor"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Input is one raw, untrusted upload.
type Input struct {
	Name string
	Type string
	Data []byte
}

// ItemError records why a single image could not be compressed.
type ItemError struct {
	ID   string
	Name string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchReport is the detailed outcome of one batch.
type BatchReport struct {
	Records  []store.ImageRecord
	Received int
	Skipped  int
	Failed   []ItemError
}

// BatchProcessor turns raw uploads into image records.
type BatchProcessor struct {
	compressor compressor.Compressor
	inspector  extractor.Inspector
	logger     *logrus.Logger
	workers    int
	newID      func() string
}

// NewBatchProcessor creates a BatchProcessor. inspector may be nil, in which
// case records carry no metadata; workers <= 0 selects a CPU-based default.
func NewBatchProcessor(c compressor.Compressor, inspector extractor.Inspector, log *logrus.Logger, workers int) *BatchProcessor {
	if log == nil {
		log = logger.Discard()
	}
	if workers <= 0 {
		workers = defaultWorkers()
	}
	return &BatchProcessor{
		compressor: c,
		inspector:  inspector,
		logger:     log,
		workers:    workers,
		newID:      uuid.NewString,
	}
}

// CacheStats reports the inspector's cache counters when it keeps a cache.
func (p *BatchProcessor) CacheStats() (extractor.CacheStats, bool) {
	cached, ok := p.inspector.(extractor.CachedInspector)
	if !ok {
		return extractor.CacheStats{}, false
	}
	return cached.GetCacheStats(), true
}

// ClearCache drops cached metadata when the inspector keeps a cache.
func (p *BatchProcessor) ClearCache() {
	if cached, ok := p.inspector.(extractor.CachedInspector); ok {
		cached.ClearCache()
	}
}

// IsImageType reports whether a declared MIME type names an image.
func IsImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// Process compresses every image input at quality and returns the records
// that succeeded, in input order. Non-image inputs are skipped and per-item
// failures are logged and dropped.
func (p *BatchProcessor) Process(inputs []Input, quality int) []store.ImageRecord {
	return p.ProcessReport(inputs, quality).Records
}

// ProcessReport is Process with skip and failure details.
func (p *BatchProcessor) ProcessReport(inputs []Input, quality int) BatchReport {
	report := BatchReport{Received: len(inputs)}

	pending := make([]store.ImageRecord, 0, len(inputs))
	for _, in := range inputs {
		if !IsImageType(in.Type) {
			report.Skipped++
			logger.WithFileOperation(p.logger, in.Name, "ingest").
				Debugf("Skipping non-image input of type %q", in.Type)
			continue
		}
		pending = append(pending, store.NewRecord(p.newID(), in.Name, in.Type, in.Data))
	}

	results := make([]store.ImageRecord, len(pending))
	errs := make([]error, len(pending))
	forEach(len(pending), p.workers, func(i int) {
		results[i], errs[i] = p.compress(pending[i], quality)
	})

	report.Records = make([]store.ImageRecord, 0, len(pending))
	for i, rec := range results {
		if errs[i] != nil {
			logger.WithFileOperation(p.logger, pending[i].Name, "compress").
				WithError(errs[i]).Error("Compression failed, dropping image")
			report.Failed = append(report.Failed, ItemError{ID: pending[i].ID, Name: pending[i].Name, Err: errs[i]})
			continue
		}
		report.Records = append(report.Records, rec)
	}

	p.logger.WithFields(logrus.Fields{
		"operation": "ingest",
		"received":  report.Received,
		"accepted":  len(report.Records),
		"skipped":   report.Skipped,
		"failed":    len(report.Failed),
		"quality":   quality,
	}).Info("Batch processed")
	return report
}

func (p *BatchProcessor) compress(rec store.ImageRecord, quality int) (store.ImageRecord, error) {
	res, err := p.compressor.Compress(rec.Original, rec.DeclaredType, quality)
	if err != nil {
		return store.ImageRecord{}, err
	}
	if p.inspector != nil {
		rec.Metadata = p.inspector.Inspect(rec.Original)
	}
	return rec.WithArtifact(store.Artifact{Data: res.Data, MIMEType: res.MIMEType}, res.Width, res.Height), nil
}
