package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"photo-compressor-go/internal/export"
	"photo-compressor-go/internal/extractor"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/metrics"
	"photo-compressor-go/internal/statistics"
	"photo-compressor-go/internal/store"

	"github.com/sirupsen/logrus"
)

var (
	// ErrImageNotFound is returned when an id is not in the collection.
	ErrImageNotFound = errors.New("image not found")
	// ErrBusy is returned when a batch or recompression is already running.
	ErrBusy = errors.New("operation already in progress")
)

// Session wires the pipeline components around one store.
type Session struct {
	store        *store.Store
	processor    *BatchProcessor
	coordinator  *Coordinator
	orchestrator *export.Orchestrator
	stats        *statistics.Statistics
	metrics      *metrics.Metrics
	logger       *logrus.Logger
}

// NewSession creates a Session. stats and orchestrator may be nil; without an
// orchestrator the export operations return an error.
func NewSession(
	s *store.Store,
	processor *BatchProcessor,
	coordinator *Coordinator,
	orchestrator *export.Orchestrator,
	stats *statistics.Statistics,
	log *logrus.Logger,
) *Session {
	if log == nil {
		log = logger.Discard()
	}
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	return &Session{
		store:        s,
		processor:    processor,
		coordinator:  coordinator,
		orchestrator: orchestrator,
		stats:        stats,
		logger:       log,
	}
}

// Store returns the session's collection.
func (s *Session) Store() *store.Store {
	return s.store
}

// SetMetrics starts reporting to m, including a gauge view of the collection.
func (s *Session) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
	state := s.store.Snapshot()
	m.SetCollection(len(state.Images), state.Quality, state.Processing)
	s.store.Subscribe(func(state store.State) {
		m.SetCollection(len(state.Images), state.Quality, state.Processing)
	})
}

// Statistics returns the session counters.
func (s *Session) Statistics() *statistics.Statistics {
	return s.stats
}

// Ingest compresses inputs at the store's current quality and appends the
// successful records, in input order, to the collection. It returns ErrBusy
// while another batch or a recompression is running.
func (s *Session) Ingest(inputs []Input) ([]store.ImageRecord, error) {
	if !s.store.TryBeginProcessing() {
		return nil, ErrBusy
	}
	defer s.store.SetProcessing(false)

	report := s.processor.ProcessReport(inputs, s.store.Quality())

	for _, f := range report.Failed {
		s.stats.AddError(f.Name, "compress", f.Err.Error())
	}
	s.stats.RecordBatch(report.Received, len(report.Records), report.Skipped, len(report.Failed))
	for _, rec := range report.Records {
		s.stats.AddBytes(rec.OriginalSize, rec.CompressedSize)
		if s.metrics != nil {
			s.metrics.ObserveBytes(rec.OriginalSize, rec.CompressedSize)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveBatch(len(report.Records), report.Skipped, len(report.Failed))
	}

	if len(report.Records) == 0 {
		return report.Records, nil
	}
	if err := s.store.AddImages(report.Records); err != nil {
		return nil, fmt.Errorf("add images: %w", err)
	}
	return report.Records, nil
}

// Requality changes the quality and recompresses the collection at it.
func (s *Session) Requality(quality int) error {
	start := time.Now()
	err := s.coordinator.Apply(quality)
	if s.metrics != nil && !errors.Is(err, store.ErrInvalidQuality) && !errors.Is(err, ErrBusy) {
		s.metrics.ObserveRecompression(err == nil, time.Since(start))
	}
	return err
}

// Clear empties the collection and drops cached metadata for the removed
// images. It returns ErrBusy while a batch or recompression is running.
func (s *Session) Clear() error {
	if s.store.Processing() {
		return ErrBusy
	}
	s.store.Clear()
	s.processor.ClearCache()
	return nil
}

// Remove deletes one image. It returns ErrBusy while a batch or recompression
// is running and ErrImageNotFound for unknown ids.
func (s *Session) Remove(id string) error {
	if s.store.Processing() {
		return ErrBusy
	}
	if _, ok := s.store.Image(id); !ok {
		return fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}
	s.store.RemoveImage(id)
	return nil
}

// InspectorStats returns the metadata cache counters, if the inspector keeps
// a cache.
func (s *Session) InspectorStats() (extractor.CacheStats, bool) {
	return s.processor.CacheStats()
}

// FileName is the name an image is saved or downloaded under.
func (s *Session) FileName(name string) string {
	if s.orchestrator == nil {
		return export.DefaultPrefix + name
	}
	return s.orchestrator.FileName(name)
}

// ExportAll saves every image currently in the collection.
func (s *Session) ExportAll(ctx context.Context) (export.Summary, error) {
	if s.orchestrator == nil {
		return export.Summary{}, fmt.Errorf("export is not configured")
	}
	summary, err := s.orchestrator.ExportAll(ctx, s.store.Snapshot().Images)
	s.stats.RecordExport(summary.Saved, summary.Failed)
	if s.metrics != nil {
		s.metrics.ObserveExport(summary.Saved, summary.Failed)
	}
	if err != nil {
		s.stats.AddError("", "export", err.Error())
	}
	return summary, err
}

// Export saves the image with the given id.
func (s *Session) Export(ctx context.Context, id string) error {
	if s.orchestrator == nil {
		return fmt.Errorf("export is not configured")
	}
	rec, ok := s.store.Image(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}
	err := s.orchestrator.Export(ctx, rec)
	saved, failed := 1, 0
	if err != nil {
		saved, failed = 0, 1
	}
	s.stats.RecordExport(saved, failed)
	if s.metrics != nil {
		s.metrics.ObserveExport(saved, failed)
	}
	return err
}
