package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"photo-compressor-go/internal/compressor"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/statistics"
	"photo-compressor-go/internal/store"

	"github.com/sirupsen/logrus"
)

// RecompressionError reports every record that failed during a recompression.
// It unwraps to the individual item errors.
type RecompressionError struct {
	Quality int
	Failed  []ItemError
}

func (e *RecompressionError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Name
	}
	return fmt.Sprintf("recompression at quality %d failed for %d image(s): %s; first error: %v",
		e.Quality, len(e.Failed), strings.Join(names, ", "), e.Failed[0].Err)
}

func (e *RecompressionError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

// Coordinator re-derives every record's artifact from its original bytes and
// commits the new set to the store in one step.
type Coordinator struct {
	compressor compressor.Compressor
	store      *store.Store
	stats      *statistics.Statistics
	logger     *logrus.Logger
	workers    int
}

// NewCoordinator creates a Coordinator. stats may be nil.
func NewCoordinator(c compressor.Compressor, s *store.Store, stats *statistics.Statistics, log *logrus.Logger, workers int) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	if workers <= 0 {
		workers = defaultWorkers()
	}
	return &Coordinator{
		compressor: c,
		store:      s,
		stats:      stats,
		logger:     log,
		workers:    workers,
	}
}

// Recompress compresses every record's original bytes at quality. The result
// keeps input order. If any record fails, no records are returned and the
// error is a *RecompressionError covering all failures.
func (c *Coordinator) Recompress(records []store.ImageRecord, quality int) ([]store.ImageRecord, error) {
	results := make([]store.ImageRecord, len(records))
	errs := make([]error, len(records))

	forEach(len(records), c.workers, func(i int) {
		rec := records[i]
		res, err := c.compressor.Compress(rec.Original, rec.DeclaredType, quality)
		if err != nil {
			errs[i] = err
			return
		}
		results[i] = rec.WithArtifact(store.Artifact{Data: res.Data, MIMEType: res.MIMEType}, res.Width, res.Height)
	})

	var failed []ItemError
	for i, err := range errs {
		if err != nil {
			failed = append(failed, ItemError{ID: records[i].ID, Name: records[i].Name, Err: err})
		}
	}
	if len(failed) > 0 {
		return nil, &RecompressionError{Quality: quality, Failed: failed}
	}
	return results, nil
}

// Apply sets the store's quality and, if the collection is not empty,
// recompresses every image at it. It returns ErrBusy without changing anything
// when a batch or another recompression holds the processing flag. The new
// artifacts are committed only when all of them succeeded; otherwise the
// images are left as they were and the quality keeps its new value.
//
// The commit matches records by id: images removed while the work ran stay
// removed and images added meanwhile are kept as they are.
func (c *Coordinator) Apply(quality int) error {
	if err := store.ValidateQuality(quality); err != nil {
		return err
	}
	if !c.store.TryBeginProcessing() {
		return ErrBusy
	}
	defer c.store.SetProcessing(false)

	if err := c.store.SetQuality(quality); err != nil {
		return err
	}

	records := c.store.Snapshot().Images
	if len(records) == 0 {
		return nil
	}

	log := logger.WithOperation(c.logger, "recompress").WithFields(logrus.Fields{
		"quality": quality,
		"images":  len(records),
	})
	log.Info("Recompressing collection")

	updated, err := c.Recompress(records, quality)
	if err != nil {
		c.recordFailure(len(records), err)
		log.WithError(err).Error("Recompression failed, collection unchanged")
		return err
	}

	byID := make(map[string]store.ImageRecord, len(updated))
	for _, rec := range updated {
		byID[rec.ID] = rec
	}
	if err := c.store.UpdateAll(func(current []store.ImageRecord) []store.ImageRecord {
		for i, rec := range current {
			if next, ok := byID[rec.ID]; ok {
				current[i] = next
			}
		}
		return current
	}); err != nil {
		c.recordFailure(len(records), err)
		return fmt.Errorf("commit recompressed images: %w", err)
	}

	if c.stats != nil {
		c.stats.RecordRecompression(len(updated), true)
	}
	log.Info("Recompression applied")
	return nil
}

func (c *Coordinator) recordFailure(n int, err error) {
	if c.stats == nil {
		return
	}
	c.stats.RecordRecompression(n, false)

	var rerr *RecompressionError
	if errors.As(err, &rerr) {
		for _, f := range rerr.Failed {
			c.stats.AddError(f.Name, "recompress", f.Err.Error())
		}
		return
	}
	c.stats.AddError("", "recompress", err.Error())
}
