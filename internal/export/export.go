package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultStride spaces successive saves so hosts that throttle
	// simultaneous downloads are not overwhelmed.
	DefaultStride = 100 * time.Millisecond
	// DefaultPrefix is prepended to the original name of every exported file.
	DefaultPrefix = "compressed_"
)

// Saver persists one artifact under a suggested filename.
type Saver interface {
	Save(ctx context.Context, artifact store.Artifact, filename string) error
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(ctx context.Context, artifact store.Artifact, filename string) error

// Save calls f.
func (f SaverFunc) Save(ctx context.Context, artifact store.Artifact, filename string) error {
	return f(ctx, artifact, filename)
}

// Config controls pacing and naming of exports.
type Config struct {
	Stride time.Duration
	Prefix string
}

// Summary describes the outcome of one ExportAll call.
type Summary struct {
	Saved  int
	Failed int
}

// Orchestrator issues one save per record, spaced by a fixed stride.
type Orchestrator struct {
	saver  Saver
	stride time.Duration
	prefix string
	logger *logrus.Logger
}

// NewOrchestrator creates an Orchestrator writing through saver.
// A negative stride is treated as zero; an empty prefix uses DefaultPrefix.
func NewOrchestrator(saver Saver, cfg Config, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Orchestrator{
		saver:  saver,
		stride: max(cfg.Stride, 0),
		prefix: prefix,
		logger: log,
	}
}

// FileName returns the export filename for an image named name.
func (o *Orchestrator) FileName(name string) string {
	return o.prefix + name
}

// Export saves a single record.
func (o *Orchestrator) Export(ctx context.Context, record store.ImageRecord) error {
	filename := o.FileName(record.Name)
	if err := o.saver.Save(ctx, record.Compressed, filename); err != nil {
		return fmt.Errorf("save %s: %w", filename, err)
	}
	logger.WithImage(o.logger, record.ID, filename).Debug("Exported image")
	return nil
}

// ExportAll starts one save per record, the n-th no earlier than n strides
// after the first. Saves run independently; a failing save does not stop the
// others. It returns once every started save has finished, with all failures
// joined. Records not yet started when ctx ends are reported as failed.
func (o *Orchestrator) ExportAll(ctx context.Context, records []store.ImageRecord) (Summary, error) {
	limit := rate.Inf
	if o.stride > 0 {
		limit = rate.Every(o.stride)
	}
	limiter := rate.NewLimiter(limit, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary Summary
		errs    []error
	)
	fail := func(err error) {
		mu.Lock()
		summary.Failed++
		errs = append(errs, err)
		mu.Unlock()
	}

	for i, record := range records {
		if err := limiter.Wait(ctx); err != nil {
			for _, skipped := range records[i:] {
				fail(fmt.Errorf("save %s: %w", o.FileName(skipped.Name), err))
			}
			break
		}

		wg.Add(1)
		go func(record store.ImageRecord) {
			defer wg.Done()
			if err := o.Export(ctx, record); err != nil {
				logger.WithImage(o.logger, record.ID, record.Name).WithError(err).Error("Export failed")
				fail(err)
				return
			}
			mu.Lock()
			summary.Saved++
			mu.Unlock()
		}(record)
	}
	wg.Wait()

	return summary, errors.Join(errs...)
}

// DirSaver writes artifacts into a directory on disk.
type DirSaver struct {
	dir string
}

// NewDirSaver returns a Saver writing into dir. The directory is created on first save.
func NewDirSaver(dir string) *DirSaver {
	return &DirSaver{dir: dir}
}

// Dir returns the target directory.
func (s *DirSaver) Dir() string {
	return s.dir
}

// Save writes artifact to dir/filename through a temporary file. Only the
// base name of filename is used.
func (s *DirSaver) Save(ctx context.Context, artifact store.Artifact, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	base := filepath.Base(filename)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return fmt.Errorf("invalid file name: %q", filename)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	outPath := filepath.Join(s.dir, base)
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, artifact.Data, 0644); err != nil {
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
