package statistics

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains counters for one compression session.
type Statistics struct {
	BatchesProcessed int64
	InputsReceived   int64
	ImagesIngested   int64
	InputsSkipped    int64
	ItemsFailed      int64

	RecompressionsApplied int64
	RecompressionsFailed  int64
	ImagesRecompressed    int64

	ExportsStarted int64
	FilesExported  int64
	ExportErrors   int64

	BytesIn  int64
	BytesOut int64

	StartTime time.Time

	Errors []StatError

	mutex sync.RWMutex
}

// StatError represents an error that occurred during processing.
type StatError struct {
	Name      string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Errors:    make([]StatError, 0),
	}
}

// RecordBatch accounts for one ingested batch.
func (s *Statistics) RecordBatch(received, ingested, skipped, failed int) {
	atomic.AddInt64(&s.BatchesProcessed, 1)
	atomic.AddInt64(&s.InputsReceived, int64(received))
	atomic.AddInt64(&s.ImagesIngested, int64(ingested))
	atomic.AddInt64(&s.InputsSkipped, int64(skipped))
	atomic.AddInt64(&s.ItemsFailed, int64(failed))
}

// RecordRecompression accounts for one recompression attempt over n images.
func (s *Statistics) RecordRecompression(n int, ok bool) {
	if ok {
		atomic.AddInt64(&s.RecompressionsApplied, 1)
		atomic.AddInt64(&s.ImagesRecompressed, int64(n))
		return
	}
	atomic.AddInt64(&s.RecompressionsFailed, 1)
}

// RecordExport accounts for one export run.
func (s *Statistics) RecordExport(exported, failed int) {
	atomic.AddInt64(&s.ExportsStarted, 1)
	atomic.AddInt64(&s.FilesExported, int64(exported))
	atomic.AddInt64(&s.ExportErrors, int64(failed))
}

// AddBytes adds original and compressed byte counts to the running totals.
func (s *Statistics) AddBytes(in, out int64) {
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(name, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		Name:      name,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	saved := 0.0
	if in > 0 {
		saved = float64(in-out) * 100 / float64(in)
	}

	return fmt.Sprintf(`Photo Compressor Statistics Summary:

Batches:
		Processed: %d
		Inputs Received: %d
		Images Ingested: %d
		Skipped (not images): %d
		Failed: %d

Recompression:
		Applied: %d
		Failed: %d
		Images Recompressed: %d

Export:
		Runs: %d
		Files Saved: %d
		Errors: %d

Size:
		Original: %s
		Compressed: %s
		Saved: %.1f%%
		Uptime: %v`,
		atomic.LoadInt64(&s.BatchesProcessed),
		atomic.LoadInt64(&s.InputsReceived),
		atomic.LoadInt64(&s.ImagesIngested),
		atomic.LoadInt64(&s.InputsSkipped),
		atomic.LoadInt64(&s.ItemsFailed),
		atomic.LoadInt64(&s.RecompressionsApplied),
		atomic.LoadInt64(&s.RecompressionsFailed),
		atomic.LoadInt64(&s.ImagesRecompressed),
		atomic.LoadInt64(&s.ExportsStarted),
		atomic.LoadInt64(&s.FilesExported),
		atomic.LoadInt64(&s.ExportErrors),
		FormatSize(in),
		FormatSize(out),
		saved,
		time.Since(s.StartTime).Round(time.Second))
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Name,
			err.Error)
	}
	return result
}

// GetErrorCount returns the number of recorded errors.
func (s *Statistics) GetErrorCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.Errors)
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatSize returns a human-readable string for a byte count, e.g. "1.5 KB".
// The value is rounded to two decimals and printed without trailing zeros.
func FormatSize(bytes int64) string {
	if bytes == 0 {
		return "0 Bytes"
	}

	const unit = 1024
	i := 0
	div := int64(1)
	for i < len(sizeUnits)-1 && bytes/div >= unit {
		div *= unit
		i++
	}

	value := math.Round(float64(bytes)/float64(div)*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizeUnits[i]
}
