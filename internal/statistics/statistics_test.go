package statistics

import (
	"strings"
	"testing"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 Bytes"},
		{1, "1 Bytes"},
		{1023, "1023 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1100, "1.07 KB"},
		{1024 * 1024, "1 MB"},
		{5 * 1024 * 1024 / 2, "2.5 MB"},
		{1024 * 1024 * 1024, "1 GB"},
		// Units stop at GB.
		{2 * 1024 * 1024 * 1024 * 1024, "2048 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatSize(tt.bytes); got != tt.want {
				t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestStatistics_Summary(t *testing.T) {
	stats := NewStatistics()
	stats.RecordBatch(4, 2, 1, 1)
	stats.RecordRecompression(2, true)
	stats.RecordRecompression(2, false)
	stats.RecordExport(2, 0)
	stats.AddBytes(2048, 1024)

	if stats.ImagesIngested != 2 || stats.InputsSkipped != 1 || stats.ItemsFailed != 1 {
		t.Fatalf("unexpected batch counters: %+v", stats)
	}
	if stats.RecompressionsApplied != 1 || stats.RecompressionsFailed != 1 || stats.ImagesRecompressed != 2 {
		t.Fatalf("unexpected recompression counters: %+v", stats)
	}

	summary := stats.GetSummary()
	for _, want := range []string{"Images Ingested: 2", "Original: 2 KB", "Compressed: 1 KB", "Saved: 50.0%"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestStatistics_ErrorSummary(t *testing.T) {
	stats := NewStatistics()
	if got := stats.GetErrorSummary(); got != "No errors occurred during processing" {
		t.Fatalf("unexpected empty summary: %q", got)
	}

	for i := 0; i < 12; i++ {
		stats.AddError("broken.jpg", "compress", "decode failed")
	}
	if stats.GetErrorCount() != 12 {
		t.Fatalf("expected 12 errors, got %d", stats.GetErrorCount())
	}
	if got := stats.GetErrorSummary(); !strings.Contains(got, "and 2 more errors") {
		t.Errorf("expected truncated error summary, got %q", got)
	}
}
