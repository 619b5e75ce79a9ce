package statistics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Statistics contains the counters of one sweep. Counters are atomic so a web client
// can read them while the sweep runs.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesSucceeded      int64
	FilesFailed         int64
	FilesSkipped        int64
	FilesUnsupported    int64
	WalkErrors          int64

	BytesBefore int64
	BytesAfter  int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	FileTypeStats map[string]int64

	mutex sync.RWMutex
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		FileTypeStats: make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.TotalFilesFound, 1)
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
}

// IncrementFilesSucceeded increases the count of re-encoded files by 1.
func (s *Statistics) IncrementFilesSucceeded() {
	atomic.AddInt64(&s.FilesSucceeded, 1)
}

// IncrementFilesFailed increases the count of failed files by 1.
func (s *Statistics) IncrementFilesFailed() {
	atomic.AddInt64(&s.FilesFailed, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesUnsupported increases the count of files whose content is neither JPEG nor PNG.
func (s *Statistics) IncrementFilesUnsupported() {
	atomic.AddInt64(&s.FilesUnsupported, 1)
}

// IncrementWalkErrors increases the count of unreadable directories by 1.
func (s *Statistics) IncrementWalkErrors() {
	atomic.AddInt64(&s.WalkErrors, 1)
}

// IncrementFileType increases the count for a specific detected format by 1.
func (s *Statistics) IncrementFileType(fileType string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FileTypeStats[fileType]++
}

// AddBytes records the size of a file before and after re-encoding.
func (s *Statistics) AddBytes(before, after int64) {
	atomic.AddInt64(&s.BytesBefore, before)
	atomic.AddInt64(&s.BytesAfter, after)
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// BytesSaved returns the difference between input and output sizes of re-encoded files.
// Negative means the outputs grew.
func (s *Statistics) BytesSaved() int64 {
	return atomic.LoadInt64(&s.BytesBefore) - atomic.LoadInt64(&s.BytesAfter)
}

// GetResultLine returns the one-line outcome count printed at the end of a run.
func (s *Statistics) GetResultLine() string {
	return fmt.Sprintf("%d succeeded / %d failed / %d skipped",
		atomic.LoadInt64(&s.FilesSucceeded),
		atomic.LoadInt64(&s.FilesFailed),
		atomic.LoadInt64(&s.FilesSkipped))
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	fps := s.FilesPerSecond
	s.mutex.RUnlock()

	saved := s.BytesSaved()
	savedStr := humanize.IBytes(uint64(abs(saved)))
	if saved < 0 {
		savedStr = "-" + savedStr
	}

	return fmt.Sprintf(`Recompress Summary: %s

Files:
		Found: %d
		Processed: %d
		Succeeded: %d
		Failed: %d
		Skipped: %d
		Unsupported: %d
		Walk Errors: %d

Size:
		Before: %s
		After: %s
		Saved: %s

Performance:
		Duration: %v
		Files/Second: %.2f`,
		s.GetResultLine(),
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesSucceeded),
		atomic.LoadInt64(&s.FilesFailed),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesUnsupported),
		atomic.LoadInt64(&s.WalkErrors),
		humanize.IBytes(uint64(atomic.LoadInt64(&s.BytesBefore))),
		humanize.IBytes(uint64(atomic.LoadInt64(&s.BytesAfter))),
		savedStr,
		duration,
		fps)
}

// GetFileTypeBreakdown returns a formatted breakdown of detected formats.
func (s *Statistics) GetFileTypeBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FileTypeStats) == 0 {
		return "No file type statistics available"
	}

	var b strings.Builder
	b.WriteString("File Type Breakdown:\n")
	for fileType, count := range s.FileTypeStats {
		fmt.Fprintf(&b, "  %s: %d\n", fileType, count)
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return b.String()
}

// Snapshot returns the counters as a map suitable for JSON responses.
func (s *Statistics) Snapshot() map[string]interface{} {
	s.mutex.RLock()
	errCount := len(s.Errors)
	s.mutex.RUnlock()

	return map[string]interface{}{
		"total_found":     atomic.LoadInt64(&s.TotalFilesFound),
		"total_processed": atomic.LoadInt64(&s.TotalFilesProcessed),
		"succeeded":       atomic.LoadInt64(&s.FilesSucceeded),
		"failed":          atomic.LoadInt64(&s.FilesFailed),
		"skipped":         atomic.LoadInt64(&s.FilesSkipped),
		"unsupported":     atomic.LoadInt64(&s.FilesUnsupported),
		"walk_errors":     atomic.LoadInt64(&s.WalkErrors),
		"bytes_before":    atomic.LoadInt64(&s.BytesBefore),
		"bytes_after":     atomic.LoadInt64(&s.BytesAfter),
		"errors":          errCount,
	}
}

// GetErrors returns a copy of the recorded errors.
func (s *Statistics) GetErrors() []StatError {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]StatError(nil), s.Errors...)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
