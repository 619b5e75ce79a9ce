package reencoder

import (
	"fmt"
	"time"
)

// Mode selects how a file is re-encoded.
type Mode int

const (
	// ModeFormatAware sniffs the content and re-encodes JPEG with the quality value and
	// PNG with the compression level. Anything else is left untouched.
	ModeFormatAware Mode = iota
	// ModeUniform decodes whatever the codec registry understands and re-saves it in the
	// format implied by the file extension, with no format branching.
	ModeUniform
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeUniform:
		return "uniform"
	default:
		return "format_aware"
	}
}

// ParseMode converts a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "uniform":
		return ModeUniform, nil
	case "format_aware", "":
		return ModeFormatAware, nil
	default:
		return ModeFormatAware, fmt.Errorf("unknown mode %q", s)
	}
}

// Options configures a Reencoder.
type Options struct {
	Mode             Mode
	Quality          int // JPEG quality, 0-100
	PNGCompressLevel int // 0-9, 9 is the strongest lossless setting
	DryRun           bool
	// ReportUnsupported surfaces content that is neither JPEG nor PNG as an
	// UnsupportedFormat outcome. When false such files are skipped silently.
	ReportUnsupported bool
}

// DefaultOptions returns the format-aware options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Mode:              ModeFormatAware,
		Quality:           90,
		PNGCompressLevel:  9,
		ReportUnsupported: true,
	}
}

// Status is the terminal state of one file.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusSkipped
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ReasonDryRun is the Result.Reason of a file that decoded but was not written.
const ReasonDryRun = "dry-run"

// Result describes what happened to a single file.
type Result struct {
	Path         string
	Format       Format
	Status       Status
	Reason       string
	Width        int
	Height       int
	OriginalSize int64
	EncodedSize  int64
	StartedAt    time.Time
	FinishedAt   time.Time
	// Err is set for failures and, when reporting is enabled, for unsupported content.
	Err error
}

// Duration returns how long the file took to process.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Reencoder re-encodes one image file in place.
type Reencoder interface {
	Reencode(path string) Result
}
