package sweep

import (
	"fmt"
	"io"
	"sync"

	"image-recompressor/internal/reencoder"

	"github.com/fatih/color"
)

// Observer receives one notification per processed file and per walk error.
type Observer interface {
	OnResult(res reencoder.Result)
	OnWalkError(path string, err error)
}

// Tone classifies a report line.
type Tone int

const (
	ToneNone Tone = iota
	ToneOK
	ToneError
	ToneNotice
)

// FormatResult returns the report line for res. ToneNone means nothing is printed.
func FormatResult(res reencoder.Result) (string, Tone) {
	switch res.Status {
	case reencoder.StatusSuccess:
		return "Compressed and saved " + res.Path, ToneOK
	case reencoder.StatusFailed:
		return fmt.Sprintf("Error processing %s: %v", res.Path, res.Err), ToneError
	case reencoder.StatusSkipped:
		if res.Reason == reencoder.ReasonDryRun {
			return "Would compress " + res.Path, ToneNotice
		}
		if res.Err != nil {
			return fmt.Sprintf("Skipped %s: %s", res.Path, res.Reason), ToneNotice
		}
	}
	return "", ToneNone
}

// FormatWalkError returns the report line for an unreadable directory.
func FormatWalkError(path string, err error) string {
	return fmt.Sprintf("Error processing %s: %v", path, err)
}

// ConsoleObserver prints the line-oriented per-file report.
type ConsoleObserver struct {
	out   io.Writer
	mu    sync.Mutex
	tones map[Tone]*color.Color
}

// NewConsoleObserver returns an observer writing to out. Colors are only emitted when
// colorize is set.
func NewConsoleObserver(out io.Writer, colorize bool) *ConsoleObserver {
	o := &ConsoleObserver{
		out: out,
		tones: map[Tone]*color.Color{
			ToneOK:     color.New(color.FgGreen),
			ToneError:  color.New(color.FgRed),
			ToneNotice: color.New(color.FgYellow),
		},
	}
	for _, c := range o.tones {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return o
}

// OnResult prints the outcome of one file.
func (o *ConsoleObserver) OnResult(res reencoder.Result) {
	line, tone := FormatResult(res)
	if tone == ToneNone {
		return
	}
	o.print(tone, line)
}

// OnWalkError prints a directory that could not be read.
func (o *ConsoleObserver) OnWalkError(path string, err error) {
	o.print(ToneError, FormatWalkError(path, err))
}

func (o *ConsoleObserver) print(tone Tone, line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, _ = o.tones[tone].Fprintln(o.out, line)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (obs Observers) OnResult(res reencoder.Result) {
	for _, o := range obs {
		o.OnResult(res)
	}
}

func (obs Observers) OnWalkError(path string, err error) {
	for _, o := range obs {
		o.OnWalkError(path, err)
	}
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Result    func(res reencoder.Result)
	WalkError func(path string, err error)
}

func (f ObserverFuncs) OnResult(res reencoder.Result) {
	if f.Result != nil {
		f.Result(res)
	}
}

func (f ObserverFuncs) OnWalkError(path string, err error) {
	if f.WalkError != nil {
		f.WalkError(path, err)
	}
}
