package reencoder

import (
	"errors"
	"fmt"
)

// Kind classifies a per-file failure.
type Kind int

const (
	KindPathUnreadable Kind = iota + 1
	KindDecodeFailed
	KindUnsupportedFormat
	KindWriteFailed
)

var (
	ErrPathUnreadable    = errors.New("path unreadable")
	ErrDecodeFailed      = errors.New("decode failed")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrWriteFailed       = errors.New("write failed")
)

func (k Kind) String() string {
	switch k {
	case KindPathUnreadable:
		return "path_unreadable"
	case KindDecodeFailed:
		return "decode_failed"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindWriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindPathUnreadable:
		return ErrPathUnreadable
	case KindDecodeFailed:
		return ErrDecodeFailed
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindWriteFailed:
		return ErrWriteFailed
	default:
		return nil
	}
}

// Error is a categorized per-file failure. Path is kept for callers; the message
// itself does not repeat it.
type Error struct {
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel error of the same kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// IsFailure reports whether err counts against the batch. Unsupported content is
// reported but is never a failure.
func IsFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrUnsupportedFormat)
}

func newError(path string, kind Kind, err error) *Error {
	return &Error{Path: path, Kind: kind, Err: err}
}
