package reencoder

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// DefaultReencoder is the default implementation of the Reencoder interface.
type DefaultReencoder struct {
	opts Options
}

// New creates a DefaultReencoder with the given options.
func New(opts Options) *DefaultReencoder {
	return &DefaultReencoder{opts: opts}
}

// Options returns the options the reencoder was built with.
func (r *DefaultReencoder) Options() Options {
	return r.opts
}

// Reencode reads path, decodes it and writes it back in place according to the mode.
// The file's bytes are held in memory only for the duration of the call.
func (r *DefaultReencoder) Reencode(path string) Result {
	res := Result{
		Path:      path,
		StartedAt: time.Now(),
	}

	info, err := os.Stat(path)
	if err != nil {
		return r.fail(res, KindPathUnreadable, err)
	}
	res.OriginalSize = info.Size()

	data, err := os.ReadFile(path)
	if err != nil {
		return r.fail(res, KindPathUnreadable, err)
	}

	det := DetectFormat(data)
	res.Format = det.Format

	if r.opts.Mode == ModeUniform {
		return r.reencodeUniform(res, data, info.Mode())
	}
	return r.reencodeFormatAware(res, data, det, info.Mode())
}

// reencodeUniform re-saves whatever decodes in the format implied by the extension.
func (r *DefaultReencoder) reencodeUniform(res Result, data []byte, mode os.FileMode) Result {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return r.fail(res, KindDecodeFailed, err)
	}
	setBounds(&res, img)

	format, err := imaging.FormatFromFilename(res.Path)
	if err != nil {
		return r.fail(res, KindUnsupportedFormat, err)
	}

	return r.write(res, img, format, mode)
}

// reencodeFormatAware branches on the sniffed content format.
func (r *DefaultReencoder) reencodeFormatAware(res Result, data []byte, det Detection, mode os.FileMode) Result {
	format, ok := imagingFormat(det.Format)
	if !ok {
		if !det.IsImage {
			return r.fail(res, KindDecodeFailed, fmt.Errorf("unrecognized content %s", det.MIME))
		}
		res.Status = StatusSkipped
		res.Reason = "unsupported format " + det.MIME
		if r.opts.ReportUnsupported {
			res.Err = newError(res.Path, KindUnsupportedFormat, fmt.Errorf("content is %s", det.MIME))
		}
		res.FinishedAt = time.Now()
		return res
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return r.fail(res, KindDecodeFailed, err)
	}
	setBounds(&res, img)

	return r.write(res, img, format, mode)
}

// write encodes img into a temporary file next to the original and renames it over
// the original, so a failed encode never truncates the source.
func (r *DefaultReencoder) write(res Result, img image.Image, format imaging.Format, mode os.FileMode) Result {
	if r.opts.DryRun {
		res.Status = StatusSkipped
		res.Reason = ReasonDryRun
		res.FinishedAt = time.Now()
		return res
	}

	tmp, err := os.CreateTemp(filepath.Dir(res.Path), ".recompress-*.tmp")
	if err != nil {
		return r.fail(res, KindWriteFailed, err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	err = imaging.Encode(w, img, format,
		imaging.JPEGQuality(r.opts.Quality),
		imaging.PNGCompressionLevel(PNGCompressionLevel(r.opts.PNGCompressLevel)),
	)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpPath, mode.Perm())
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return r.fail(res, KindWriteFailed, fmt.Errorf("encode %s: %w", format, err))
	}

	if err := os.Rename(tmpPath, res.Path); err != nil {
		_ = os.Remove(tmpPath)
		return r.fail(res, KindWriteFailed, fmt.Errorf("rename: %w", err))
	}

	if info, err := os.Stat(res.Path); err == nil {
		res.EncodedSize = info.Size()
	}
	res.Status = StatusSuccess
	res.Reason = "re-encoded as " + format.String()
	res.FinishedAt = time.Now()
	return res
}

// fail records a categorized error on res.
func (r *DefaultReencoder) fail(res Result, kind Kind, err error) Result {
	res.Status = StatusFailed
	res.Err = newError(res.Path, kind, err)
	res.FinishedAt = time.Now()
	return res
}

func setBounds(res *Result, img image.Image) {
	b := img.Bounds()
	res.Width = b.Dx()
	res.Height = b.Dy()
}
