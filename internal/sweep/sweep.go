// Package sweep drives a re-encode run: it walks the root, re-encodes each candidate
// in turn and applies the batch error policy.
package sweep

import (
	"context"
	"errors"
	"fmt"

	"image-recompressor/internal/config"
	"image-recompressor/internal/logger"
	"image-recompressor/internal/reencoder"
	"image-recompressor/internal/statistics"
	"image-recompressor/internal/walker"

	"github.com/sirupsen/logrus"
)

// ErrAborted wraps the per-file error that stopped a fail-fast run.
var ErrAborted = errors.New("sweep aborted")

// Sweeper re-encodes every candidate file under the configured root, one at a time.
type Sweeper struct {
	config    *config.Config
	logger    *logrus.Logger
	stats     *statistics.Statistics
	reencoder reencoder.Reencoder
	observer  Observer
}

// NewSweeper returns a new Sweeper. A nil observer discards per-file notifications.
func NewSweeper(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	re reencoder.Reencoder,
	observer Observer,
) *Sweeper {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	return &Sweeper{
		config:    cfg,
		logger:    logger,
		stats:     stats,
		reencoder: re,
		observer:  observer,
	}
}

// NewReencoder builds the reencoder described by cfg.
func NewReencoder(cfg *config.Config) (*reencoder.DefaultReencoder, error) {
	mode, err := reencoder.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	return reencoder.New(reencoder.Options{
		Mode:              mode,
		Quality:           cfg.Quality,
		PNGCompressLevel:  cfg.PNGCompressLevel,
		DryRun:            cfg.DryRun,
		ReportUnsupported: cfg.ReportUnsupported,
	}), nil
}

// Run walks the root and re-encodes each file synchronously in walk order.
//
// An inaccessible root returns an error matching walker.ErrRootUnreadable. Under the
// fail_fast policy the first per-file error stops the run and is returned wrapped in
// ErrAborted; under fail_soft every error is reported and the run completes with nil.
// ctx is checked between files only.
func (s *Sweeper) Run(ctx context.Context) error {
	defer s.stats.Finalize()

	log := logger.WithOperation(s.logger, "sweep").WithFields(logrus.Fields{
		"root":     s.config.Root,
		"mode":     s.config.Mode,
		"on_error": s.config.OnError,
		"quality":  s.config.Quality,
		"dry_run":  s.config.DryRun,
	})
	log.Info("Starting re-encode sweep")

	for path, err := range walker.Walk(s.config.Root, s.config.Extensions) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn("Sweep cancelled")
			return fmt.Errorf("sweep cancelled: %w", ctxErr)
		}

		if err != nil {
			if errors.Is(err, walker.ErrRootUnreadable) {
				log.WithError(err).Error("Root directory is not accessible")
				return err
			}
			if abortErr := s.handleWalkError(path, err); abortErr != nil {
				return abortErr
			}
			continue
		}

		s.stats.IncrementFilesFound()
		res := s.reencoder.Reencode(path)
		if abortErr := s.handleResult(res); abortErr != nil {
			log.WithError(abortErr).Error("Sweep aborted")
			return abortErr
		}
	}

	log.WithField("result", s.stats.GetResultLine()).Info("Sweep completed")
	return nil
}

// handleWalkError records an unreadable directory below the root.
func (s *Sweeper) handleWalkError(path string, err error) error {
	s.stats.IncrementWalkErrors()
	s.stats.AddError(path, reencoder.KindPathUnreadable.String(), err.Error())
	logger.WithFileOperation(s.logger, path, "walk").WithError(err).Warn("Cannot read directory")

	if s.config.IsFailFast() {
		return fmt.Errorf("%w at %s: %w", ErrAborted, path, &reencoder.Error{
			Path: path,
			Kind: reencoder.KindPathUnreadable,
			Err:  err,
		})
	}
	s.observer.OnWalkError(path, err)
	return nil
}

// handleResult updates statistics, notifies the observer and applies the error policy.
func (s *Sweeper) handleResult(res reencoder.Result) error {
	s.stats.IncrementFilesProcessed()
	entry := logger.WithFileOperation(s.logger, res.Path, "reencode").WithFields(logrus.Fields{
		"format":   res.Format.String(),
		"status":   res.Status.String(),
		"duration": res.Duration(),
	})

	switch res.Status {
	case reencoder.StatusSuccess:
		s.stats.IncrementFilesSucceeded()
		s.stats.IncrementFileType(res.Format.String())
		s.stats.AddBytes(res.OriginalSize, res.EncodedSize)
		entry.WithFields(logrus.Fields{
			"size_before": res.OriginalSize,
			"size_after":  res.EncodedSize,
		}).Info("Compressed and saved")

	case reencoder.StatusSkipped:
		s.stats.IncrementFilesSkipped()
		if res.Format == reencoder.FormatUnsupported {
			s.stats.IncrementFilesUnsupported()
		} else {
			s.stats.IncrementFileType(res.Format.String())
		}
		entry.WithField("reason", res.Reason).Debug("Skipped")

	case reencoder.StatusFailed:
		s.stats.IncrementFilesFailed()
		s.stats.AddError(res.Path, reencoder.KindOf(res.Err).String(), res.Err.Error())
		entry.WithError(res.Err).Error("Error processing file")
		if s.config.IsFailFast() && reencoder.IsFailure(res.Err) {
			return fmt.Errorf("%w at %s: %w", ErrAborted, res.Path, res.Err)
		}
	}

	s.observer.OnResult(res)
	return nil
}
