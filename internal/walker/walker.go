// Package walker enumerates candidate image files under a directory tree.
package walker

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// ErrRootUnreadable is matched by the error yielded when the walk root cannot be accessed.
var ErrRootUnreadable = errors.New("root directory is not accessible")

// RootError reports an inaccessible walk root.
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("root %s is not accessible: %v", e.Root, e.Err)
}

func (e *RootError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRootUnreadable) match any RootError.
func (e *RootError) Is(target error) bool { return target == ErrRootUnreadable }

// Walk returns a lazy sequence of absolute paths of every regular file below root whose
// name ends, case-insensitively, with one of extensions.
//
// If root cannot be accessed the sequence yields exactly one (root, *RootError) pair.
// Unreadable sub-directories yield (dir, err) and the walk continues with their siblings.
// A symlinked root is followed and its files are reported below root. Symbolic links
// below the root are not followed and are never yielded.
// Order is whatever the filesystem returns.
func Walk(root string, extensions []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		abs, err := filepath.Abs(root)
		if err != nil {
			yield(root, &RootError{Root: root, Err: err})
			return
		}

		info, err := os.Stat(abs)
		if err != nil {
			yield(abs, &RootError{Root: abs, Err: err})
			return
		}
		if !info.IsDir() {
			yield(abs, &RootError{Root: abs, Err: errors.New("not a directory")})
			return
		}

		// WalkDir does not descend into a root that is itself a symlink.
		walkRoot, err := filepath.EvalSymlinks(abs)
		if err != nil {
			yield(abs, &RootError{Root: abs, Err: err})
			return
		}

		_ = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
			path = underRoot(abs, walkRoot, path)
			if err != nil {
				if path == abs {
					yield(path, &RootError{Root: abs, Err: err})
					return filepath.SkipAll
				}
				if !yield(path, err) {
					return filepath.SkipAll
				}
				return nil
			}

			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			if !MatchesExtension(d.Name(), extensions) {
				return nil
			}

			if !yield(path, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// underRoot rewrites a path found below walkRoot so it is reported below root.
func underRoot(root, walkRoot, path string) string {
	if root == walkRoot {
		return path
	}
	rel, err := filepath.Rel(walkRoot, path)
	if err != nil {
		return path
	}
	return filepath.Join(root, rel)
}

// MatchesExtension reports whether name ends, case-insensitively, with one of extensions.
func MatchesExtension(name string, extensions []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Collect drains seq. It stops at a root error and otherwise returns every path together
// with the first non-root error encountered.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	var (
		files    []string
		firstErr error
	)
	for path, err := range seq {
		if err != nil {
			if errors.Is(err, ErrRootUnreadable) {
				return nil, err
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("walk %s: %w", path, err)
			}
			continue
		}
		files = append(files, path)
	}
	return files, firstErr
}
