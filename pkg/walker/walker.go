// Package walker enumerates the files under a directory tree together with
// the forward-slash keys used to address them remotely.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// errStop ends the walk early when the consumer stops iterating.
var errStop = errors.New("stop walking")

// Entry is a file discovered under the root.
type Entry struct {
	// Key is the path relative to the root with forward slashes.
	Key string
	// Path is the local path used to open the file.
	Path string
	// Size is the file size in bytes at discovery time.
	Size int64
}

// Walker walks a root directory.
type Walker struct {
	root     string
	patterns []string
	ignore   *gitignore.GitIgnore
}

// New creates a Walker for root. Ignore patterns use gitignore syntax and are
// matched against keys. With no patterns every regular file is yielded.
func New(root string, ignore []string) *Walker {
	patterns := make([]string, 0, len(ignore))
	patterns = append(patterns, ignore...)

	return &Walker{
		root:     filepath.Clean(root),
		patterns: patterns,
		ignore:   gitignore.CompileIgnoreLines(patterns...),
	}
}

// Root returns the walked directory.
func (w *Walker) Root() string {
	return w.root
}

// Patterns returns the effective ignore patterns.
func (w *Walker) Patterns() []string {
	return w.patterns
}

// Entries returns a sequence over every regular file under the root. Each
// call starts a fresh walk. A symlinked root is resolved first. Below it,
// symlinks to regular files are yielded and symlinked directories are not
// descended into. Ordering is lexical but callers must not depend on it. A
// walk error is yielded once and ends the sequence.
func (w *Walker) Entries(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		root, err := filepath.EvalSymlinks(w.root)
		if err != nil {
			yield(Entry{}, fmt.Errorf("resolving root %s: %w", w.root, err))

			return
		}

		info, err := os.Stat(root)
		if err != nil {
			yield(Entry{}, fmt.Errorf("reading root %s: %w", w.root, err))

			return
		}

		if !info.IsDir() {
			yield(Entry{}, fmt.Errorf("root %s is not a directory", w.root))

			return
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			if path == root {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return fmt.Errorf("computing relative path: %w", err)
			}

			key := filepath.ToSlash(rel)

			if d.IsDir() {
				if w.ignore.MatchesPath(key + "/") {
					return filepath.SkipDir
				}

				return nil
			}

			if w.ignore.MatchesPath(key) {
				return nil
			}

			size, ok, err := regularSize(path, d)
			if err != nil {
				return err
			}

			if !ok {
				return nil
			}

			if !yield(Entry{Key: key, Path: path, Size: size}, nil) {
				return errStop
			}

			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(Entry{}, fmt.Errorf("walking %s: %w", w.root, err))
		}
	}
}

// regularSize reports the size of path if it is, or links to, a regular file.
func regularSize(path string, d fs.DirEntry) (int64, bool, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			// Dangling link.
			if errors.Is(err, fs.ErrNotExist) {
				return 0, false, nil
			}

			return 0, false, err
		}

		return info.Size(), info.Mode().IsRegular(), nil
	}

	if !d.Type().IsRegular() {
		return 0, false, nil
	}

	info, err := d.Info()
	if err != nil {
		return 0, false, err
	}

	return info.Size(), true, nil
}
