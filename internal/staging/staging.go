// Package staging manages the local directory a run downloads into.
//
// An Area is exclusive to one run at a time. Nothing here locks the
// directory; overlapping runs on the same path must be prevented by whoever
// schedules them.
package staging

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StagedFile is a downloaded artifact waiting for upload.
type StagedFile struct {
	Path string
	Name string
}

// Area is an acquired staging directory.
type Area struct {
	dir  string
	keep bool
}

// Option configures Acquire.
type Option func(*Area)

// WithKeep leaves the directory in place on Release.
func WithKeep(keep bool) Option {
	return func(a *Area) { a.keep = keep }
}

// Acquire removes whatever is at dir and recreates it empty.
func Acquire(dir string, opts ...Option) (*Area, error) {
	if dir == "" || filepath.Clean(dir) == "/" {
		return nil, fmt.Errorf("refusing to use %q as staging directory", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear staging directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory %s: %w", dir, err)
	}

	a := &Area{dir: dir}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Dir returns the directory path.
func (a *Area) Dir() string {
	return a.dir
}

// Release deletes the directory tree unless the area was acquired WithKeep.
// It is safe to call more than once.
func (a *Area) Release() error {
	if a.keep {
		slog.Debug("keeping staging directory", "dir", a.dir)
		return nil
	}
	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("release staging directory %s: %w", a.dir, err)
	}
	return nil
}

// Files walks the area recursively and returns regular files whose name ends
// with ext, compared case-insensitively, sorted by path.
func (a *Area) Files(ext string) ([]StagedFile, error) {
	ext = strings.ToLower(ext)

	var files []StagedFile
	err := filepath.WalkDir(a.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ext) {
			files = append(files, StagedFile{Path: path, Name: d.Name()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk staging directory %s: %w", a.dir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
