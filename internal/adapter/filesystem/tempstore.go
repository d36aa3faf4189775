package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vertextoedge/rangefetch/internal/port"
)

// Store manages the download temp directory. Temp files are named
// <stem>.<last-modified-epoch-millis> so the resume key is embedded in the
// filename itself: a stale partial (different last-modified) simply never
// matches and is ignored.
type Store struct {
	dir string
}

// Ensure Store implements port.TempStore
var _ port.TempStore = (*Store)(nil)

// New creates a temp store rooted at dir. An empty dir falls back to the
// system temp directory.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the temp directory root.
func (s *Store) Dir() string {
	return s.dir
}

// TempPath returns the temp file path for a destination stem and resume key.
// A zero key means the resource has no stable last-modified identity; such
// transfers always restart, so they share a keyless name.
func (s *Store) TempPath(stem string, key int64) string {
	if key == 0 {
		return filepath.Join(s.dir, stem+".partial")
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s.%d", stem, key))
}

// Size returns the current length of a temp file, or 0 if it does not exist.
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes a temp file. Removing a missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}

// Promote moves a finished temp file to its destination, creating parent
// directories as needed. os.Rename fails across filesystems, so it falls
// back to copy+delete.
func (s *Store) Promote(tempPath, destPath string) error {
	if dir := filepath.Dir(destPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create parent dir: %w", err)
		}
	}

	if err := os.Rename(tempPath, destPath); err == nil {
		return nil
	}

	src, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to copy to destination: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to close destination: %w", err)
	}

	src.Close()
	return s.Remove(tempPath)
}

// CleanOld removes temp files older than the specified duration.
func (s *Store) CleanOld(olderThan time.Duration) (int, error) {
	threshold := time.Now().Add(-olderThan)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !isTempName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(threshold) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				count++
			}
		}
	}
	return count, nil
}

// isTempName reports whether a filename looks like one of ours: either the
// keyless ".partial" suffix or a trailing ".<epoch-millis>".
func isTempName(name string) bool {
	ext := filepath.Ext(name)
	if ext == ".partial" {
		return true
	}
	if len(ext) < 2 {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimPrefix(ext, "."), 10, 64)
	return err == nil
}
