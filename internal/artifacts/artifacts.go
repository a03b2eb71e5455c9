package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lance13c/deltawatch/internal/logging"
)

// Store writes screenshot artifacts under one directory.
// Files are named <monitorID>_<unixMillis>.png; diff renders add a _diff suffix.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates the screenshot directory if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create screenshots directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the artifact directory
func (s *Store) Dir() string {
	return s.dir
}

// SaveScreenshot writes a PNG for the monitor and returns its path
func (s *Store) SaveScreenshot(monitorID int64, png []byte) (string, error) {
	ts := s.now().UnixMilli()

	// Two captures in the same millisecond must not overwrite each other
	for {
		path := filepath.Join(s.dir, fmt.Sprintf("%d_%d.png", monitorID, ts))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			ts++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create screenshot: %w", err)
		}

		if _, err := f.Write(png); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to write screenshot: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("failed to write screenshot: %w", err)
		}
		return path, nil
	}
}

// DiffPath returns where the diff render for a screenshot is written
func DiffPath(screenshotPath string) string {
	return strings.TrimSuffix(screenshotPath, ".png") + "_diff.png"
}

// Remove deletes an artifact. A missing file or empty path is not an error.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// RemoveQuietly deletes an artifact and logs instead of failing
func (s *Store) RemoveQuietly(path string) {
	if err := s.Remove(path); err != nil {
		logging.Warn("Screenshot cleanup: %v", err)
	}
}

// RemoveMonitor deletes every artifact belonging to a monitor
func (s *Store) RemoveMonitor(monitorID int64) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list screenshots: %w", err)
	}

	prefix := strconv.FormatInt(monitorID, 10) + "_"
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := s.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
