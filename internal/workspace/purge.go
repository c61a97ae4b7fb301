package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"printkiosk/internal/fileutil"
	"printkiosk/internal/logging"
)

// PurgeResult contains the outcome of an age based purge.
type PurgeResult struct {
	Removed []string
	Errors  []PurgeError
}

// PurgeError pairs a path with its removal error.
type PurgeError struct {
	Path  string
	Error error
}

// PurgeOlderThan removes regular files in the managed directory matching the
// glob pattern whose modification time is older than maxAge.
func (m *Manager) PurgeOlderThan(pattern string, maxAge time.Duration) (PurgeResult, error) {
	result := PurgeResult{}
	matches, err := filepath.Glob(filepath.Join(m.dir, pattern))
	if err != nil {
		return result, fmt.Errorf("purge pattern %q: %w", pattern, err)
	}

	cutoff := m.now().Add(-maxAge)
	for _, path := range matches {
		if filepath.Base(path) == lockFileName {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				result.Errors = append(result.Errors, PurgeError{Path: path, Error: err})
			}
			continue
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, PurgeError{Path: path, Error: err})
			logging.WarnWithContext(m.logger, "failed to purge expired file", "workspace_purge_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check directory permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		m.logger.Info("purged expired file",
			logging.String("path", path),
			logging.Duration("age", m.now().Sub(info.ModTime())),
			logging.String(logging.FieldEventType, "workspace_purge"),
		)
	}
	return result, nil
}

func isLimit(err error) bool {
	return errors.Is(err, fileutil.ErrLimitExceeded)
}
