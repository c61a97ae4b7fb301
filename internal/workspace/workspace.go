package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"printkiosk/internal/fileutil"
	"printkiosk/internal/logging"
	"printkiosk/internal/services"
)

const (
	stageName     = "workspace"
	lockFileName  = ".workspace.lock"
	profileDir    = ".profile"
	lockRetry     = 50 * time.Millisecond
	locatePoll    = 50 * time.Millisecond
	inputPrefix   = "input-"
	nameHashChars = 16
)

// purgeExtensions lists artifacts a previous run may have left behind.
var purgeExtensions = map[string]struct{}{
	".pdf": {}, ".docx": {}, ".doc": {}, ".odt": {}, ".xlsx": {}, ".xls": {}, ".ods": {},
	".pptx": {}, ".ppt": {}, ".odp": {}, ".txt": {}, ".rtf": {}, ".csv": {}, ".tmp": {},
	".part": {}, ".partial": {},
}

// Copier places src at dst. Implementations may be swapped to simulate faulty
// storage; the manager verifies the result independently.
type Copier func(src, dst string) error

// Option configures a Manager.
type Option func(*Manager)

// WithCopier overrides how source files are copied into the workspace.
func WithCopier(copier Copier) Option {
	return func(m *Manager) {
		if copier != nil {
			m.copier = copier
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.NewComponentLogger(logger, "workspace")
	}
}

// WithClock overrides the time source used for age based purges.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns a single scratch directory.
type Manager struct {
	dir    string
	copier Copier
	logger *slog.Logger
	now    func() time.Time
}

// New returns a manager for dir, creating the directory when needed.
func New(dir string, opts ...Option) (*Manager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init", "workspace directory not configured", nil)
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace dir: %w", err)
	}
	m := &Manager{
		dir: abs,
		copier: func(src, dst string) error {
			_, err := fileutil.CopyFileVerified(src, dst)
			return err
		},
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	return m, nil
}

// Dir returns the absolute workspace directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Prepare acquires the workspace lock and purges leftovers from previous runs.
// It blocks until the lock is free or ctx is done.
func (m *Manager) Prepare(ctx context.Context) (*Handle, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	lock := flock.New(filepath.Join(m.dir, lockFileName))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "lock", "acquire workspace lock", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrTransient, stageName, "lock", "workspace busy", nil)
	}

	handle := &Handle{manager: m, lock: lock}
	removed, err := m.purgeRunArtifacts()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if removed > 0 {
		m.logger.Debug("purged previous run artifacts", logging.Int("removed", removed))
	}
	return handle, nil
}

func (m *Manager) purgeRunArtifacts() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read workspace dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(m.dir, name)
		switch {
		case name == lockFileName:
			continue
		case entry.IsDir():
			if name != profileDir {
				continue
			}
		case strings.HasPrefix(name, inputPrefix):
		default:
			if _, ok := purgeExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
				continue
			}
		}
		if err := os.RemoveAll(path); err != nil {
			logging.WarnWithContext(m.logger, "failed to purge workspace entry", "workspace_purge_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check workspace_dir permissions"),
				logging.String(logging.FieldImpact, "stale files may linger in the workspace"),
			)
			continue
		}
		removed++
	}
	return removed, nil
}

// Handle is an exclusive lease on the workspace for one conversion.
type Handle struct {
	manager *Manager
	lock    *flock.Flock

	mu      sync.Mutex
	placed  []string
	release sync.Once
}

// Dir returns the absolute workspace directory.
func (h *Handle) Dir() string {
	return h.manager.dir
}

// ProfileDir returns the per-run engine profile directory inside the workspace.
func (h *Handle) ProfileDir() string {
	return filepath.Join(h.manager.dir, profileDir)
}

// PlaceInput writes data into the workspace under a name derived from its content.
func (h *Handle) PlaceInput(data []byte, originalName string) (string, error) {
	sum := sha256.Sum256(data)
	path := h.inputPath(hex.EncodeToString(sum[:]), originalName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "place", "write input", err)
	}
	h.track(path)
	if err := verifySize(path, int64(len(data))); err != nil {
		return "", err
	}
	return path, nil
}

// PlaceFile copies src into the workspace and verifies the placed size matches
// the source. It returns the placed path and the source size.
func (h *Handle) PlaceFile(src, originalName string) (string, int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", 0, services.Wrap(services.ErrValidation, stageName, "place", "stat source", err)
	}
	digest, err := fileutil.HashFile(src)
	if err != nil {
		return "", 0, services.Wrap(services.ErrValidation, stageName, "place", "read source", err)
	}
	path := h.inputPath(digest.SHA256, originalName)
	h.track(path)
	if err := h.manager.copier(src, path); err != nil {
		return "", 0, services.Wrap(services.ErrIntegrity, stageName, "place", "copy into workspace", err)
	}
	if err := verifySize(path, info.Size()); err != nil {
		return "", 0, err
	}
	return path, info.Size(), nil
}

// PlaceReader streams r into the workspace, refusing more than limit bytes.
func (h *Handle) PlaceReader(r io.Reader, originalName string, limit int64) (string, int64, error) {
	staging := filepath.Join(h.manager.dir, inputPrefix+"upload.part")
	h.track(staging)
	digest, err := fileutil.WriteLimited(r, staging, limit)
	if err != nil {
		if isLimit(err) {
			return "", 0, services.Wrap(services.ErrTooLarge, stageName, "place", fmt.Sprintf("input exceeds %d bytes", limit), err)
		}
		return "", 0, services.Wrap(services.ErrValidation, stageName, "place", "read upload", err)
	}
	path := h.inputPath(digest.SHA256, originalName)
	h.track(path)
	if err := os.Rename(staging, path); err != nil {
		return "", 0, services.Wrap(services.ErrTransient, stageName, "place", "rename upload", err)
	}
	if err := verifySize(path, digest.Size); err != nil {
		return "", 0, err
	}
	return path, digest.Size, nil
}

// OutputName returns the deterministic output path for a placed input.
func (h *Handle) OutputName(inputPath, ext string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(h.manager.dir, stem+strings.ToLower(ext))
}

// LocateOutput waits up to settle for expectedName to become visible in the
// workspace. It never falls back to scanning the directory.
func (h *Handle) LocateOutput(ctx context.Context, expectedName string, settle time.Duration) (string, error) {
	path := filepath.Join(h.manager.dir, filepath.Base(expectedName))
	deadline := time.Now().Add(settle)
	for {
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if time.Now().After(deadline) {
			return "", services.Wrap(services.ErrNotFound, stageName, "locate", fmt.Sprintf("expected output %s not produced", filepath.Base(path)), nil)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(locatePoll):
		}
	}
}

// Track registers an additional workspace path for removal on Cleanup.
func (h *Handle) Track(path string) {
	h.track(path)
}

// Cleanup removes every input placed through this handle and the engine profile.
func (h *Handle) Cleanup() {
	h.mu.Lock()
	placed := h.placed
	h.placed = nil
	h.mu.Unlock()
	for _, path := range placed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.manager.logger.Debug("failed to remove placed input", logging.String("path", path), logging.Error(err))
		}
	}
	_ = os.RemoveAll(h.ProfileDir())
}

// Release unlocks the workspace. It is safe to call more than once.
func (h *Handle) Release() error {
	var err error
	h.release.Do(func() {
		err = h.lock.Unlock()
	})
	return err
}

func (h *Handle) track(path string) {
	h.mu.Lock()
	h.placed = append(h.placed, path)
	h.mu.Unlock()
}

func (h *Handle) inputPath(hexDigest, originalName string) string {
	if len(hexDigest) > nameHashChars {
		hexDigest = hexDigest[:nameHashChars]
	}
	return filepath.Join(h.manager.dir, inputPrefix+hexDigest+SafeExtension(originalName))
}

// SafeExtension returns the lowercased extension of name restricted to ASCII
// letters and digits, or an empty string.
func SafeExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func verifySize(path string, want int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrIntegrity, stageName, "verify", "placed input missing", err)
	}
	if info.Size() != want {
		return services.Wrap(services.ErrIntegrity, stageName, "verify",
			fmt.Sprintf("placed input is %d bytes, source is %d bytes", info.Size(), want), nil)
	}
	return nil
}
