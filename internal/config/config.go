package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir      string   `toml:"data_dir"`
	WorkspaceDir string   `toml:"workspace_dir"`
	ArtifactDir  string   `toml:"artifact_dir"`
	LogDir       string   `toml:"log_dir"`
	IntakeDirs   []string `toml:"intake_dirs"`
	APIBind      string   `toml:"api_bind"`
	APIToken     string   `toml:"api_token"`
}

// Conversion contains configuration for the document conversion pipeline.
type Conversion struct {
	EngineBinary           string `toml:"engine_binary"`
	EngineTimeout          int    `toml:"engine_timeout"`
	MaxInputMiB            int    `toml:"max_input_mib"`
	OutputSettleMillis     int    `toml:"output_settle_millis"`
	PaperSize              string `toml:"paper_size"`
	ArtifactRetentionHours int    `toml:"artifact_retention_hours"`
	FallbackMaxRunes       int    `toml:"fallback_max_runes"`
}

// Jobs contains configuration for submission deduplication and the stale job reaper.
type Jobs struct {
	RecencyWindowSeconds      int `toml:"recency_window_seconds"`
	StalePendingSeconds       int `toml:"stale_pending_seconds"`
	ProgressFloor             int `toml:"progress_floor"`
	SweepIntervalSeconds      int `toml:"sweep_interval_seconds"`
	StuckAfterMinutes         int `toml:"stuck_after_minutes"`
	StuckProgressThreshold    int `toml:"stuck_progress_threshold"`
	AncientAfterMinutes       int `toml:"ancient_after_minutes"`
	CompletedRetentionSeconds int `toml:"completed_retention_seconds"`
	ProtectProgressAbove      int `toml:"protect_progress_above"`
	RecencyGuardSeconds       int `toml:"recency_guard_seconds"`
}

// Pricing contains per-page prices used to derive the informational job price.
type Pricing struct {
	BlackWhitePerPage float64 `toml:"black_white_per_page"`
	ColorPerPage      float64 `toml:"color_per_page"`
}

// Printing contains configuration for handing jobs to the print spooler.
type Printing struct {
	LPBinary            string `toml:"lp_binary"`
	LPStatBinary        string `toml:"lpstat_binary"`
	DefaultPrinter      string `toml:"default_printer"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	PrintTimeoutSeconds int    `toml:"print_timeout_seconds"`
	QueueSize           int    `toml:"queue_size"`
	ResyncSeconds       int    `toml:"resync_interval_seconds"`
	SyntheticFallback   bool   `toml:"synthetic_fallback"`
}

// Locking selects the backend for per-document mutual exclusion.
type Locking struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLSeconds    int    `toml:"ttl_seconds"`
}

// Devices contains configuration for the USB device/file event feed.
type Devices struct {
	Enabled             bool     `toml:"enabled"`
	MountRoot           string   `toml:"mount_root"`
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	Extensions          []string `toml:"extensions"`
	MaxFiles            int      `toml:"max_files"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the kiosk core.
//
// Configuration sections by subsystem:
//   - Paths: data, workspace, artifact and log directories plus the API bind address
//   - Conversion: engine binary, timeouts and input limits
//   - Jobs: deduplication windows and reaper thresholds
//   - Pricing: informational per-page prices
//   - Printing: spooler binaries and polling
//   - Locking: local or redis backed per-document locks
//   - Devices: USB intake feed
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Conversion Conversion `toml:"conversion"`
	Jobs       Jobs       `toml:"jobs"`
	Pricing    Pricing    `toml:"pricing"`
	Printing   Printing   `toml:"printing"`
	Locking    Locking    `toml:"locking"`
	Devices    Devices    `toml:"devices"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("printkiosk.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkspaceDir, c.Paths.ArtifactDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the job store database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "printkiosk.lock")
}

// IntakeRoots returns the directories POST /convert may read a filePath
// from: the removable media root plus any configured scan directories.
func (c *Config) IntakeRoots() []string {
	roots := make([]string, 0, len(c.Paths.IntakeDirs)+1)
	if c.Devices.MountRoot != "" {
		roots = append(roots, c.Devices.MountRoot)
	}
	return append(roots, c.Paths.IntakeDirs...)
}

// EngineTimeout returns the hard wall-clock bound for one engine run.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Conversion.EngineTimeout) * time.Second
}

// MaxInputBytes returns the largest accepted conversion input.
func (c *Config) MaxInputBytes() int64 {
	return int64(c.Conversion.MaxInputMiB) << 20
}

// OutputSettle returns how long the coordinator waits for engine output to appear.
func (c *Config) OutputSettle() time.Duration {
	return time.Duration(c.Conversion.OutputSettleMillis) * time.Millisecond
}

// ArtifactRetention returns how long published artifacts are kept on disk.
func (c *Config) ArtifactRetention() time.Duration {
	return time.Duration(c.Conversion.ArtifactRetentionHours) * time.Hour
}

// SweepInterval returns the reaper tick interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
