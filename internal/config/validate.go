package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validatePricing(); err != nil {
		return err
	}
	if err := c.validatePrinting(); err != nil {
		return err
	}
	if err := c.validateLocking(); err != nil {
		return err
	}
	if err := c.validateDevices(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	workspace := filepath.Clean(c.Paths.WorkspaceDir)
	artifacts := filepath.Clean(c.Paths.ArtifactDir)
	if workspace == artifacts {
		return errors.New("paths.artifact_dir must differ from paths.workspace_dir; workspace preparation purges its PDFs")
	}
	return nil
}

func (c *Config) validateConversion() error {
	if err := ensurePositiveMap(map[string]int{
		"conversion.engine_timeout":           c.Conversion.EngineTimeout,
		"conversion.max_input_mib":            c.Conversion.MaxInputMiB,
		"conversion.artifact_retention_hours": c.Conversion.ArtifactRetentionHours,
		"conversion.fallback_max_runes":       c.Conversion.FallbackMaxRunes,
	}); err != nil {
		return err
	}
	if c.Conversion.OutputSettleMillis < 0 {
		return errors.New("conversion.output_settle_millis must be zero or positive")
	}
	switch c.Conversion.PaperSize {
	case "a4", "letter":
	default:
		return fmt.Errorf("conversion.paper_size: unsupported value %q (use a4 or letter)", c.Conversion.PaperSize)
	}
	return nil
}

func (c *Config) validateJobs() error {
	if err := ensurePositiveMap(map[string]int{
		"jobs.recency_window_seconds":      c.Jobs.RecencyWindowSeconds,
		"jobs.stale_pending_seconds":       c.Jobs.StalePendingSeconds,
		"jobs.sweep_interval_seconds":      c.Jobs.SweepIntervalSeconds,
		"jobs.stuck_after_minutes":         c.Jobs.StuckAfterMinutes,
		"jobs.ancient_after_minutes":       c.Jobs.AncientAfterMinutes,
		"jobs.completed_retention_seconds": c.Jobs.CompletedRetentionSeconds,
		"jobs.recency_guard_seconds":       c.Jobs.RecencyGuardSeconds,
	}); err != nil {
		return err
	}
	if c.Jobs.ProgressFloor < 0 || c.Jobs.ProgressFloor > 100 {
		return errors.New("jobs.progress_floor must be between 0 and 100")
	}
	if c.Jobs.StuckProgressThreshold < 0 || c.Jobs.StuckProgressThreshold > 100 {
		return errors.New("jobs.stuck_progress_threshold must be between 0 and 100")
	}
	if c.Jobs.ProtectProgressAbove < 0 || c.Jobs.ProtectProgressAbove > 100 {
		return errors.New("jobs.protect_progress_above must be between 0 and 100")
	}
	if c.Jobs.AncientAfterMinutes < c.Jobs.StuckAfterMinutes {
		return errors.New("jobs.ancient_after_minutes must not be shorter than jobs.stuck_after_minutes")
	}
	return nil
}

func (c *Config) validatePricing() error {
	if c.Pricing.BlackWhitePerPage < 0 || c.Pricing.ColorPerPage < 0 {
		return errors.New("pricing values must not be negative")
	}
	return nil
}

func (c *Config) validatePrinting() error {
	return ensurePositiveMap(map[string]int{
		"printing.poll_interval_seconds":   c.Printing.PollIntervalSeconds,
		"printing.print_timeout_seconds":   c.Printing.PrintTimeoutSeconds,
		"printing.queue_size":              c.Printing.QueueSize,
		"printing.resync_interval_seconds": c.Printing.ResyncSeconds,
	})
}

func (c *Config) validateLocking() error {
	switch c.Locking.Backend {
	case "local":
		return nil
	case "redis":
		if c.Locking.RedisAddr == "" {
			return errors.New("locking.redis_addr is required when locking.backend is redis (or set KIOSK_REDIS_ADDR)")
		}
		if c.Locking.TTLSeconds <= 0 {
			return errors.New("locking.ttl_seconds must be positive")
		}
		return nil
	default:
		return fmt.Errorf("locking.backend: unsupported value %q", c.Locking.Backend)
	}
}

func (c *Config) validateDevices() error {
	if !c.Devices.Enabled {
		return nil
	}
	return ensurePositiveMap(map[string]int{
		"devices.poll_interval_seconds": c.Devices.PollIntervalSeconds,
		"devices.max_files":             c.Devices.MaxFiles,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
