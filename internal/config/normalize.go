package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeConversion()
	c.normalizePrinting()
	c.normalizeLocking()
	if err := c.normalizeDevices(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		c.Paths.WorkspaceDir = defaultWorkspaceDir
	}
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	intake := make([]string, 0, len(c.Paths.IntakeDirs))
	for _, dir := range c.Paths.IntakeDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		expanded, err := expandPath(dir)
		if err != nil {
			return fmt.Errorf("paths.intake_dirs: %w", err)
		}
		intake = append(intake, expanded)
	}
	c.Paths.IntakeDirs = intake
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("KIOSK_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeConversion() {
	if value, ok := os.LookupEnv("KIOSK_ENGINE_BINARY"); ok && strings.TrimSpace(value) != "" {
		c.Conversion.EngineBinary = strings.TrimSpace(value)
	}
	c.Conversion.EngineBinary = strings.TrimSpace(c.Conversion.EngineBinary)
	if c.Conversion.EngineBinary == "" {
		c.Conversion.EngineBinary = defaultEngineBinary
	}
	c.Conversion.PaperSize = strings.ToLower(strings.TrimSpace(c.Conversion.PaperSize))
	if c.Conversion.PaperSize == "" {
		c.Conversion.PaperSize = defaultPaperSize
	}
}

func (c *Config) normalizePrinting() {
	c.Printing.LPBinary = strings.TrimSpace(c.Printing.LPBinary)
	if c.Printing.LPBinary == "" {
		c.Printing.LPBinary = defaultLPBinary
	}
	c.Printing.LPStatBinary = strings.TrimSpace(c.Printing.LPStatBinary)
	if c.Printing.LPStatBinary == "" {
		c.Printing.LPStatBinary = defaultLPStatBinary
	}
	if c.Printing.DefaultPrinter == "" {
		if value, ok := os.LookupEnv("KIOSK_DEFAULT_PRINTER"); ok {
			c.Printing.DefaultPrinter = value
		}
	}
	c.Printing.DefaultPrinter = strings.TrimSpace(c.Printing.DefaultPrinter)
}

func (c *Config) normalizeLocking() {
	c.Locking.Backend = strings.ToLower(strings.TrimSpace(c.Locking.Backend))
	if c.Locking.Backend == "" {
		c.Locking.Backend = defaultLockBackend
	}
	if c.Locking.RedisAddr == "" {
		if value, ok := os.LookupEnv("KIOSK_REDIS_ADDR"); ok {
			c.Locking.RedisAddr = value
		}
	}
	c.Locking.RedisAddr = strings.TrimSpace(c.Locking.RedisAddr)
	if c.Locking.RedisPassword == "" {
		if value, ok := os.LookupEnv("KIOSK_REDIS_PASSWORD"); ok {
			c.Locking.RedisPassword = value
		}
	}
}

func (c *Config) normalizeDevices() error {
	var err error
	if strings.TrimSpace(c.Devices.MountRoot) == "" {
		c.Devices.MountRoot = defaultMountRoot
	}
	if c.Devices.MountRoot, err = expandPath(c.Devices.MountRoot); err != nil {
		return fmt.Errorf("devices.mount_root: %w", err)
	}
	if len(c.Devices.Extensions) == 0 {
		c.Devices.Extensions = append([]string(nil), defaultDeviceExtensions...)
	}
	seen := make(map[string]struct{}, len(c.Devices.Extensions))
	normalized := make([]string, 0, len(c.Devices.Extensions))
	for _, ext := range c.Devices.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		normalized = append(normalized, ext)
	}
	c.Devices.Extensions = normalized
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
