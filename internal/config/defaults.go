package config

const (
	defaultConfigPath                = "~/.config/printkiosk/config.toml"
	defaultDataDir                   = "~/.local/share/printkiosk"
	defaultWorkspaceDir              = "~/.local/share/printkiosk/workspace"
	defaultArtifactDir               = "~/.local/share/printkiosk/artifacts"
	defaultLogDir                    = "~/.local/share/printkiosk/logs"
	defaultAPIBind                   = "127.0.0.1:8787"
	defaultEngineBinary              = "soffice"
	defaultEngineTimeout             = 120
	defaultMaxInputMiB               = 50
	defaultOutputSettleMillis        = 2000
	defaultPaperSize                 = "a4"
	defaultArtifactRetentionHours    = 24
	defaultFallbackMaxRunes          = 200000
	defaultRecencyWindowSeconds      = 10
	defaultStalePendingSeconds       = 15
	defaultProgressFloor             = 5
	defaultSweepIntervalSeconds      = 15
	defaultStuckAfterMinutes         = 60
	defaultStuckProgressThreshold    = 5
	defaultAncientAfterMinutes       = 120
	defaultCompletedRetentionSeconds = 10
	defaultProtectProgressAbove      = 50
	defaultRecencyGuardSeconds       = 30
	defaultBlackWhitePerPage         = 0.10
	defaultColorPerPage              = 0.50
	defaultLPBinary                  = "lp"
	defaultLPStatBinary              = "lpstat"
	defaultPrintPollInterval         = 2
	defaultPrintTimeout              = 600
	defaultPrintQueueSize            = 32
	defaultPrintResync               = 30
	defaultLockBackend               = "local"
	defaultLockTTLSeconds            = 15
	defaultMountRoot                 = "/media"
	defaultDevicePollInterval        = 5
	defaultDeviceMaxFiles            = 500
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

var defaultDeviceExtensions = []string{".pdf", ".doc", ".docx", ".odt", ".rtf", ".txt", ".xls", ".xlsx", ".ods", ".ppt", ".pptx", ".odp", ".csv"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			WorkspaceDir: defaultWorkspaceDir,
			ArtifactDir:  defaultArtifactDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Conversion: Conversion{
			EngineBinary:           defaultEngineBinary,
			EngineTimeout:          defaultEngineTimeout,
			MaxInputMiB:            defaultMaxInputMiB,
			OutputSettleMillis:     defaultOutputSettleMillis,
			PaperSize:              defaultPaperSize,
			ArtifactRetentionHours: defaultArtifactRetentionHours,
			FallbackMaxRunes:       defaultFallbackMaxRunes,
		},
		Jobs: Jobs{
			RecencyWindowSeconds:      defaultRecencyWindowSeconds,
			StalePendingSeconds:       defaultStalePendingSeconds,
			ProgressFloor:             defaultProgressFloor,
			SweepIntervalSeconds:      defaultSweepIntervalSeconds,
			StuckAfterMinutes:         defaultStuckAfterMinutes,
			StuckProgressThreshold:    defaultStuckProgressThreshold,
			AncientAfterMinutes:       defaultAncientAfterMinutes,
			CompletedRetentionSeconds: defaultCompletedRetentionSeconds,
			ProtectProgressAbove:      defaultProtectProgressAbove,
			RecencyGuardSeconds:       defaultRecencyGuardSeconds,
		},
		Pricing: Pricing{
			BlackWhitePerPage: defaultBlackWhitePerPage,
			ColorPerPage:      defaultColorPerPage,
		},
		Printing: Printing{
			LPBinary:            defaultLPBinary,
			LPStatBinary:        defaultLPStatBinary,
			PollIntervalSeconds: defaultPrintPollInterval,
			PrintTimeoutSeconds: defaultPrintTimeout,
			QueueSize:           defaultPrintQueueSize,
			ResyncSeconds:       defaultPrintResync,
			SyntheticFallback:   true,
		},
		Locking: Locking{
			Backend:    defaultLockBackend,
			TTLSeconds: defaultLockTTLSeconds,
		},
		Devices: Devices{
			Enabled:             true,
			MountRoot:           defaultMountRoot,
			PollIntervalSeconds: defaultDevicePollInterval,
			Extensions:          append([]string(nil), defaultDeviceExtensions...),
			MaxFiles:            defaultDeviceMaxFiles,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
