package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"printkiosk/internal/config"
	"printkiosk/internal/conversion"
	"printkiosk/internal/devicefeed"
	"printkiosk/internal/dispatch"
	"printkiosk/internal/jobs"
	"printkiosk/internal/keylock"
	"printkiosk/internal/logging"
	"printkiosk/internal/metrics"
	"printkiosk/internal/reaper"
	"printkiosk/internal/services/office"
	"printkiosk/internal/submission"
	"printkiosk/internal/workspace"
)

// enginePIDFile records the running office process so a restarted service
// can kill a conversion left behind by the previous one.
const enginePIDFile = "engine.pid"

// Components holds the wired kiosk services. The daemon runs them; CLI
// commands use them directly for one-shot work.
type Components struct {
	Store      *jobs.Store
	Metrics    *metrics.Metrics
	Locker     keylock.Locker
	Engine     *office.Client
	Publisher  *conversion.DirPublisher
	Converter  *conversion.Coordinator
	Submitter  *submission.Deduplicator
	Reaper     *reaper.Reaper
	Dispatcher *dispatch.Dispatcher
	Devices    *devicefeed.Feed
}

// Build wires every component from cfg around an open store.
func Build(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*Components, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("components require config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := metrics.New()

	locker, err := keylock.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	engine, err := office.New(cfg.Conversion.EngineBinary, cfg.EngineTimeout(),
		office.WithLogger(logger),
		office.WithPIDFile(filepath.Join(cfg.Paths.DataDir, enginePIDFile)),
	)
	if err != nil {
		return nil, fmt.Errorf("office engine: %w", err)
	}

	ws, err := workspace.New(cfg.Paths.WorkspaceDir, workspace.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	artifactDir, err := workspace.New(cfg.Paths.ArtifactDir, workspace.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	publisher, err := conversion.NewDirPublisher(artifactDir.Dir())
	if err != nil {
		return nil, err
	}

	converter := conversion.NewCoordinator(ws, engine,
		conversion.WithMaxInputBytes(cfg.MaxInputBytes()),
		conversion.WithFallback(conversion.NewFallback(cfg.Conversion.PaperSize, cfg.Conversion.FallbackMaxRunes, logger)),
		conversion.WithPublisher(publisher),
		conversion.WithSettle(cfg.OutputSettle()),
		conversion.WithLogger(logger),
		conversion.WithRecorder(m),
	)

	submitter := submission.New(store, locker, submission.PolicyFromConfig(cfg),
		submission.WithLogger(logger),
		submission.WithRecorder(m),
	)

	sweeper := reaper.New(store, locker, reaper.PolicyFromConfig(cfg),
		reaper.WithLogger(logger),
		reaper.WithRecorder(m),
		reaper.WithArtifacts(artifactDir),
	)

	dispatcher := dispatch.New(store, dispatch.SelectSpooler(cfg, logger), publisher,
		dispatch.WithLogger(logger),
		dispatch.WithRecorder(m),
		dispatch.WithPollInterval(time.Duration(cfg.Printing.PollIntervalSeconds)*time.Second),
		dispatch.WithPrintTimeout(time.Duration(cfg.Printing.PrintTimeoutSeconds)*time.Second),
		dispatch.WithQueueSize(cfg.Printing.QueueSize),
		dispatch.WithResyncInterval(time.Duration(cfg.Printing.ResyncSeconds)*time.Second),
		dispatch.WithDefaults(cfg.Printing.DefaultPrinter, cfg.Conversion.PaperSize),
	)

	comps := &Components{
		Store:      store,
		Metrics:    m,
		Locker:     locker,
		Engine:     engine,
		Publisher:  publisher,
		Converter:  converter,
		Submitter:  submitter,
		Reaper:     sweeper,
		Dispatcher: dispatcher,
	}
	if cfg.Devices.Enabled {
		comps.Devices = devicefeed.NewFromConfig(cfg, logger)
	}
	return comps, nil
}
