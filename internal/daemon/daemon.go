package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"printkiosk/internal/config"
	"printkiosk/internal/deps"
	"printkiosk/internal/devicefeed"
	"printkiosk/internal/jobs"
	"printkiosk/internal/logging"
)

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *jobs.Store
	comps  *Components
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	APIAddress   string
	Spooler      string
	DeviceMode   devicefeed.Mode
	Jobs         map[jobs.Status]int
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	comps, err := Build(cfg, store, logger)
	if err != nil {
		return nil, err
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		comps:    comps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Components exposes the wired services.
func (d *Daemon) Components() *Components {
	return d.comps
}

// Start acquires the daemon lock and launches the API server, the print
// dispatcher, the reaper loop and the device feed.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.stopped {
		return errors.New("daemon was stopped; construct a new one to restart")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another kiosk daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.comps.Engine.KillStray(); err != nil {
		logging.WarnWithContext(d.logger, "failed to stop leftover engine", "engine_kill_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "kill the stale soffice process manually"),
			logging.String(logging.FieldImpact, "the first conversion may time out"),
		)
	}

	d.api = newAPIServer(d.cfg, d.comps, d.logger)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		d.api = nil
		return fmt.Errorf("start api: %w", err)
	}

	dispatcher := d.comps.Dispatcher
	dispatcher.Start(runCtx)
	if queued, err := dispatcher.Recover(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "failed to requeue active jobs", "dispatch_recover_failed",
			logging.Int("queued", queued),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise printing.queue_size or clear stale jobs"),
			logging.String(logging.FieldImpact, "remaining jobs wait for the next dispatcher resync"),
		)
	} else if queued > 0 {
		d.logger.Info("requeued active jobs", logging.Int("count", queued))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.comps.Reaper.Run(runCtx, d.cfg.SweepInterval())
	}()

	if d.comps.Devices != nil {
		if err := d.comps.Devices.Start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "device feed unavailable", "devicefeed_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check devices.mount_root"),
				logging.String(logging.FieldImpact, "USB documents are not listed"),
			)
		}
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("kiosk daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.addr()),
		logging.String("spooler", dispatcher.Spooler().Name()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if d.comps.Devices != nil {
		d.comps.Devices.Stop()
	}
	<-d.comps.Dispatcher.Done()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.running.Store(false)
	d.stopped = true
	d.logger.Info("kiosk daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Spooler:      d.comps.Dispatcher.Spooler().Name(),
		DeviceMode:   devicefeed.ModeStopped,
		Dependencies: deps.Check(d.cfg),
	}
	d.mu.Lock()
	status.APIAddress = d.api.addr()
	d.mu.Unlock()
	if d.comps.Devices != nil {
		status.DeviceMode = d.comps.Devices.Mode()
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.Jobs = stats
	} else {
		d.logger.Debug("job stats unavailable", logging.Error(err))
	}
	return status
}
