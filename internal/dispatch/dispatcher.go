package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"printkiosk/internal/jobs"
	"printkiosk/internal/logging"
	"printkiosk/internal/services"
)

// Store is the subset of the job store the dispatcher needs.
type Store interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	Update(ctx context.Context, id string, patch jobs.Patch) (*jobs.Job, error)
	List(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error)
}

// ArtifactResolver maps a published artifact URL to a local file.
type ArtifactResolver interface {
	ResolveArtifact(rawURL string) (string, error)
}

// Recorder observes dispatch outcomes.
type Recorder interface {
	ObserveDispatch(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDispatch(string) {}

// ErrQueueFull is returned by Enqueue when the bounded queue is saturated.
var ErrQueueFull = fmt.Errorf("%w: print queue is full", services.ErrUnavailable)

// Progress stages written as the spooler confirms them.
const (
	progressSending  = 10
	progressSpooled  = 25
	progressQueued   = 50
	progressPrinting = 75
)

const (
	defaultQueueSize    = 32
	defaultPollInterval = 2 * time.Second
	defaultPrintTimeout = 10 * time.Minute
	defaultResync       = 30 * time.Second
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithPollInterval sets how often spooler state is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithPrintTimeout bounds how long one job may stay in the spooler.
func WithPrintTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.printTimeout = timeout
		}
	}
}

// WithQueueSize sets the bounded queue capacity.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithResyncInterval sets how often active jobs the worker is not driving
// are queued again.
func WithResyncInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.resync = interval
		}
	}
}

// WithDefaults sets the printer and paper used when a job names none.
func WithDefaults(printer, paper string) Option {
	return func(d *Dispatcher) {
		d.defaultPrinter = printer
		d.defaultPaper = paper
	}
}

// Dispatcher runs one worker draining a bounded queue of job ids.
type Dispatcher struct {
	store    Store
	spooler  Spooler
	resolver ArtifactResolver
	logger   *slog.Logger
	recorder Recorder

	pollInterval   time.Duration
	printTimeout   time.Duration
	queueSize      int
	resync         time.Duration
	defaultPrinter string
	defaultPaper   string

	queue   chan string
	mu      sync.Mutex
	pending map[string]struct{}
	done    chan struct{}
	started bool
}

// New constructs a Dispatcher. Start must be called before jobs are processed.
func New(store Store, spooler Spooler, resolver ArtifactResolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		spooler:      spooler,
		resolver:     resolver,
		logger:       logging.NewNop(),
		recorder:     nopRecorder{},
		pollInterval: defaultPollInterval,
		printTimeout: defaultPrintTimeout,
		queueSize:    defaultQueueSize,
		resync:       defaultResync,
		pending:      make(map[string]struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "dispatch")
	d.queue = make(chan string, d.queueSize)
	return d
}

// Spooler returns the active spooler.
func (d *Dispatcher) Spooler() Spooler {
	return d.spooler
}

// Start launches the worker. It stops when ctx ends; Done is closed afterwards.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Info("print dispatcher started", logging.String("spooler", d.spooler.Name()))
	go func() {
		defer close(d.done)
		resync := time.NewTicker(d.resync)
		defer resync.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-resync.C:
				d.resyncActive(ctx)
			case id := <-d.queue:
				d.process(ctx, id)
				d.mu.Lock()
				delete(d.pending, id)
				d.mu.Unlock()
			}
		}
	}()
}

// Done is closed once the worker has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Enqueue schedules jobID. Ids already waiting or in flight are not queued
// twice.
func (d *Dispatcher) Enqueue(jobID string) error {
	_, err := d.enqueue(jobID)
	return err
}

func (d *Dispatcher) enqueue(jobID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[jobID]; ok {
		return false, nil
	}
	select {
	case d.queue <- jobID:
		d.pending[jobID] = struct{}{}
		return true, nil
	default:
		return false, ErrQueueFull
	}
}

// Recover queues every active job the worker is not already driving, oldest
// first. Pending jobs are dispatched from the start; processing and printing
// jobs left behind by a restart or a failed enqueue resume from their spool
// id, or are sent again when they never reached the spooler. It runs at
// startup and on every resync tick.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	active, err := d.store.List(ctx, jobs.Filter{Statuses: jobs.ActiveStatuses})
	if err != nil {
		return 0, err
	}
	queued := 0
	for i := len(active) - 1; i >= 0; i-- {
		added, err := d.enqueue(active[i].ID)
		if err != nil {
			return queued, err
		}
		if added {
			queued++
		}
	}
	return queued, nil
}

func (d *Dispatcher) resyncActive(ctx context.Context) {
	queued, err := d.Recover(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		d.logger.Debug("resync incomplete", logging.Int("queued", queued), logging.Error(err))
	case queued > 0:
		d.logger.Info("requeued active jobs", logging.Int("count", queued))
	}
}

func (d *Dispatcher) process(ctx context.Context, id string) {
	ctx = services.WithJobID(ctx, id)
	logger := logging.WithContext(ctx, d.logger)

	job, err := d.store.Get(ctx, id)
	if err != nil {
		logging.WarnWithContext(logger, "load job failed", "dispatch_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "job is retried on the next resync"),
			logging.String(logging.FieldImpact, "job was not printed"),
		)
		return
	}
	if job == nil || !job.Active() || job.Malformed() {
		return
	}
	logger = logger.With(logging.String(logging.FieldFileName, job.FileName))

	if job.SpoolID != "" {
		logger.Info("resuming spooled job", logging.String("spool_id", job.SpoolID))
		d.follow(ctx, logger, id, job.SpoolID)
		return
	}

	path, err := d.resolver.ResolveArtifact(job.FileURL)
	if err != nil {
		d.fail(ctx, logger, id, "Document is no longer available", err)
		return
	}
	sending := jobs.Patch{
		Progress:      jobs.Ptr(progressSending),
		StatusMessage: jobs.Ptr("Sending to printer"),
	}
	if job.Status == jobs.StatusPending {
		sending.Status = jobs.Ptr(jobs.StatusProcessing)
	}
	if !d.advance(ctx, logger, id, sending) {
		return
	}

	printer := job.PrinterName
	if printer == "" {
		printer = d.defaultPrinter
	}
	paper := job.PaperSize
	if paper == "" {
		paper = d.defaultPaper
	}
	spoolID, err := d.spooler.Submit(ctx, SpoolRequest{
		Printer:   printer,
		FilePath:  path,
		Copies:    job.Copies,
		Color:     job.IsColor,
		PaperSize: paper,
		Title:     job.FileName,
	})
	if err != nil {
		d.fail(ctx, logger, id, "Printer rejected the document", err)
		return
	}
	logger.Info("job spooled", logging.String("spool_id", spoolID), logging.String("spooler", d.spooler.Name()))
	if !d.advance(ctx, logger, id, jobs.Patch{
		Progress:      jobs.Ptr(progressSpooled),
		SpoolID:       jobs.Ptr(spoolID),
		StatusMessage: jobs.Ptr("Spooled"),
	}) {
		return
	}

	d.follow(ctx, logger, id, spoolID)
}

func (d *Dispatcher) follow(ctx context.Context, logger *slog.Logger, id, spoolID string) {
	deadline := time.NewTimer(d.printTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		state, err := d.spooler.State(ctx, spoolID)
		if err != nil {
			d.fail(ctx, logger, id, "Lost track of the print request", err)
			return
		}
		var patch jobs.Patch
		switch state.Phase {
		case PhaseQueued:
			patch = jobs.Patch{Progress: jobs.Ptr(progressQueued), StatusMessage: jobs.Ptr(state.Message)}
		case PhasePrinting:
			patch = jobs.Patch{Status: jobs.Ptr(jobs.StatusPrinting), Progress: jobs.Ptr(progressPrinting), StatusMessage: jobs.Ptr(state.Message)}
		case PhaseDone:
			if d.advance(ctx, logger, id, jobs.Patch{Status: jobs.Ptr(jobs.StatusCompleted), StatusMessage: jobs.Ptr("Printed")}) {
				d.recorder.ObserveDispatch("completed")
				logger.Info("job printed", logging.String("spool_id", spoolID))
			}
			return
		case PhaseFailed:
			d.fail(ctx, logger, id, state.Message, services.Wrap(services.ErrExternalTool, "dispatch", "print", "spooler reported failure", nil))
			return
		}
		if !d.advance(ctx, logger, id, patch) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			d.fail(ctx, logger, id, "Printer did not finish in time", services.Wrap(services.ErrTimeout, "dispatch", "print", "print timeout exceeded", nil))
			return
		case <-ticker.C:
		}
	}
}

// advance writes patch and reports whether the job is still ours to drive.
// A job deleted or moved to a terminal state elsewhere is abandoned.
func (d *Dispatcher) advance(ctx context.Context, logger *slog.Logger, id string, patch jobs.Patch) bool {
	updated, err := d.store.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrConflict) {
			logger.Info("job withdrawn during dispatch", logging.Error(err))
			d.recorder.ObserveDispatch("withdrawn")
			return false
		}
		logging.WarnWithContext(logger, "progress update failed", "dispatch_update_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job database"),
			logging.String(logging.FieldImpact, "observers may show stale progress"),
		)
		return true
	}
	return updated.Active() || updated.Status == jobs.StatusCompleted
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, id, message string, cause error) {
	d.recorder.ObserveDispatch("error")
	logging.ErrorWithContext(logger, "print dispatch failed", "dispatch_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "check printer state with lpstat -p"),
		logging.String("error_kind", services.Describe(cause)),
		logging.String(logging.FieldImpact, "job marked as error"),
	)
	if _, err := d.store.Update(ctx, id, jobs.Patch{
		Status:        jobs.Ptr(jobs.StatusError),
		StatusMessage: jobs.Ptr(message),
	}); err != nil && !errors.Is(err, services.ErrNotFound) && !errors.Is(err, services.ErrConflict) {
		logging.WarnWithContext(logger, "failed to record dispatch error", "dispatch_update_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the job database"),
			logging.String(logging.FieldImpact, "job stays active until reaped"),
		)
	}
}
