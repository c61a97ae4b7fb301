package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"printkiosk/internal/config"
	"printkiosk/internal/jobs"
	"printkiosk/internal/keylock"
	"printkiosk/internal/logging"
	"printkiosk/internal/services"
)

// Reason explains how Submit resolved a candidate.
type Reason string

const (
	ReasonCreated    Reason = "created"
	ReasonDuplicate  Reason = "duplicate"
	ReasonIdempotent Reason = "idempotent"
)

// Candidate carries the job-shaping fields of a print request.
type Candidate struct {
	FileName       string
	FileURL        string
	PrinterName    string
	Copies         int
	IsColor        bool
	TotalPages     int
	PaperSize      string
	Source         string
	IdempotencyKey string
}

// Result is the outcome of Submit. Created is false when an existing job
// was reused.
type Result struct {
	JobID   string
	Created bool
	Reason  Reason
	Job     *jobs.Job
}

// Store is the subset of the job store the deduplicator needs.
type Store interface {
	Create(ctx context.Context, job *jobs.Job) (*jobs.Job, error)
	Update(ctx context.Context, id string, patch jobs.Patch) (*jobs.Job, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*jobs.Job, error)
}

// Recorder observes submission outcomes.
type Recorder interface {
	ObserveSubmission(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSubmission(string) {}

// Policy holds the deduplication windows.
type Policy struct {
	RecencyWindow time.Duration
	StalePending  time.Duration
	ProgressFloor int
	Pricing       config.Pricing
}

// PolicyFromConfig reads the deduplication windows from cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		RecencyWindow: time.Duration(cfg.Jobs.RecencyWindowSeconds) * time.Second,
		StalePending:  time.Duration(cfg.Jobs.StalePendingSeconds) * time.Second,
		ProgressFloor: cfg.Jobs.ProgressFloor,
		Pricing:       cfg.Pricing,
	}
}

const (
	defaultAttempts = 3
	defaultBackoff  = 25 * time.Millisecond
)

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClock overrides the time source used for the recency and staleness windows.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deduplicator) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(d *Deduplicator) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithRetry overrides how often a failing store operation is retried.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Deduplicator) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

// Deduplicator is the single entry point for creating print jobs.
type Deduplicator struct {
	store    Store
	locker   keylock.Locker
	policy   Policy
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder
	attempts int
	backoff  time.Duration
}

// New constructs a Deduplicator. A nil locker falls back to an in-process one.
func New(store Store, locker keylock.Locker, policy Policy, opts ...Option) *Deduplicator {
	if locker == nil {
		locker = keylock.NewLocal()
	}
	d := &Deduplicator{
		store:    store,
		locker:   locker,
		policy:   policy,
		now:      time.Now,
		logger:   logging.NewNop(),
		recorder: nopRecorder{},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "submission")
	return d
}

// Submit returns the job tracking candidate, creating one only when no
// active or recent job exists for the same document.
func (d *Deduplicator) Submit(ctx context.Context, candidate Candidate) (Result, error) {
	candidate.FileName = strings.TrimSpace(candidate.FileName)
	key := jobs.FileKey(candidate.FileName)
	if key == "" {
		d.recorder.ObserveSubmission("invalid")
		return Result{}, services.Wrap(services.ErrValidation, "submission", "submit", "file name is required", nil)
	}
	candidate.IdempotencyKey = strings.TrimSpace(candidate.IdempotencyKey)
	candidate.Copies = max(candidate.Copies, 1)
	candidate.TotalPages = max(candidate.TotalPages, 1)

	if result, ok, err := d.lookupIdempotent(ctx, candidate.IdempotencyKey); err != nil {
		return Result{}, d.fail(err)
	} else if ok {
		d.recorder.ObserveSubmission(string(result.Reason))
		return result, nil
	}

	unlock, err := d.locker.Lock(ctx, key)
	if err != nil {
		return Result{}, d.fail(err)
	}
	defer unlock()

	logger := logging.WithContext(ctx, d.logger).With(logging.String(logging.FieldFileName, candidate.FileName))

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		result, err := d.resolveLocked(ctx, key, candidate)
		if err == nil {
			d.recorder.ObserveSubmission(string(result.Reason))
			logger.Info("print job resolved",
				logging.String(logging.FieldJobID, result.JobID),
				logging.String("reason", string(result.Reason)),
			)
			return result, nil
		}
		if ctx.Err() != nil || errors.Is(err, services.ErrValidation) {
			return Result{}, d.fail(err)
		}
		lastErr = err
		logger.Debug("submission attempt failed",
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
		if attempt < d.attempts && d.backoff > 0 {
			select {
			case <-ctx.Done():
				return Result{}, d.fail(ctx.Err())
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}
	}

	logging.ErrorWithContext(logger, "job store rejected submission", "submission_failed",
		logging.Error(lastErr),
		logging.String(logging.FieldErrorHint, "check the job database with kiosk deps and kiosk jobs list"),
		logging.String(logging.FieldImpact, "print request was not recorded"),
	)
	if errors.Is(lastErr, services.ErrUnavailable) {
		return Result{}, d.fail(lastErr)
	}
	return Result{}, d.fail(services.Wrap(services.ErrUnavailable, "submission", "submit", "job store unavailable", lastErr))
}

func (d *Deduplicator) fail(err error) error {
	d.recorder.ObserveSubmission("error")
	return err
}

func (d *Deduplicator) lookupIdempotent(ctx context.Context, token string) (Result, bool, error) {
	if token == "" {
		return Result{}, false, nil
	}
	existing, err := d.store.FindByIdempotencyKey(ctx, token)
	if err != nil {
		return Result{}, false, err
	}
	if existing == nil {
		return Result{}, false, nil
	}
	return Result{JobID: existing.ID, Created: false, Reason: ReasonIdempotent, Job: existing}, true, nil
}

// resolveLocked runs the read-rank-delete-create section. The caller holds
// the key lock.
func (d *Deduplicator) resolveLocked(ctx context.Context, key string, candidate Candidate) (Result, error) {
	if result, ok, err := d.lookupIdempotent(ctx, candidate.IdempotencyKey); err != nil || ok {
		return result, err
	}

	now := d.now().UTC()
	cutoff := now.Add(-d.policy.RecencyWindow)
	union, err := d.store.List(ctx, jobs.Filter{
		FileKey: key,
		Predicate: func(job *jobs.Job) bool {
			return job.Active() || job.CreatedAt.After(cutoff)
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("list jobs: %w", err)
	}

	if len(union) == 0 {
		return d.create(ctx, candidate, now)
	}

	ranked := Rank(union)
	survivor := ranked[0]
	for _, loser := range ranked[1:] {
		if _, err := d.store.Delete(ctx, loser.ID); err != nil {
			return Result{}, fmt.Errorf("delete duplicate %s: %w", loser.ID, err)
		}
		d.logger.Info("duplicate job removed",
			logging.String(logging.FieldJobID, loser.ID),
			logging.String("survivor", survivor.ID),
		)
	}

	if survivor.Status == jobs.StatusPending && survivor.Age(now) > d.policy.StalePending {
		nudged, err := d.store.Update(ctx, survivor.ID, jobs.Patch{
			Status:        jobs.Ptr(jobs.StatusProcessing),
			Progress:      jobs.Ptr(d.policy.ProgressFloor),
			StatusMessage: jobs.Ptr("Preparing print job"),
		})
		if err != nil {
			return Result{}, fmt.Errorf("nudge stale job %s: %w", survivor.ID, err)
		}
		survivor = nudged
	}

	return Result{JobID: survivor.ID, Created: false, Reason: ReasonDuplicate, Job: survivor}, nil
}

func (d *Deduplicator) create(ctx context.Context, candidate Candidate, now time.Time) (Result, error) {
	job := &jobs.Job{
		FileName:       candidate.FileName,
		FileURL:        candidate.FileURL,
		PrinterName:    candidate.PrinterName,
		Copies:         candidate.Copies,
		IsColor:        candidate.IsColor,
		TotalPages:     candidate.TotalPages,
		PaperSize:      candidate.PaperSize,
		Status:         jobs.StatusPending,
		Progress:       0,
		StatusMessage:  "Waiting for printer",
		Price:          jobs.Price(d.policy.Pricing, candidate.TotalPages, candidate.Copies, candidate.IsColor),
		Source:         candidate.Source,
		IdempotencyKey: candidate.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := d.store.Create(ctx, job)
	if err != nil {
		return Result{}, fmt.Errorf("create job: %w", err)
	}
	return Result{JobID: created.ID, Created: true, Reason: ReasonCreated, Job: created}, nil
}
