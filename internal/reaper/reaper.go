package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"printkiosk/internal/config"
	"printkiosk/internal/jobs"
	"printkiosk/internal/keylock"
	"printkiosk/internal/logging"
	"printkiosk/internal/submission"
	"printkiosk/internal/workspace"
)

// Rule names a removal rule.
type Rule string

const (
	RuleMalformed Rule = "malformed"
	RuleDuplicate Rule = "duplicate"
	RuleStuck     Rule = "stuck"
	RuleAncient   Rule = "ancient"
	RuleCompleted Rule = "completed"
)

// Policy holds the reaper thresholds.
type Policy struct {
	StuckAfter             time.Duration
	StuckProgressThreshold int
	AncientAfter           time.Duration
	CompletedRetention     time.Duration
	ProtectProgressAbove   int
	RecencyGuard           time.Duration
	ArtifactRetention      time.Duration
}

// PolicyFromConfig reads reaper thresholds from cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		StuckAfter:             time.Duration(cfg.Jobs.StuckAfterMinutes) * time.Minute,
		StuckProgressThreshold: cfg.Jobs.StuckProgressThreshold,
		AncientAfter:           time.Duration(cfg.Jobs.AncientAfterMinutes) * time.Minute,
		CompletedRetention:     time.Duration(cfg.Jobs.CompletedRetentionSeconds) * time.Second,
		ProtectProgressAbove:   cfg.Jobs.ProtectProgressAbove,
		RecencyGuard:           time.Duration(cfg.Jobs.RecencyGuardSeconds) * time.Second,
		ArtifactRetention:      cfg.ArtifactRetention(),
	}
}

// Store is the subset of the job store the reaper needs.
type Store interface {
	List(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ArtifactPurger removes published artifacts by age.
type ArtifactPurger interface {
	PurgeOlderThan(pattern string, maxAge time.Duration) (workspace.PurgeResult, error)
}

// Recorder observes reaped records per rule.
type Recorder interface {
	ObserveReap(rule string, count int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReap(string, int) {}

// Result counts removals per rule for one sweep.
type Result struct {
	Malformed  int
	Duplicates int
	Stuck      int
	Ancient    int
	Completed  int
	Artifacts  int
}

// Jobs returns how many job records were removed.
func (r Result) Jobs() int {
	return r.Malformed + r.Duplicates + r.Stuck + r.Ancient + r.Completed
}

func (r *Result) add(rule Rule) {
	switch rule {
	case RuleMalformed:
		r.Malformed++
	case RuleDuplicate:
		r.Duplicates++
	case RuleStuck:
		r.Stuck++
	case RuleAncient:
		r.Ancient++
	case RuleCompleted:
		r.Completed++
	}
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder reports removals to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Reaper) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithArtifacts enables purging of published artifacts older than the
// artifact retention.
func WithArtifacts(purger ArtifactPurger) Option {
	return func(r *Reaper) {
		r.artifacts = purger
	}
}

// Reaper is the single place stale job records are removed.
type Reaper struct {
	store     Store
	locker    keylock.Locker
	policy    Policy
	now       func() time.Time
	logger    *slog.Logger
	recorder  Recorder
	artifacts ArtifactPurger
}

// New constructs a Reaper. A nil locker falls back to an in-process one.
func New(store Store, locker keylock.Locker, policy Policy, opts ...Option) *Reaper {
	if locker == nil {
		locker = keylock.NewLocal()
	}
	r := &Reaper{
		store:    store,
		locker:   locker,
		policy:   policy,
		now:      time.Now,
		logger:   logging.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "reaper")
	return r
}

// Sweep applies every rule once. It is safe to call with an empty store and
// concurrently with submissions.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	var result Result

	all, err := r.store.List(ctx, jobs.Filter{IncludeMalformed: true})
	if err != nil {
		return result, fmt.Errorf("list jobs: %w", err)
	}

	keys := make([]string, 0)
	seen := make(map[string]struct{})
	for _, job := range all {
		if job.Malformed() {
			if err := r.remove(ctx, job, RuleMalformed, &result); err != nil {
				return result, err
			}
			continue
		}
		if _, ok := seen[job.FileKey]; !ok {
			seen[job.FileKey] = struct{}{}
			keys = append(keys, job.FileKey)
		}
	}
	slices.Sort(keys)

	for _, key := range keys {
		if err := r.sweepKey(ctx, key, &result); err != nil {
			return result, err
		}
	}

	if r.artifacts != nil && r.policy.ArtifactRetention > 0 {
		purged, err := r.artifacts.PurgeOlderThan("*.pdf", r.policy.ArtifactRetention)
		if err != nil {
			logging.WarnWithContext(r.logger, "artifact purge failed", "artifact_purge_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check paths.artifact_dir permissions"),
				logging.String(logging.FieldImpact, "expired artifacts stay on disk"),
			)
		}
		result.Artifacts = len(purged.Removed)
	}

	r.report(result)
	return result, nil
}

func (r *Reaper) sweepKey(ctx context.Context, key string, result *Result) error {
	unlock, err := r.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	group, err := r.store.List(ctx, jobs.Filter{FileKey: key})
	if err != nil {
		return fmt.Errorf("list jobs for %q: %w", key, err)
	}
	now := r.now().UTC()

	if len(group) > 1 {
		ranked := submission.Rank(group)
		survivor := ranked[0]
		kept := []*jobs.Job{survivor}
		for _, job := range ranked[1:] {
			if r.protected(job, now) && !submission.StrictlyBetter(survivor, job) {
				kept = append(kept, job)
				continue
			}
			if err := r.remove(ctx, job, RuleDuplicate, result); err != nil {
				return err
			}
		}
		group = kept
	}

	for _, job := range group {
		rule, ok := r.expired(job, now)
		if !ok {
			continue
		}
		if err := r.remove(ctx, job, rule, result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reaper) protected(job *jobs.Job, now time.Time) bool {
	return job.Progress > r.policy.ProtectProgressAbove || job.Age(now) < r.policy.RecencyGuard
}

// expired applies the per-job rules in order.
func (r *Reaper) expired(job *jobs.Job, now time.Time) (Rule, bool) {
	age := job.Age(now)
	switch job.Status {
	case jobs.StatusPending, jobs.StatusProcessing:
		if job.Progress <= r.policy.StuckProgressThreshold && age > r.policy.StuckAfter {
			return RuleStuck, true
		}
	}
	if age > r.policy.AncientAfter {
		return RuleAncient, true
	}
	if job.Status == jobs.StatusCompleted || job.Progress >= 100 {
		doneAt := job.UpdatedAt
		if job.CompletedAt != nil {
			doneAt = *job.CompletedAt
		}
		if now.Sub(doneAt) >= r.policy.CompletedRetention {
			return RuleCompleted, true
		}
	}
	return "", false
}

func (r *Reaper) remove(ctx context.Context, job *jobs.Job, rule Rule, result *Result) error {
	removed, err := r.store.Delete(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("delete %s job %s: %w", rule, job.ID, err)
	}
	if !removed {
		return nil
	}
	result.add(rule)
	r.logger.Info("job reaped",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldFileName, job.FileName),
		logging.String("rule", string(rule)),
		logging.String("status", string(job.Status)),
		logging.Int("progress", job.Progress),
	)
	return nil
}

func (r *Reaper) report(result Result) {
	for rule, count := range map[Rule]int{
		RuleMalformed: result.Malformed,
		RuleDuplicate: result.Duplicates,
		RuleStuck:     result.Stuck,
		RuleAncient:   result.Ancient,
		RuleCompleted: result.Completed,
	} {
		if count > 0 {
			r.recorder.ObserveReap(string(rule), count)
		}
	}
	if result.Jobs() > 0 || result.Artifacts > 0 {
		r.logger.Info("sweep complete",
			logging.Int("jobs_removed", result.Jobs()),
			logging.Int("artifacts_removed", result.Artifacts),
		)
	}
}

// Run sweeps immediately and then every interval until ctx ends.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(r.logger, "sweep failed", "reaper_sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the next sweep retries automatically"),
				logging.String(logging.FieldImpact, "stale jobs stay visible until the next sweep"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
