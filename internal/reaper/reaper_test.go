package reaper_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"printkiosk/internal/config"
	"printkiosk/internal/jobs"
	"printkiosk/internal/keylock"
	"printkiosk/internal/reaper"
	"printkiosk/internal/workspace"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, opts ...reaper.Option) (*reaper.Reaper, *jobs.Store, *clock) {
	t.Helper()
	clk := &clock{now: epoch}
	store, err := jobs.OpenPath(filepath.Join(t.TempDir(), "jobs.db"), jobs.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("OpenPath returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	cfg := config.Default()
	opts = append([]reaper.Option{reaper.WithClock(clk.Now)}, opts...)
	return reaper.New(store, keylock.NewLocal(), reaper.PolicyFromConfig(&cfg), opts...), store, clk
}

func seed(t *testing.T, store *jobs.Store, job *jobs.Job) *jobs.Job {
	t.Helper()
	created, err := store.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return created
}

func exists(t *testing.T, store *jobs.Store, id string) bool {
	t.Helper()
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return job != nil
}

func TestSweepOnEmptyStoreIsNoop(t *testing.T) {
	r, _, _ := newHarness(t)
	result, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if result.Jobs() != 0 {
		t.Fatalf("expected no removals, got %+v", result)
	}
}

func TestSweepPurgesMalformedRecords(t *testing.T) {
	r, store, _ := newHarness(t)
	bad := seed(t, store, &jobs.Job{FileName: "   "})
	good := seed(t, store, &jobs.Job{FileName: "ok.pdf"})

	result, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Malformed != 1 {
		t.Fatalf("expected one malformed removal, got %+v", result)
	}
	if exists(t, store, bad.ID) || !exists(t, store, good.ID) {
		t.Fatal("expected only the malformed record to be removed")
	}
}

func TestSweepStuckRule(t *testing.T) {
	r, store, _ := newHarness(t)
	stuck := seed(t, store, &jobs.Job{FileName: "stuck.pdf", CreatedAt: epoch.Add(-90 * time.Minute)})
	busy := seed(t, store, &jobs.Job{FileName: "busy.pdf", Status: jobs.StatusProcessing, Progress: 80, CreatedAt: epoch.Add(-90 * time.Minute)})

	result, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Stuck != 1 {
		t.Fatalf("expected one stuck removal, got %+v", result)
	}
	if exists(t, store, stuck.ID) {
		t.Fatal("pending job at progress 0 after 90 minutes should be removed")
	}
	if !exists(t, store, busy.ID) {
		t.Fatal("job at progress 80 must survive the stuck rule")
	}
}

func TestSweepAncientRule(t *testing.T) {
	r, store, _ := newHarness(t)
	old := seed(t, store, &jobs.Job{FileName: "old.pdf", Status: jobs.StatusPrinting, Progress: 80, CreatedAt: epoch.Add(-3 * time.Hour)})
	failed := seed(t, store, &jobs.Job{FileName: "failed.pdf", Status: jobs.StatusError, CreatedAt: epoch.Add(-30 * time.Minute)})

	result, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Ancient != 1 || exists(t, store, old.ID) {
		t.Fatalf("expected ancient job removal, got %+v", result)
	}
	if !exists(t, store, failed.ID) {
		t.Fatal("recent error job should wait for the ancient rule")
	}
}

func TestSweepCompletedRetentionWindow(t *testing.T) {
	r, store, clk := newHarness(t)
	cfg := config.Default()
	retention := time.Duration(cfg.Jobs.CompletedRetentionSeconds) * time.Second

	job := seed(t, store, &jobs.Job{FileName: "done.pdf", Status: jobs.StatusPrinting, Progress: 75})
	if _, err := store.Update(context.Background(), job.ID, jobs.Patch{Status: jobs.Ptr(jobs.StatusCompleted)}); err != nil {
		t.Fatal(err)
	}

	clk.Set(epoch.Add(retention - 100*time.Millisecond))
	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !exists(t, store, job.ID) {
		t.Fatal("completed job removed before its retention window ended")
	}

	clk.Set(epoch.Add(retention + 100*time.Millisecond))
	result, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Completed != 1 || exists(t, store, job.ID) {
		t.Fatalf("completed job should be removed after retention, got %+v", result)
	}
}

func TestSweepDuplicatesKeepBestRanked(t *testing.T) {
	r, store, _ := newHarness(t)
	best := seed(t, store, &jobs.Job{FileName: "Report.pdf", Status: jobs.StatusProcessing, Progress: 30, CreatedAt: epoch.Add(-2 * time.Minute)})
	loser := seed(t, store, &jobs.Job{FileName: "report.pdf", CreatedAt: epoch.Add(-time.Minute)})

	result, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Duplicates != 1 {
		t.Fatalf("expected one duplicate removal, got %+v", result)
	}
	if !exists(t, store, best.ID) || exists(t, store, loser.ID) {
		t.Fatal("expected the processing job to survive")
	}
}

func TestSweepDuplicateProtectionNeedsStrictlyBetterSurvivor(t *testing.T) {
	r, store, _ := newHarness(t)
	created := epoch.Add(-5 * time.Minute)
	a := seed(t, store, &jobs.Job{FileName: "twin.pdf", Status: jobs.StatusPrinting, Progress: 60, CreatedAt: created})
	b := seed(t, store, &jobs.Job{FileName: "twin.pdf", Status: jobs.StatusPrinting, Progress: 60, CreatedAt: created})

	result, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Duplicates != 0 {
		t.Fatalf("protected tie must not be removed, got %+v", result)
	}
	if !exists(t, store, a.ID) || !exists(t, store, b.ID) {
		t.Fatal("expected both protected jobs to remain")
	}
}

type lockSpy struct {
	keylock.Locker
	mu   sync.Mutex
	keys []string
}

func (l *lockSpy) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return l.Locker.Lock(ctx, key)
}

func TestSweepTakesKeyLocks(t *testing.T) {
	clk := &clock{now: epoch}
	store, err := jobs.OpenPath(filepath.Join(t.TempDir(), "jobs.db"), jobs.WithClock(clk.Now))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	seed(t, store, &jobs.Job{FileName: "B.pdf"})
	seed(t, store, &jobs.Job{FileName: "a.pdf"})

	spy := &lockSpy{Locker: keylock.NewLocal()}
	cfg := config.Default()
	r := reaper.New(store, spy, reaper.PolicyFromConfig(&cfg), reaper.WithClock(clk.Now))
	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(spy.keys) != 2 || spy.keys[0] != "a.pdf" || spy.keys[1] != "b.pdf" {
		t.Fatalf("expected locks on each file key in order, got %v", spy.keys)
	}
}

type purgerStub struct {
	pattern string
	maxAge  time.Duration
	err     error
}

func (p *purgerStub) PurgeOlderThan(pattern string, maxAge time.Duration) (workspace.PurgeResult, error) {
	p.pattern = pattern
	p.maxAge = maxAge
	return workspace.PurgeResult{Removed: []string{"/tmp/a.pdf", "/tmp/b.pdf"}}, p.err
}

func TestSweepPurgesArtifacts(t *testing.T) {
	purger := &purgerStub{}
	r, _, _ := newHarness(t, reaper.WithArtifacts(purger))
	result, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if purger.pattern != "*.pdf" || purger.maxAge != 24*time.Hour {
		t.Fatalf("unexpected purge call %q %s", purger.pattern, purger.maxAge)
	}
	if result.Artifacts != 2 {
		t.Fatalf("expected 2 artifacts removed, got %d", result.Artifacts)
	}

	purger.err = errors.New("permission denied")
	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("artifact purge failure must not fail the sweep: %v", err)
	}
}

type recorderStub struct {
	counts map[string]int
}

func (r *recorderStub) ObserveReap(rule string, count int) {
	r.counts[rule] += count
}

func TestSweepReportsPerRule(t *testing.T) {
	rec := &recorderStub{counts: map[string]int{}}
	r, store, _ := newHarness(t, reaper.WithRecorder(rec))
	seed(t, store, &jobs.Job{FileName: ""})
	seed(t, store, &jobs.Job{FileName: "stuck.pdf", CreatedAt: epoch.Add(-2 * time.Hour)})

	if _, err := r.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec.counts["malformed"] != 1 || rec.counts["stuck"] != 1 {
		t.Fatalf("unexpected recorded counts %v", rec.counts)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, store, _ := newHarness(t)
	seed(t, store, &jobs.Job{FileName: " "})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		all, err := store.List(context.Background(), jobs.Filter{IncludeMalformed: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Run did not sweep the malformed record")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
