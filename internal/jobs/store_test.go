package jobs_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"printkiosk/internal/jobs"
	"printkiosk/internal/services"
)

func openStore(t *testing.T, opts ...jobs.Option) *jobs.Store {
	t.Helper()
	store, err := jobs.OpenPath(filepath.Join(t.TempDir(), "jobs.db"), opts...)
	if err != nil {
		t.Fatalf("OpenPath returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCreate(t *testing.T, store *jobs.Store, job *jobs.Job) *jobs.Job {
	t.Helper()
	created, err := store.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return created
}

func TestCreateAppliesDefaults(t *testing.T) {
	store := openStore(t)
	job := mustCreate(t, store, &jobs.Job{FileName: "  Report.PDF "})

	if job.ID == "" {
		t.Fatal("expected generated id")
	}
	if job.Status != jobs.StatusPending || job.Progress != 0 {
		t.Fatalf("unexpected initial state %s@%d", job.Status, job.Progress)
	}
	if job.Copies != 1 || job.TotalPages != 1 {
		t.Fatalf("expected copies and pages default to 1, got %d/%d", job.Copies, job.TotalPages)
	}
	if job.FileKey != "report.pdf" {
		t.Fatalf("unexpected file key %q", job.FileKey)
	}

	got, err := store.Get(context.Background(), job.ID)
	if err != nil || got == nil {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Fatalf("created_at round trip mismatch: %s vs %s", got.CreatedAt, job.CreatedAt)
	}

	missing, err := store.Get(context.Background(), "does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing job, got %v, %v", missing, err)
	}
}

func TestCreateGeneratesTimeOrderedIDs(t *testing.T) {
	store := openStore(t)
	first := mustCreate(t, store, &jobs.Job{FileName: "a.pdf"})
	second := mustCreate(t, store, &jobs.Job{FileName: "b.pdf"})
	if first.ID >= second.ID {
		t.Fatalf("expected time ordered ids, got %s then %s", first.ID, second.ID)
	}
}

func TestUpdateIsPartialMerge(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := mustCreate(t, store, &jobs.Job{FileName: "flyer.pdf", PrinterName: "Front", Copies: 3, IsColor: true})

	updated, err := store.Update(ctx, job.ID, jobs.Patch{StatusMessage: jobs.Ptr("Preparing")})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.PrinterName != "Front" || updated.Copies != 3 || !updated.IsColor {
		t.Fatalf("unspecified fields were overwritten: %+v", updated)
	}
	if updated.StatusMessage != "Preparing" {
		t.Fatalf("expected status message to change, got %q", updated.StatusMessage)
	}

	_, err = store.Update(ctx, "missing", jobs.Patch{Progress: jobs.Ptr(5)})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing job, got %v", err)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := mustCreate(t, store, &jobs.Job{FileName: "essay.docx"})

	steps := []struct {
		patch jobs.Patch
		want  int
	}{
		{jobs.Patch{Status: jobs.Ptr(jobs.StatusProcessing), Progress: jobs.Ptr(40)}, 40},
		{jobs.Patch{Progress: jobs.Ptr(20)}, 40},
		{jobs.Patch{Progress: jobs.Ptr(150)}, 100},
	}
	for i, step := range steps {
		got, err := store.Update(ctx, job.ID, step.patch)
		if err != nil {
			t.Fatalf("step %d: Update returned error: %v", i, err)
		}
		if got.Progress != step.want {
			t.Fatalf("step %d: progress = %d, want %d", i, got.Progress, step.want)
		}
	}
}

func TestCompletionForcesFullProgress(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := mustCreate(t, store, &jobs.Job{FileName: "ticket.pdf", Status: jobs.StatusPrinting, Progress: 75})

	done, err := store.Update(ctx, job.ID, jobs.Patch{Status: jobs.Ptr(jobs.StatusCompleted)})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if done.Progress != 100 || done.CompletedAt == nil {
		t.Fatalf("expected progress 100 and completion time, got %d %v", done.Progress, done.CompletedAt)
	}

	after, err := store.Update(ctx, job.ID, jobs.Patch{Progress: jobs.Ptr(10), StatusMessage: jobs.Ptr("Collected")})
	if err != nil {
		t.Fatalf("Update on terminal job returned error: %v", err)
	}
	if after.Progress != 100 {
		t.Fatalf("terminal job progress changed to %d", after.Progress)
	}
	if after.StatusMessage != "Collected" {
		t.Fatalf("expected message update on terminal job, got %q", after.StatusMessage)
	}
}

func TestStatusMovesForwardOnly(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		from jobs.Status
		to   jobs.Status
		ok   bool
	}{
		{"pending to processing", jobs.StatusPending, jobs.StatusProcessing, true},
		{"pending skips to printing", jobs.StatusPending, jobs.StatusPrinting, true},
		{"processing back to pending", jobs.StatusProcessing, jobs.StatusPending, false},
		{"printing to error", jobs.StatusPrinting, jobs.StatusError, true},
		{"completed to error", jobs.StatusCompleted, jobs.StatusError, false},
		{"error to pending", jobs.StatusError, jobs.StatusPending, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job := mustCreate(t, store, &jobs.Job{FileName: tc.name + ".pdf", Status: tc.from})
			_, err := store.Update(ctx, job.ID, jobs.Patch{Status: jobs.Ptr(tc.to)})
			if tc.ok && err != nil {
				t.Fatalf("expected transition to succeed, got %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, jobs.ErrInvalidTransition) || !errors.Is(err, services.ErrConflict) {
					t.Fatalf("expected invalid transition error, got %v", err)
				}
				current, _ := store.Get(ctx, job.ID)
				if current.Status != tc.from {
					t.Fatalf("rejected transition changed status to %s", current.Status)
				}
			}
		})
	}
}

func TestListExcludesMalformedByDefault(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	mustCreate(t, store, &jobs.Job{FileName: "good.pdf"})
	mustCreate(t, store, &jobs.Job{FileName: "   "})

	visible, err := store.List(ctx, jobs.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].FileName != "good.pdf" {
		t.Fatalf("expected only the well formed job, got %d", len(visible))
	}

	all, err := store.List(ctx, jobs.Filter{IncludeMalformed: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected malformed job when requested, got %d", len(all))
	}
}

func TestWhitespaceOnlyNamesAreMalformed(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	padded := mustCreate(t, store, &jobs.Job{FileName: " \tflyer.pdf\n"})
	for _, name := range []string{"\t", "\r\n", " \v\f "} {
		mustCreate(t, store, &jobs.Job{FileName: name})
	}

	if padded.FileName != "flyer.pdf" {
		t.Fatalf("expected trimmed file name, got %q", padded.FileName)
	}
	visible, err := store.List(ctx, jobs.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].ID != padded.ID {
		t.Fatalf("expected only the padded job, got %d", len(visible))
	}
	for _, job := range visible {
		if job.Malformed() {
			t.Fatalf("default list returned malformed job %q", job.FileName)
		}
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth returned error: %v", err)
	}
	if health.Total != 4 || health.Malformed != 3 {
		t.Fatalf("unexpected counts total=%d malformed=%d", health.Total, health.Malformed)
	}
}

func TestListFilters(t *testing.T) {
	now := time.Now().UTC()
	store := openStore(t)
	ctx := context.Background()
	mustCreate(t, store, &jobs.Job{FileName: "Report.pdf", CreatedAt: now.Add(-time.Hour)})
	mustCreate(t, store, &jobs.Job{FileName: "report.PDF", Status: jobs.StatusCompleted})
	mustCreate(t, store, &jobs.Job{FileName: "other.pdf", Status: jobs.StatusProcessing})

	byName, err := store.ListByFileName(ctx, "REPORT.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 2 {
		t.Fatalf("expected case-insensitive name match, got %d", len(byName))
	}

	recent, err := store.List(ctx, jobs.Filter{CreatedAfter: now.Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent jobs, got %d", len(recent))
	}

	active, err := store.List(ctx, jobs.Filter{Statuses: jobs.ActiveStatuses})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active jobs, got %d", len(active))
	}

	colour, err := store.List(ctx, jobs.Filter{Predicate: func(j *jobs.Job) bool { return j.Status == jobs.StatusProcessing }})
	if err != nil {
		t.Fatal(err)
	}
	if len(colour) != 1 || colour[0].FileName != "other.pdf" {
		t.Fatalf("predicate filter mismatch: %d", len(colour))
	}
}

func TestIdempotencyKeyIsUnique(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	first := mustCreate(t, store, &jobs.Job{FileName: "a.pdf", IdempotencyKey: "tok-1"})

	if _, err := store.Create(ctx, &jobs.Job{FileName: "b.pdf", IdempotencyKey: "tok-1"}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on duplicate idempotency key, got %v", err)
	}
	found, err := store.FindByIdempotencyKey(ctx, "tok-1")
	if err != nil || found == nil || found.ID != first.ID {
		t.Fatalf("FindByIdempotencyKey = %v, %v", found, err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	job := mustCreate(t, store, &jobs.Job{FileName: "a.pdf"})
	mustCreate(t, store, &jobs.Job{FileName: "b.pdf", Status: jobs.StatusCompleted})
	mustCreate(t, store, &jobs.Job{FileName: "c.pdf", Status: jobs.StatusError})

	removed, err := store.Delete(ctx, job.ID)
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v", removed, err)
	}
	removed, err = store.Delete(ctx, job.ID)
	if err != nil || removed {
		t.Fatalf("second Delete = %v, %v", removed, err)
	}

	count, err := store.Clear(ctx, jobs.StatusCompleted, jobs.StatusError)
	if err != nil || count != 2 {
		t.Fatalf("Clear = %d, %v", count, err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 0 {
		t.Fatalf("expected empty store, got %v", stats)
	}
}

func TestCheckHealth(t *testing.T) {
	store := openStore(t)
	mustCreate(t, store, &jobs.Job{FileName: "a.pdf"})
	mustCreate(t, store, &jobs.Job{FileName: ""})

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth returned error: %v", err)
	}
	if !health.DatabaseExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.Total != 2 || health.Malformed != 1 {
		t.Fatalf("unexpected counts total=%d malformed=%d", health.Total, health.Malformed)
	}
}

func TestObservedProgressNeverDecreases(t *testing.T) {
	store := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := mustCreate(t, store, &jobs.Job{FileName: "poster.pdf", Status: jobs.StatusProcessing})
	events := store.Hub().Subscribe(ctx)

	var wg sync.WaitGroup
	for writer := 0; writer < 4; writer++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			for step := 0; step < 20; step++ {
				value := (step*7 + writer*13) % 100
				if _, err := store.Update(context.Background(), job.ID, jobs.Patch{Progress: jobs.Ptr(value)}); err != nil {
					t.Errorf("Update returned error: %v", err)
					return
				}
			}
		}(writer)
	}
	wg.Wait()

	last := -1
	for {
		select {
		case evt := <-events:
			if evt.Job.ID != job.ID {
				continue
			}
			if evt.Job.Progress < last {
				t.Fatalf("observed progress went from %d to %d", last, evt.Job.Progress)
			}
			last = evt.Job.Progress
		default:
			if last < 0 {
				t.Fatal("expected at least one observed update")
			}
			return
		}
	}
}
