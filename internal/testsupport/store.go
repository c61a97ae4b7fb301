package testsupport

import (
	"context"
	"testing"

	"printkiosk/internal/config"
	"printkiosk/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...jobs.Option) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a job for fileName with the given status and progress.
func NewJob(t testing.TB, store *jobs.Store, fileName string, status jobs.Status, progress int) *jobs.Job {
	t.Helper()

	job, err := store.Create(context.Background(), &jobs.Job{
		FileName: fileName,
		FileURL:  "/artifacts/" + fileName,
		Status:   status,
		Progress: progress,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
