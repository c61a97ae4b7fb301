package api

import (
	"context"

	"printkiosk/internal/jobs"
	"printkiosk/internal/services"
)

// CancelledMessage is the status message recorded on user-cancelled jobs.
const CancelledMessage = "Cancelled"

// JobStore abstracts job persistence needed by the API.
type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error)
	Update(ctx context.Context, id string, patch jobs.Patch) (*jobs.Job, error)
	Stats(ctx context.Context) (map[jobs.Status]int, error)
}

// JobService exposes job queries and cancellation returning API DTOs.
type JobService struct {
	store JobStore
}

// NewJobService constructs a JobService around the provided store.
func NewJobService(store JobStore) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store}
}

// List returns jobs filtered by status, newest first.
func (s *JobService) List(ctx context.Context, statuses ...jobs.Status) ([]JobView, error) {
	if s == nil || s.store == nil {
		return []JobView{}, nil
	}
	list, err := s.store.List(ctx, jobs.Filter{Statuses: statuses})
	if err != nil {
		return nil, err
	}
	return FromJobs(list), nil
}

// Visible returns every job an observer should render: active jobs plus
// completed and failed jobs the reaper has not removed yet, so a finished
// job shows its done state for the retention window.
func (s *JobService) Visible(ctx context.Context) ([]JobView, error) {
	return s.List(ctx, jobs.AllStatuses...)
}

// Describe fetches a single job. Missing and malformed records both
// report nil.
func (s *JobService) Describe(ctx context.Context, id string) (*JobView, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.Get(ctx, id)
	if err != nil || job == nil || job.Malformed() {
		return nil, err
	}
	view := FromJob(job)
	return &view, nil
}

// Cancel moves an active job to error with the cancellation message.
// Terminal jobs report services.ErrConflict.
func (s *JobService) Cancel(ctx context.Context, id string) (*JobView, error) {
	if s == nil || s.store == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "cancel", "job store not configured", nil)
	}
	current, err := s.Describe(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "cancel", "job "+id+" not found", nil)
	}
	if jobs.Status(current.Status).Terminal() {
		return nil, services.Wrap(services.ErrConflict, "api", "cancel", "job "+id+" already "+current.Status, nil)
	}
	updated, err := s.store.Update(ctx, id, jobs.Patch{
		Status:        jobs.Ptr(jobs.StatusError),
		StatusMessage: jobs.Ptr(CancelledMessage),
	})
	if err != nil {
		return nil, err
	}
	view := FromJob(updated)
	return &view, nil
}

// Stats returns job counts keyed by status string. Every status is present.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(jobs.AllStatuses))
	for _, status := range jobs.AllStatuses {
		out[string(status)] = 0
	}
	if s == nil || s.store == nil {
		return out, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	for status, count := range stats {
		out[string(status)] += count
	}
	return out, nil
}
