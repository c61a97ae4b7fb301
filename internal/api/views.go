package api

import (
	"printkiosk/internal/jobs"
)

// FromJob converts a job record into its DTO.
func FromJob(job *jobs.Job) JobView {
	if job == nil {
		return JobView{}
	}
	view := JobView{
		ID:            job.ID,
		FileName:      job.FileName,
		FileURL:       job.FileURL,
		PrinterName:   job.PrinterName,
		Copies:        job.Copies,
		IsColor:       job.IsColor,
		TotalPages:    job.TotalPages,
		PaperSize:     job.PaperSize,
		Status:        string(job.Status),
		Progress:      job.Progress,
		StatusMessage: job.StatusMessage,
		Price:         job.Price,
		Source:        job.Source,
	}
	if !job.CreatedAt.IsZero() {
		view.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		view.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if job.CompletedAt != nil {
		view.CompletedAt = job.CompletedAt.UTC().Format(dateTimeFormat)
	}
	return view
}

// FromJobs converts records, dropping malformed ones.
func FromJobs(list []*jobs.Job) []JobView {
	out := make([]JobView, 0, len(list))
	for _, job := range list {
		if job.Malformed() {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromEvents converts hub events, dropping malformed snapshots.
func FromEvents(events []jobs.Event) []JobEvent {
	out := make([]JobEvent, 0, len(events))
	for _, evt := range events {
		if evt.Job.Malformed() {
			continue
		}
		out = append(out, JobEvent{
			Sequence: evt.Sequence,
			Type:     string(evt.Type),
			Job:      FromJob(&evt.Job),
			At:       evt.At.UTC().Format(dateTimeFormat),
		})
	}
	return out
}
