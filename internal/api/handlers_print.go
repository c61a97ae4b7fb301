package api

import (
	"net/http"
	"strings"

	"printkiosk/internal/jobs"
	"printkiosk/internal/logging"
	"printkiosk/internal/submission"
)

// IdempotencyHeader carries the client retry token for POST /print. It
// takes precedence over the idempotencyKey body field.
const IdempotencyHeader = "Idempotency-Key"

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil {
		s.unavailable(w, r, "printing")
		return
	}
	var body PrintRequest
	if err := s.decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, r, "invalid request", err)
		return
	}
	token := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if token == "" {
		token = body.IdempotencyKey
	}
	source := strings.TrimSpace(body.Source)
	if source == "" {
		source = jobs.SourceUpload
	}

	result, err := s.deps.Submitter.Submit(r.Context(), submission.Candidate{
		FileName:       body.FileName,
		FileURL:        body.FileURL,
		PrinterName:    body.PrinterName,
		Copies:         body.Copies,
		IsColor:        body.IsColor,
		TotalPages:     body.TotalPages,
		PaperSize:      body.PaperSize,
		Source:         source,
		IdempotencyKey: token,
	})
	if err != nil {
		s.writeServiceError(w, r, "print request could not be recorded", err)
		return
	}

	if result.Created && s.deps.Dispatcher != nil {
		if err := s.deps.Dispatcher.Enqueue(result.JobID); err != nil {
			// The job stays active and is picked up by the dispatcher resync.
			logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "print job not queued", "dispatch_enqueue_failed",
				logging.String(logging.FieldJobID, result.JobID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "raise printing.queue_size if this repeats"),
				logging.String(logging.FieldImpact, "job waits for the next dispatcher resync"),
			)
		}
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, r, status, PrintResponse{
		Status:      StatusSuccess,
		JobID:       result.JobID,
		IsDuplicate: !result.Created,
		Reason:      string(result.Reason),
		Job:         FromJob(result.Job),
	})
}
