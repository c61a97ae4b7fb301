package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"printkiosk/internal/jobs"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.unavailable(w, r, "job store")
		return
	}
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "active" {
				statuses = append(statuses, jobs.ActiveStatuses...)
				continue
			}
			status, err := jobs.ParseStatus(trimmed)
			if err != nil {
				s.writeServiceError(w, r, "invalid status filter", err)
				return
			}
			statuses = append(statuses, status)
		}
	}
	list, err := s.jobs.List(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, r, "could not list jobs", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, JobListResponse{Status: StatusSuccess, Jobs: list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.unavailable(w, r, "job store")
		return
	}
	view, err := s.jobs.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "could not load job", err)
		return
	}
	if view == nil {
		s.writeError(w, r, http.StatusNotFound, "job not found", nil)
		return
	}
	s.writeJSON(w, r, http.StatusOK, JobItemResponse{Status: StatusSuccess, Job: *view})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.unavailable(w, r, "job store")
		return
	}
	view, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "could not cancel job", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, JobItemResponse{Status: StatusSuccess, Job: *view})
}

// handleJobEvents is the long-poll subscription: it returns events after
// "since", waiting up to the long-poll cap when "wait" is set and nothing
// is pending yet.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		s.unavailable(w, r, "job events")
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	wait := query.Get("wait") == "1" || strings.EqualFold(query.Get("wait"), "true")

	ctx := r.Context()
	if wait {
		timeout := s.longPoll
		if requested, err := time.ParseDuration(query.Get("timeout")); err == nil && requested > 0 && requested < timeout {
			timeout = requested
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	events, next, err := s.deps.Hub.Fetch(ctx, since, limit, wait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		s.writeServiceError(w, r, "could not read job events", err)
		return
	}
	if r.Context().Err() != nil {
		return
	}
	s.writeJSON(w, r, http.StatusOK, JobEventsResponse{Status: StatusSuccess, Events: FromEvents(events), Next: next})
}
