package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"printkiosk/internal/conversion"
	"printkiosk/internal/devicefeed"
	"printkiosk/internal/jobs"
	"printkiosk/internal/logging"
	"printkiosk/internal/services"
	"printkiosk/internal/submission"
)

// Converter turns uploaded documents into print-ready artifacts.
type Converter interface {
	Convert(ctx context.Context, req conversion.Request) (conversion.Result, error)
	MaxInputBytes() int64
}

// Submitter resolves print requests to a tracking job.
type Submitter interface {
	Submit(ctx context.Context, candidate submission.Candidate) (submission.Result, error)
}

// Dispatcher hands newly created jobs to the print spooler.
type Dispatcher interface {
	Enqueue(jobID string) error
}

// ArtifactStore maps published artifact names to files.
type ArtifactStore interface {
	ResolveName(name string) (string, error)
}

// DeviceLister reports documents on attached removable media.
type DeviceLister interface {
	Files() []devicefeed.File
	Mode() devicefeed.Mode
}

// MetricsProvider serves and records HTTP metrics.
type MetricsProvider interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Deps lists the collaborators the HTTP surface is built from. Nil
// collaborators disable their routes with 503.
type Deps struct {
	Converter  Converter
	Submitter  Submitter
	Store      JobStore
	Hub        *jobs.Hub
	Dispatcher Dispatcher
	Artifacts  ArtifactStore
	Devices    DeviceLister
	Metrics    MetricsProvider
	Token      string
	Spooler    string

	// IntakeRoots bounds the files a {filePath} conversion may read. Empty
	// disables filePath conversions.
	IntakeRoots []string
}

const (
	defaultLongPoll     = 25 * time.Second
	defaultPingInterval = 20 * time.Second
	maxJSONBody         = 1 << 20
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLongPollTimeout caps how long GET /jobs/events waits for news.
func WithLongPollTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.longPoll = d
		}
	}
}

// WithPingInterval sets the websocket keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// Server is the kiosk HTTP surface.
type Server struct {
	deps         Deps
	jobs         *JobService
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	longPoll     time.Duration
	pingInterval time.Duration
	router       chi.Router
}

// NewServer builds the router for deps.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:         deps,
		jobs:         NewJobService(deps.Store),
		logger:       logging.NewNop(),
		longPoll:     defaultLongPoll,
		pingInterval: defaultPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The kiosk UI is served from a different local origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "api")
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, requestContext)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}
	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.deps.Token))

		r.Post("/convert", s.handleConvert)
		r.Post("/print", s.handlePrint)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/events", s.handleJobEvents)
			r.Get("/ws", s.handleJobSocket)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/cancel", s.handleCancelJob)
		})

		r.Get("/artifacts/{name}", s.handleArtifact)
		r.Get("/devices/files", s.handleDeviceFiles)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	return r
}

// requestContext copies the chi request id into the services context so
// downstream logs carry it.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(services.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "job store unavailable", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, HealthResponse{Status: StatusSuccess, Jobs: counts, Spooler: s.deps.Spooler})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode", "invalid JSON body", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.WithContext(r.Context(), s.logger).Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	resp := ErrorResponse{Status: StatusError, ErrorMessage: message}
	if err != nil {
		resp.ErrorKind = services.Describe(err)
	}
	if id, ok := services.RequestIDFromContext(r.Context()); ok {
		resp.RequestID = id
	}
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(logger, "request failed", "api_request_failed",
			logging.Int("status", status),
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the error_kind and the preceding component logs"),
			logging.String(logging.FieldImpact, "client received an error response"),
		)
	} else if err != nil {
		logger.Debug("request rejected", logging.Int("status", status), logging.Error(err))
	}
	s.writeJSON(w, r, status, resp)
}

// writeServiceError maps a classified error onto a status code and message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := services.HTTPStatus(err)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	if status < http.StatusInternalServerError && err != nil {
		message = err.Error()
	}
	s.writeError(w, r, status, message, err)
}

func (s *Server) unavailable(w http.ResponseWriter, r *http.Request, what string) {
	s.writeError(w, r, http.StatusServiceUnavailable, what+" not available", services.ErrUnavailable)
}
