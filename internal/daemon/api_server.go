package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"printkiosk/internal/api"
	"printkiosk/internal/config"
	"printkiosk/internal/logging"
)

type apiServer struct {
	bind   string
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, comps *Components, logger *slog.Logger) *apiServer {
	if cfg == nil || comps == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	deps := api.Deps{
		Converter:  comps.Converter,
		Submitter:  comps.Submitter,
		Store:      comps.Store,
		Hub:        comps.Store.Hub(),
		Dispatcher: comps.Dispatcher,
		Artifacts:  comps.Publisher,
		Metrics:    comps.Metrics,
		Token:      cfg.Paths.APIToken,
		Spooler:    comps.Dispatcher.Spooler().Name(),

		IntakeRoots: cfg.IntakeRoots(),
	}
	if comps.Devices != nil {
		deps.Devices = comps.Devices
	}
	handler := api.NewServer(deps, api.WithLogger(logger))

	// Conversions are bounded by the engine timeout, so writes must outlast it.
	writeTimeout := max(30*time.Second, cfg.EngineTimeout()+30*time.Second)
	return &apiServer{
		bind:   bind,
		logger: logger,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       2 * time.Minute,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	// Websocket streams outlive Shutdown once hijacked; tie them to ctx.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
