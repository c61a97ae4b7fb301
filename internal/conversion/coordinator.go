package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"printkiosk/internal/logging"
	"printkiosk/internal/pdfwriter"
	"printkiosk/internal/services"
	"printkiosk/internal/textextract"
	"printkiosk/internal/workspace"
)

const (
	stageName       = "conversion"
	defaultMaxInput = 50 << 20
	defaultSettle   = 2 * time.Second
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxInputBytes bounds accepted input size.
func WithMaxInputBytes(limit int64) Option {
	return func(c *Coordinator) {
		if limit > 0 {
			c.maxInput = limit
		}
	}
}

// WithFallback sets the degraded converter.
func WithFallback(f *Fallback) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.fallback = f
		}
	}
}

// WithPublisher sets where finished artifacts are moved. A publisher is required.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithSettle sets how long to wait for engine output to become visible.
func WithSettle(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.settle = d
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logging.NewComponentLogger(logger, "conversion")
	}
}

// WithRecorder reports outcomes to a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// Coordinator serializes conversions against one workspace and one engine.
type Coordinator struct {
	ws        *workspace.Manager
	engine    Engine
	fallback  *Fallback
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
	maxInput  int64
	settle    time.Duration

	slot chan struct{}
}

// NewCoordinator wires a coordinator. engine may be nil, in which case every
// conversion takes the fallback path.
func NewCoordinator(ws *workspace.Manager, engine Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		ws:       ws,
		engine:   engine,
		recorder: nopRecorder{},
		logger:   logging.NewNop(),
		maxInput: defaultMaxInput,
		settle:   defaultSettle,
		slot:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fallback == nil {
		c.fallback = NewFallback(pdfwriter.PaperA4, 0, c.logger)
	}
	return c
}

// MaxInputBytes returns the accepted input bound.
func (c *Coordinator) MaxInputBytes() int64 {
	return c.maxInput
}

// Convert produces a PDF for req. Validation failures are returned as
// services.ErrValidation, a truncated workspace copy as services.ErrIntegrity,
// and a failure of both engine and fallback as services.ErrConversionFailed.
func (c *Coordinator) Convert(ctx context.Context, req Request) (result Result, err error) {
	started := time.Now()
	ctx = services.WithStage(ctx, stageName)
	logger := logging.WithContext(ctx, c.logger)

	defer func() {
		outcome := "success"
		engine := result.Engine
		switch {
		case err != nil:
			outcome = "error"
			if engine == "" {
				engine = "none"
			}
		case result.UsedFallback:
			outcome = "degraded"
		}
		c.recorder.ObserveConversion(engine, outcome, time.Since(started))
	}()

	if c.publisher == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, stageName, "init", "no artifact publisher configured", nil)
	}
	if err := c.validate(req); err != nil {
		return Result{}, err
	}

	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-c.slot }()

	c.killStray(logger)
	handle, err := c.ws.Prepare(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		handle.Cleanup()
		c.killStray(logger)
		if relErr := handle.Release(); relErr != nil {
			logger.Warn("failed to release workspace lock", logging.Error(relErr))
		}
	}()

	inputPath, err := c.place(handle, req)
	if err != nil {
		return Result{}, err
	}
	logger = logger.With(logging.String(logging.FieldFileName, displayName(req, inputPath)))

	result, primaryErr := c.primary(ctx, handle, req, inputPath)
	if primaryErr != nil {
		if !services.Recoverable(primaryErr) {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, primaryErr
		}
		logPrimaryFailure(logger, primaryErr)

		outPath := handle.OutputName(inputPath, ".fallback.pdf")
		result, err = c.fallback.Convert(ctx, req, inputPath, outPath)
		if err != nil {
			logging.ErrorWithContext(logger, "fallback conversion failed", "conversion_failed",
				logging.Error(err),
				logging.String("primary_error", primaryErr.Error()),
				logging.String(logging.FieldErrorHint, "check workspace disk space and permissions"),
				logging.String(logging.FieldImpact, "document cannot be printed"),
			)
			return Result{Engine: EngineFallback}, services.Wrap(services.ErrConversionFailed, stageName, "fallback",
				"primary and fallback conversion both failed", errors.Join(primaryErr, err))
		}
	}

	published, err := c.publisher.Publish(ctx, result.ArtifactPath)
	if err != nil {
		return Result{Engine: result.Engine}, services.Wrap(services.ErrConversionFailed, stageName, "publish", "publish artifact", err)
	}
	handle.Track(result.ArtifactPath)
	result.ArtifactPath = published.Path
	result.URL = published.URL
	result.Duration = time.Since(started)

	logger.Info("conversion finished",
		logging.String("engine", result.Engine),
		logging.Int("page_count", result.PageCount),
		logging.Bool("used_fallback", result.UsedFallback),
		logging.Duration("elapsed", result.Duration),
		logging.String(logging.FieldEventType, "conversion_complete"),
	)
	return result, nil
}

func (c *Coordinator) validate(req Request) error {
	switch {
	case strings.TrimSpace(req.SourcePath) != "":
		info, err := os.Stat(req.SourcePath)
		if err != nil {
			return services.Wrap(services.ErrValidation, stageName, "validate", "input not found or unreadable", err)
		}
		if info.IsDir() {
			return services.Wrap(services.ErrValidation, stageName, "validate", "input is a directory", nil)
		}
		if info.Size() == 0 {
			return services.Wrap(services.ErrValidation, stageName, "validate", "input is empty", nil)
		}
		if info.Size() > c.maxInput {
			return services.Wrap(services.ErrTooLarge, stageName, "validate",
				fmt.Sprintf("input is %d bytes, limit is %d", info.Size(), c.maxInput), nil)
		}
		f, err := os.Open(req.SourcePath)
		if err != nil {
			return services.Wrap(services.ErrValidation, stageName, "validate", "input not readable", err)
		}
		_ = f.Close()
	case req.SourceBytes != nil:
		if len(req.SourceBytes) == 0 {
			return services.Wrap(services.ErrValidation, stageName, "validate", "input is empty", nil)
		}
		if int64(len(req.SourceBytes)) > c.maxInput {
			return services.Wrap(services.ErrTooLarge, stageName, "validate",
				fmt.Sprintf("input is %d bytes, limit is %d", len(req.SourceBytes), c.maxInput), nil)
		}
	case req.SourceReader != nil:
	default:
		return services.Wrap(services.ErrValidation, stageName, "validate", "no input supplied", nil)
	}
	return nil
}

func (c *Coordinator) place(handle *workspace.Handle, req Request) (string, error) {
	name := req.OriginalFileName
	switch {
	case strings.TrimSpace(req.SourcePath) != "":
		if strings.TrimSpace(name) == "" {
			name = req.SourcePath
		}
		path, _, err := handle.PlaceFile(req.SourcePath, name)
		return path, err
	case req.SourceBytes != nil:
		return handle.PlaceInput(req.SourceBytes, name)
	default:
		path, size, err := handle.PlaceReader(req.SourceReader, name, c.maxInput)
		if err == nil && size == 0 {
			return "", services.Wrap(services.ErrValidation, stageName, "validate", "input is empty", nil)
		}
		return path, err
	}
}

func (c *Coordinator) primary(ctx context.Context, handle *workspace.Handle, req Request, inputPath string) (Result, error) {
	if isPDF(inputPath, req.DeclaredMimeType) {
		pages, err := pdfwriter.CountPages(inputPath)
		if err != nil {
			return Result{}, services.Wrap(services.ErrIntegrity, stageName, "passthrough", "input pdf is unreadable", err)
		}
		return Result{ArtifactPath: inputPath, PageCount: pages, Engine: EnginePassthrough}, nil
	}
	if c.engine == nil {
		return Result{}, services.Wrap(services.ErrToolUnavailable, stageName, "engine", "no conversion engine configured", nil)
	}

	if _, err := c.engine.Convert(ctx, inputPath, handle.Dir()); err != nil {
		return Result{}, err
	}
	outPath, err := handle.LocateOutput(ctx, handle.OutputName(inputPath, ".pdf"), c.settle)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return Result{}, services.Wrap(services.ErrEmptyOutput, stageName, "locate", "engine produced no output", err)
		}
		return Result{}, err
	}
	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return Result{}, services.Wrap(services.ErrEmptyOutput, stageName, "locate", "engine produced an empty file", err)
	}
	pages, err := pdfwriter.CountPages(outPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrIntegrity, stageName, "count", "engine output is not a readable pdf", err)
	}
	return Result{ArtifactPath: outPath, PageCount: pages, Engine: EngineOffice}, nil
}

func (c *Coordinator) killStray(logger *slog.Logger) {
	if c.engine == nil {
		return
	}
	if err := c.engine.KillStray(); err != nil {
		logger.Debug("stray engine kill failed", logging.Error(err))
	}
}

func isPDF(path, mime string) bool {
	if strings.EqualFold(strings.TrimSpace(mime), "application/pdf") {
		return true
	}
	if textextract.Classify(path, "") == textextract.KindPDF {
		return true
	}
	return false
}

func logPrimaryFailure(logger *slog.Logger, err error) {
	hint := "inspect engine output in the daemon log"
	eventType := "engine_failed"
	switch {
	case errors.Is(err, services.ErrTimeout):
		eventType = "engine_timeout"
		hint = "input may be very large or malformed"
	case errors.Is(err, services.ErrToolUnavailable):
		eventType = "engine_unavailable"
		hint = "install libreoffice or set conversion.engine_binary"
	case errors.Is(err, services.ErrEmptyOutput):
		eventType = "engine_empty_output"
	}
	logging.WarnWithContext(logger, "primary conversion failed; using fallback", eventType,
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "output is plain text only"),
	)
}
