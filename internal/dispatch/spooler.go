package dispatch

import (
	"context"
	"log/slog"
	"time"

	"printkiosk/internal/config"
	"printkiosk/internal/logging"
)

// Phase is a coarse spooler state.
type Phase string

const (
	PhaseQueued   Phase = "queued"
	PhasePrinting Phase = "printing"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// SpoolRequest describes one document handed to the spooler.
type SpoolRequest struct {
	Printer   string
	FilePath  string
	Copies    int
	Color     bool
	PaperSize string
	Title     string
}

// SpoolState is the spooler's view of a submitted request.
type SpoolState struct {
	Phase   Phase
	Message string
}

// Spooler submits documents to a printer queue and reports their state.
type Spooler interface {
	Name() string
	Submit(ctx context.Context, req SpoolRequest) (string, error)
	State(ctx context.Context, spoolID string) (SpoolState, error)
}

// SelectSpooler returns the CUPS spooler when lp is installed, otherwise the
// synthetic spooler if printing.synthetic_fallback allows it.
func SelectSpooler(cfg *config.Config, logger *slog.Logger) Spooler {
	cups := NewCUPS(cfg.Printing.LPBinary, cfg.Printing.LPStatBinary)
	if cups.Available() || !cfg.Printing.SyntheticFallback {
		return cups
	}
	if logger != nil {
		logging.WarnWithContext(logger, "lp not found; using synthetic print progress", "spooler_synthetic",
			logging.String("lp_binary", cfg.Printing.LPBinary),
			logging.String(logging.FieldErrorHint, "install cups-client or set printing.lp_binary"),
			logging.String(logging.FieldImpact, "jobs are marked printed without reaching a printer"),
		)
	}
	return NewSynthetic(time.Duration(cfg.Printing.PollIntervalSeconds) * time.Second)
}
