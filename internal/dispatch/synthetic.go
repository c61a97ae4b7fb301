package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"printkiosk/internal/services"
)

// Synthetic reports coarse stages on a timer. It is only used when no real
// spooler is installed.
type Synthetic struct {
	step time.Duration
	now  func() time.Time

	mu      sync.Mutex
	seq     int
	started map[string]time.Time
}

// NewSynthetic constructs a synthetic spooler advancing one stage per step.
func NewSynthetic(step time.Duration) *Synthetic {
	if step <= 0 {
		step = 2 * time.Second
	}
	return &Synthetic{step: step, now: time.Now, started: make(map[string]time.Time)}
}

// Name identifies the spooler in logs.
func (s *Synthetic) Name() string { return "synthetic" }

// Submit records the request and returns a synthetic id.
func (s *Synthetic) Submit(_ context.Context, req SpoolRequest) (string, error) {
	if req.FilePath == "" {
		return "", services.Wrap(services.ErrValidation, "dispatch", "submit", "file path is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("synthetic-%d", s.seq)
	s.started[id] = s.now()
	return id, nil
}

// State derives the phase from the time since submission.
func (s *Synthetic) State(_ context.Context, spoolID string) (SpoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started, ok := s.started[spoolID]
	if !ok {
		return SpoolState{}, services.Wrap(services.ErrNotFound, "dispatch", "state", "unknown spool id "+spoolID, nil)
	}
	elapsed := s.now().Sub(started)
	switch {
	case elapsed < s.step:
		return SpoolState{Phase: PhaseQueued, Message: "Waiting in printer queue"}, nil
	case elapsed < 2*s.step:
		return SpoolState{Phase: PhasePrinting, Message: "Printing"}, nil
	default:
		delete(s.started, spoolID)
		return SpoolState{Phase: PhaseDone, Message: "Printed"}, nil
	}
}
