package conversion

import (
	"context"
	"io"
	"time"
)

// Engine labels reported in results, logs and metrics.
const (
	EngineOffice      = "office"
	EnginePassthrough = "passthrough"
	EngineFallback    = "fallback"
)

// Request describes one document to convert. Exactly one of SourcePath,
// SourceBytes or SourceReader is used, checked in that order.
type Request struct {
	SourcePath       string
	SourceBytes      []byte
	SourceReader     io.Reader
	OriginalFileName string
	DeclaredMimeType string
}

// Result describes a produced artifact.
type Result struct {
	ArtifactPath string        `json:"artifactPath"`
	URL          string        `json:"pdfUrl,omitempty"`
	PageCount    int           `json:"pageCount"`
	UsedFallback bool          `json:"usedFallback"`
	Engine       string        `json:"engine"`
	Duration     time.Duration `json:"duration"`
}

// Engine is the primary converter.
type Engine interface {
	Convert(ctx context.Context, inputPath, outDir string) (string, error)
	KillStray() error
}

// Recorder receives conversion outcomes for metrics.
type Recorder interface {
	ObserveConversion(engine, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveConversion(string, string, time.Duration) {}
