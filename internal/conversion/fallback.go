package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"printkiosk/internal/logging"
	"printkiosk/internal/pdfwriter"
	"printkiosk/internal/textextract"
)

const degradedNotice = "This document could not be fully converted for printing."

// Fallback renders extracted text as a plain PDF when the engine cannot help.
type Fallback struct {
	paperSize string
	maxRunes  int
	logger    *slog.Logger
}

// NewFallback returns a fallback converter producing pages of paperSize.
func NewFallback(paperSize string, maxRunes int, logger *slog.Logger) *Fallback {
	return &Fallback{
		paperSize: paperSize,
		maxRunes:  maxRunes,
		logger:    logging.NewComponentLogger(logger, "fallback"),
	}
}

// Convert writes outPath from the text of inputPath. When no text can be
// recovered it writes a single page stating that conversion was degraded.
// The error is non-nil only when no PDF could be written at all.
func (f *Fallback) Convert(ctx context.Context, req Request, inputPath, outPath string) (Result, error) {
	started := time.Now()
	logger := logging.WithContext(ctx, f.logger)
	title := displayName(req, inputPath)
	opts := pdfwriter.Options{PaperSize: f.paperSize, Title: title}

	text, err := textextract.Extract(inputPath, req.DeclaredMimeType, textextract.Options{MaxRunes: f.maxRunes})
	if err != nil {
		logger.Warn("text extraction failed; writing notice page",
			logging.Error(err),
			logging.String(logging.FieldEventType, "fallback_extract_failed"),
			logging.String(logging.FieldErrorHint, "document may be encrypted or corrupt"),
			logging.String(logging.FieldImpact, "printed output is a placeholder page"),
		)
	}

	if strings.TrimSpace(text) != "" {
		pages, werr := pdfwriter.WriteFile(outPath, text, opts)
		if werr == nil {
			return Result{
				ArtifactPath: outPath,
				PageCount:    pages,
				UsedFallback: true,
				Engine:       EngineFallback,
				Duration:     time.Since(started),
			}, nil
		}
		logger.Warn("fallback layout failed; writing notice page",
			logging.Error(werr),
			logging.String(logging.FieldEventType, "fallback_write_failed"),
			logging.String(logging.FieldErrorHint, "check workspace disk space"),
			logging.String(logging.FieldImpact, "printed output is a placeholder page"),
		)
	}

	pages, err := pdfwriter.WriteFile(outPath, noticeText(title), opts)
	if err != nil {
		return Result{}, fmt.Errorf("write notice page: %w", err)
	}
	return Result{
		ArtifactPath: outPath,
		PageCount:    max(pages, 1),
		UsedFallback: true,
		Engine:       EngineFallback,
		Duration:     time.Since(started),
	}, nil
}

func noticeText(name string) string {
	var b strings.Builder
	b.WriteString(degradedNotice)
	b.WriteString("\n\n")
	if name != "" {
		b.WriteString("File: ")
		b.WriteString(name)
		b.WriteString("\n\n")
	}
	b.WriteString("No readable text could be recovered. Please try a different file format or ask staff for help.")
	return b.String()
}

func displayName(req Request, inputPath string) string {
	if name := strings.TrimSpace(req.OriginalFileName); name != "" {
		return filepath.Base(name)
	}
	if req.SourcePath != "" {
		return filepath.Base(req.SourcePath)
	}
	return filepath.Base(inputPath)
}
