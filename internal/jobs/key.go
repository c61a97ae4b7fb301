package jobs

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"printkiosk/internal/config"
)

// FileKey returns the deduplication key for a file name: trimmed, NFC
// normalised and case folded, so "Report.PDF" and "report.pdf" collide.
func FileKey(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	return cases.Fold().String(norm.NFC.String(trimmed))
}

// Price derives the informational job price rounded to cents.
func Price(pricing config.Pricing, pages, copies int, color bool) float64 {
	pages = max(pages, 1)
	copies = max(copies, 1)
	rate := pricing.BlackWhitePerPage
	if color {
		rate = pricing.ColorPerPage
	}
	return math.Round(float64(pages*copies)*rate*100) / 100
}
