package jobs_test

import (
	"testing"

	"printkiosk/internal/config"
	"printkiosk/internal/jobs"
)

func TestFileKey(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"Report.pdf", "report.PDF", true},
		{"  report.pdf ", "report.pdf", true},
		{"Caf\u00e9.docx", "CAFE\u0301.docx", true},
		{"report.pdf", "report2.pdf", false},
	}
	for _, tc := range tests {
		if got := jobs.FileKey(tc.a) == jobs.FileKey(tc.b); got != tc.same {
			t.Errorf("FileKey(%q) == FileKey(%q) = %v, want %v", tc.a, tc.b, got, tc.same)
		}
	}
	if jobs.FileKey("   ") != "" {
		t.Error("expected blank names to have an empty key")
	}
}

func TestPrice(t *testing.T) {
	pricing := config.Pricing{BlackWhitePerPage: 0.10, ColorPerPage: 0.50}
	if got := jobs.Price(pricing, 3, 2, false); got != 0.6 {
		t.Fatalf("bw price = %v, want 0.6", got)
	}
	if got := jobs.Price(pricing, 3, 2, true); got != 3 {
		t.Fatalf("colour price = %v, want 3", got)
	}
	if got := jobs.Price(pricing, 0, 0, false); got != 0.1 {
		t.Fatalf("minimum price = %v, want 0.1", got)
	}
}
