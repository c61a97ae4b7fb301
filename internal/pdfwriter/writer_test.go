package pdfwriter_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"printkiosk/internal/pdfwriter"
)

func TestWriteProducesReadablePDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pdf")
	pages, err := pdfwriter.WriteFile(path, "Hello (kiosk) \\ world\nsecond line", pdfwriter.Options{Title: "Receipt"})
	if err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if pages != 1 {
		t.Fatalf("expected 1 page, got %d", pages)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.4")) || !bytes.HasSuffix(data, []byte("%%EOF\n")) {
		t.Fatal("missing PDF header or trailer")
	}
	if !bytes.Contains(data, []byte(`(Hello \(kiosk\) \\ world) Tj`)) {
		t.Fatalf("expected escaped text operator in output:\n%s", data)
	}

	counted, err := pdfwriter.CountPages(path)
	if err != nil {
		t.Fatalf("CountPages returned error: %v", err)
	}
	if counted != 1 {
		t.Fatalf("expected CountPages=1, got %d", counted)
	}
}

func TestWriteEmptyTextStillHasOnePage(t *testing.T) {
	var buf bytes.Buffer
	pages, err := pdfwriter.Write(&buf, "", pdfwriter.Options{PaperSize: pdfwriter.PaperLetter})
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if pages != 1 {
		t.Fatalf("expected a single page, got %d", pages)
	}
	if !bytes.Contains(buf.Bytes(), []byte("/MediaBox [0 0 612 792]")) {
		t.Fatal("expected letter media box")
	}
}

func TestLayoutWrapsAndPaginates(t *testing.T) {
	opts := pdfwriter.Options{}
	long := strings.Repeat("word ", 400)
	pages := pdfwriter.Layout(long, opts)
	if len(pages) != 1 {
		t.Fatalf("expected wrapped paragraph on one page, got %d", len(pages))
	}
	if len(pages[0]) < 2 {
		t.Fatalf("expected paragraph to wrap, got %d lines", len(pages[0]))
	}

	many := strings.Repeat("line\n", 200)
	if got := len(pdfwriter.Layout(many, opts)); got < 3 {
		t.Fatalf("expected at least 3 pages for 200 lines, got %d", got)
	}

	if got := len(pdfwriter.Layout("first\fsecond", opts)); got != 2 {
		t.Fatalf("expected form feed to break pages, got %d", got)
	}
}

func TestWriteReplacesUnsupportedCharacters(t *testing.T) {
	var buf bytes.Buffer
	if _, err := pdfwriter.Write(&buf, "Café 日本", pdfwriter.Options{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`(Caf\351 ??) Tj`)) {
		t.Fatalf("expected WinAnsi encoding with replacements:\n%s", buf.Bytes())
	}
}

func TestCountPagesFallsBackToObjectScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	body := "%PDF-1.4\n1 0 obj << /Type /Pages /Count 2 >> endobj\n2 0 obj << /Type /Page >> endobj\n3 0 obj << /Type/Page >> endobj\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := pdfwriter.CountPages(path)
	if err != nil {
		t.Fatalf("CountPages returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pages from object scan, got %d", n)
	}
}
