package textextract_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"printkiosk/internal/textextract"
)

func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractWordDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "letter.docx")
	writeZip(t, path, map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			`<w:p><w:r><w:t>Dear customer,</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t>Total</w:t><w:tab/><w:t>12.50</w:t></w:r></w:p>` +
			`</w:body></w:document>`,
	})

	text, err := textextract.Extract(path, "", textextract.Options{})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if text != "Dear customer,\nTotal\t12.50" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractPresentationKeepsSlideOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	slide := func(body string) string {
		return `<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>` + body + `</a:t></a:r></a:p></p:sld>`
	}
	writeZip(t, path, map[string]string{
		"ppt/slides/slide10.xml": slide("ten"),
		"ppt/slides/slide2.xml":  slide("two"),
		"ppt/slides/slide1.xml":  slide("one"),
	})

	text, err := textextract.Extract(path, "", textextract.Options{})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if got := strings.Fields(strings.ReplaceAll(text, "\f", " ")); strings.Join(got, ",") != "one,two,ten" {
		t.Fatalf("unexpected slide order %q", text)
	}
}

func TestExtractSpreadsheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetCellValue(sheet, "A1", "Item")
	_ = f.SetCellValue(sheet, "B1", "Price")
	_ = f.SetCellValue(sheet, "A2", "Paper")
	_ = f.SetCellValue(sheet, "B2", 4.5)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	_ = f.Close()

	text, err := textextract.Extract(path, "", textextract.Options{})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	for _, want := range []string{sheet, "Item\tPrice", "Paper\t4.5"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"utf8", []byte("Grüße\r\nline two\n\n\n\nend"), "Grüße\nline two\n\nend"},
		{"windows-1252", []byte{'C', 'a', 'f', 0xE9, ' ', 0x80, '5'}, "Café €5"},
		{"binary", append([]byte{0, 1, 2, 'a', 'b', 0}, []byte("readable words\x00\x01xy\x02")...), "readable words"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".dat")
			if err := os.WriteFile(path, tc.data, 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := textextract.Extract(path, "application/octet-stream", textextract.Options{})
			if err != nil {
				t.Fatalf("Extract returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestExtractHonoursRuneLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("é", 100)), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := textextract.Extract(path, "text/plain", textextract.Options{MaxRunes: 10})
	if err != nil {
		t.Fatal(err)
	}
	if got != strings.Repeat("é", 10) {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestClassifySniffsContent(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "upload")
	if err := os.WriteFile(pdfPath, []byte("%PDF-1.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if kind := textextract.Classify(pdfPath, ""); kind != textextract.KindPDF {
		t.Fatalf("expected pdf kind, got %q", kind)
	}
	if kind := textextract.Classify(filepath.Join(dir, "x.bin"), "application/vnd.oasis.opendocument.text"); kind != textextract.KindPackage {
		t.Fatalf("expected package kind from mime, got %q", kind)
	}
}
