package pdfwriter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const (
	PaperA4     = "a4"
	PaperLetter = "letter"

	defaultFontSize = 11.0
	defaultMargin   = 56.0
	leadingFactor   = 1.3
	// average Helvetica glyph advance in em units, biased wide so lines never overflow
	glyphWidthEm = 0.55
	tabWidth     = 4
)

// Options controls page geometry.
type Options struct {
	PaperSize string
	FontSize  float64
	Margin    float64
	Title     string
}

func (o Options) withDefaults() Options {
	if o.FontSize <= 0 {
		o.FontSize = defaultFontSize
	}
	if o.Margin <= 0 {
		o.Margin = defaultMargin
	}
	if o.PaperSize == "" {
		o.PaperSize = PaperA4
	}
	return o
}

// Dimensions returns the page width and height in points.
func Dimensions(paper string) (float64, float64) {
	if strings.EqualFold(strings.TrimSpace(paper), PaperLetter) {
		return 612, 792
	}
	return 595.28, 841.89
}

// WriteFile renders text to path and returns the page count. The file is
// written to a temporary sibling first and renamed into place.
func WriteFile(path, text string, opts Options) (int, error) {
	var buf bytes.Buffer
	pages, err := Write(&buf, text, opts)
	if err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return pages, nil
}

// Write renders text as a PDF to w and returns the page count, which is
// always at least one.
func Write(w io.Writer, text string, opts Options) (int, error) {
	opts = opts.withDefaults()
	width, height := Dimensions(opts.PaperSize)
	pages := Layout(text, opts)

	doc := &document{}
	doc.buf.WriteString("%PDF-1.4\n%\xE2\xE3\xCF\xD3\n")

	const (
		catalogID = 1
		pagesID   = 2
		fontID    = 3
		firstPage = 4
	)
	infoID := firstPage + 2*len(pages)

	doc.object(catalogID, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesID))

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+2*i)
	}
	doc.object(pagesID, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	doc.object(fontID, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	leading := opts.FontSize * leadingFactor
	for i, lines := range pages {
		pageID := firstPage + 2*i
		contentID := pageID + 1
		doc.object(pageID, fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			pagesID, num(width), num(height), fontID, contentID,
		))

		var content bytes.Buffer
		fmt.Fprintf(&content, "BT\n/F1 %s Tf\n%s TL\n%s %s Td\n", num(opts.FontSize), num(leading), num(opts.Margin), num(height-opts.Margin-opts.FontSize))
		for j, line := range lines {
			if j > 0 {
				content.WriteString("T* ")
			}
			content.WriteString("(")
			content.Write(encodeLine(line))
			content.WriteString(") Tj\n")
		}
		content.WriteString("ET")
		doc.stream(contentID, content.Bytes())
	}

	info := "<< /Producer (printkiosk)"
	if title := strings.TrimSpace(opts.Title); title != "" {
		info += " /Title (" + string(encodeLine(title)) + ")"
	}
	doc.object(infoID, info+" >>")

	doc.finish(infoID, catalogID)
	if _, err := w.Write(doc.buf.Bytes()); err != nil {
		return 0, fmt.Errorf("write pdf: %w", err)
	}
	return len(pages), nil
}

// Layout splits text into pages of wrapped lines. A form feed forces a new
// page. The result always holds at least one page.
func Layout(text string, opts Options) [][]string {
	opts = opts.withDefaults()
	width, height := Dimensions(opts.PaperSize)
	maxChars := int((width - 2*opts.Margin) / (opts.FontSize * glyphWidthEm))
	if maxChars < 10 {
		maxChars = 10
	}
	perPage := int((height - 2*opts.Margin) / (opts.FontSize * leadingFactor))
	if perPage < 1 {
		perPage = 1
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\t", strings.Repeat(" ", tabWidth))

	var pages [][]string
	for _, section := range strings.Split(text, "\f") {
		var lines []string
		for _, paragraph := range strings.Split(section, "\n") {
			lines = append(lines, wrap(paragraph, maxChars)...)
		}
		for len(lines) > 0 {
			n := min(perPage, len(lines))
			pages = append(pages, lines[:n])
			lines = lines[n:]
		}
	}
	if len(pages) == 0 {
		pages = [][]string{{""}}
	}
	return pages
}

func wrap(paragraph string, maxChars int) []string {
	words := strings.Fields(paragraph)
	if len(words) == 0 {
		return []string{""}
	}
	var (
		lines   []string
		current []rune
	)
	for _, word := range words {
		runes := []rune(word)
		for len(runes) > maxChars {
			if len(current) > 0 {
				lines = append(lines, string(current))
				current = nil
			}
			lines = append(lines, string(runes[:maxChars]))
			runes = runes[maxChars:]
		}
		switch {
		case len(current) == 0:
			current = runes
		case len(current)+1+len(runes) <= maxChars:
			current = append(append(current, ' '), runes...)
		default:
			lines = append(lines, string(current))
			current = runes
		}
	}
	if len(current) > 0 {
		lines = append(lines, string(current))
	}
	return lines
}

// encodeLine converts text to an escaped WinAnsi PDF string body.
func encodeLine(line string) []byte {
	out := make([]byte, 0, len(line)+8)
	for _, r := range line {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		switch {
		case b == '(' || b == ')' || b == '\\':
			out = append(out, '\\', b)
		case b < 0x20 || b >= 0x7f:
			out = append(out, []byte(fmt.Sprintf("\\%03o", b))...)
		default:
			out = append(out, b)
		}
	}
	return out
}

func num(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

type document struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func (d *document) object(id int, body string) {
	d.begin(id)
	d.buf.WriteString(body)
	d.buf.WriteString("\nendobj\n")
}

func (d *document) stream(id int, data []byte) {
	d.begin(id)
	fmt.Fprintf(&d.buf, "<< /Length %d >>\nstream\n", len(data))
	d.buf.Write(data)
	d.buf.WriteString("\nendstream\nendobj\n")
}

func (d *document) begin(id int) {
	if d.offsets == nil {
		d.offsets = make(map[int]int)
	}
	d.offsets[id] = d.buf.Len()
	fmt.Fprintf(&d.buf, "%d 0 obj\n", id)
}

func (d *document) finish(infoID, rootID int) {
	size := len(d.offsets) + 1
	xref := d.buf.Len()
	fmt.Fprintf(&d.buf, "xref\n0 %d\n0000000000 65535 f \n", size)
	for id := 1; id < size; id++ {
		fmt.Fprintf(&d.buf, "%010d 00000 n \n", d.offsets[id])
	}
	fmt.Fprintf(&d.buf, "trailer\n<< /Size %d /Root %d 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, rootID, infoID, xref)
}
