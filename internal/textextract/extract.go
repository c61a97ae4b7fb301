package textextract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Kind classifies a document for extraction.
type Kind string

const (
	KindPDF         Kind = "pdf"
	KindSpreadsheet Kind = "xlsx"
	KindPackage     Kind = "package"
	KindText        Kind = "text"
)

// DefaultMaxRunes bounds extracted text when Options.MaxRunes is unset.
const DefaultMaxRunes = 200_000

// Options tunes extraction.
type Options struct {
	MaxRunes int
}

var mimeKinds = map[string]Kind{
	"application/pdf": KindPDF,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         KindSpreadsheet,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   KindPackage,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": KindPackage,
	"application/vnd.oasis.opendocument.text":                                   KindPackage,
	"application/vnd.oasis.opendocument.spreadsheet":                            KindPackage,
	"application/vnd.oasis.opendocument.presentation":                           KindPackage,
}

var extKinds = map[string]Kind{
	".pdf":  KindPDF,
	".xlsx": KindSpreadsheet,
	".xlsm": KindSpreadsheet,
	".docx": KindPackage,
	".pptx": KindPackage,
	".odt":  KindPackage,
	".ods":  KindPackage,
	".odp":  KindPackage,
}

// Classify picks an extraction strategy from the file extension, the declared
// MIME type and finally the leading bytes of the file.
func Classify(path, mime string) Kind {
	if kind, ok := extKinds[strings.ToLower(filepath.Ext(path))]; ok {
		return kind
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if kind, ok := mimeKinds[mime]; ok {
		return kind
	}
	head := make([]byte, 8)
	if f, err := os.Open(path); err == nil {
		n, _ := f.Read(head)
		_ = f.Close()
		head = head[:n]
	}
	switch {
	case strings.HasPrefix(string(head), "%PDF-"):
		return KindPDF
	case strings.HasPrefix(string(head), "PK\x03\x04"):
		return KindPackage
	default:
		return KindText
	}
}

// Extract returns the readable text of the document at path.
func Extract(path, mime string, opts Options) (string, error) {
	limit := opts.MaxRunes
	if limit <= 0 {
		limit = DefaultMaxRunes
	}

	var (
		text string
		err  error
	)
	switch kind := Classify(path, mime); kind {
	case KindPDF:
		text, err = extractPDF(path, limit)
	case KindSpreadsheet:
		text, err = extractSpreadsheet(path, limit)
	case KindPackage:
		text, err = extractPackage(path, limit)
	default:
		text, err = extractText(path, limit)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	return truncateRunes(normalizeWhitespace(text), limit), nil
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	count := 0
	for idx := range text {
		if count == limit {
			return text[:idx]
		}
		count++
	}
	return text
}

// normalizeWhitespace unifies line endings and collapses runs of blank lines.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
