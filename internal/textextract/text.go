package textextract

import (
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const minPrintableRun = 4

func extractText(path string, limit int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(limit)*4))
	if err != nil {
		return "", err
	}
	if len(data) == limit*4 {
		data = trimPartialRune(data)
	}
	return DecodeText(data), nil
}

// trimPartialRune drops a UTF-8 sequence cut short by the read limit.
func trimPartialRune(data []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(data); i++ {
		if utf8.RuneStart(data[len(data)-i]) {
			if !utf8.FullRune(data[len(data)-i:]) {
				return data[:len(data)-i]
			}
			break
		}
	}
	return data
}

// DecodeText turns raw bytes into text. Valid UTF-8 is used as is, other text
// is read as Windows-1252, and binary content is reduced to its printable runs.
func DecodeText(data []byte) string {
	data = trimBOM(data)
	if looksBinary(data) {
		return printableRuns(data)
	}
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return printableRuns(data)
	}
	return string(decoded)
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

func looksBinary(data []byte) bool {
	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	if len(sample) == 0 {
		return false
	}
	control := 0
	for _, c := range sample {
		if c == 0 {
			return true
		}
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' && c != '\f' {
			control++
		}
	}
	return control*10 > len(sample)
}

// printableRuns keeps runs of at least minPrintableRun printable ASCII characters.
func printableRuns(data []byte) string {
	var (
		out strings.Builder
		run strings.Builder
	)
	flush := func() {
		if run.Len() >= minPrintableRun {
			if out.Len() > 0 {
				out.WriteString("\n")
			}
			out.WriteString(strings.TrimSpace(run.String()))
		}
		run.Reset()
	}
	for _, c := range data {
		if c < utf8.RuneSelf && (unicode.IsPrint(rune(c)) || c == '\t') {
			run.WriteByte(c)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}
