package pdfwriter

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/ledongthuc/pdf"
)

var pageObjectPattern = regexp.MustCompile(`/Type\s*/Page([^s]|$)`)

// CountPages returns the number of pages in the PDF at path. Files the parser
// rejects are counted by their page objects instead.
func CountPages(path string) (int, error) {
	if n, err := parsedPageCount(path); err == nil && n > 0 {
		return n, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	n := len(pageObjectPattern.FindAll(data, -1))
	if n == 0 {
		return 0, errors.New("no pages found")
	}
	return n, nil
}

func parsedPageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}
