package textextract

import (
	"strings"

	"github.com/xuri/excelize/v2"
)

func extractSpreadsheet(path string, limit int) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.Rows(sheet)
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteString("\f")
		}
		b.WriteString(sheet)
		b.WriteString("\n\n")
		for rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				_ = rows.Close()
				return "", err
			}
			b.WriteString(strings.Join(cols, "\t"))
			b.WriteString("\n")
			if b.Len() > limit*4 {
				break
			}
		}
		_ = rows.Close()
		if b.Len() > limit*4 {
			break
		}
	}
	return b.String(), nil
}
