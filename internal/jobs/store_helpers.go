package jobs

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, file_name, file_key, file_url, printer_name, copies, is_color, total_pages, paper_size, status, progress, status_message, price, source, idempotency_key, spool_id, created_at, updated_at, completed_at"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id             string
		fileName       string
		fileKey        string
		fileURL        sql.NullString
		printerName    sql.NullString
		copies         sql.NullInt64
		isColor        sql.NullInt64
		totalPages     sql.NullInt64
		paperSize      sql.NullString
		statusStr      string
		progress       sql.NullInt64
		statusMessage  sql.NullString
		price          sql.NullFloat64
		source         sql.NullString
		idempotencyKey sql.NullString
		spoolID        sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
		completedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&fileName,
		&fileKey,
		&fileURL,
		&printerName,
		&copies,
		&isColor,
		&totalPages,
		&paperSize,
		&statusStr,
		&progress,
		&statusMessage,
		&price,
		&source,
		&idempotencyKey,
		&spoolID,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		FileName:       fileName,
		FileKey:        fileKey,
		FileURL:        fileURL.String,
		PrinterName:    printerName.String,
		Copies:         int(copies.Int64),
		IsColor:        isColor.Valid && isColor.Int64 != 0,
		TotalPages:     int(totalPages.Int64),
		PaperSize:      paperSize.String,
		Status:         Status(statusStr),
		Progress:       int(progress.Int64),
		StatusMessage:  statusMessage.String,
		Price:          price.Float64,
		Source:         source.String,
		IdempotencyKey: idempotencyKey.String,
		SpoolID:        spoolID.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func clampProgress(value int) int {
	return min(max(value, 0), 100)
}
