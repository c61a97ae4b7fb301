package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"printkiosk/internal/services"
)

// trimmedFileName strips the same ASCII whitespace as strings.TrimSpace so
// SQL filters agree with Job.Malformed for rows written outside Create.
const trimmedFileName = "TRIM(file_name, ' ' || char(9) || char(10) || char(11) || char(12) || char(13))"

// Create inserts a new job. Missing identifiers and defaults are filled in;
// CreatedAt is kept when already set so records can be backfilled.
func (s *Store) Create(ctx context.Context, job *Job) (*Job, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	now := s.now().UTC()
	record := job.Clone()
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("job id: %w", err)
		}
		record.ID = id.String()
	}
	record.FileName = strings.TrimSpace(record.FileName)
	record.FileKey = FileKey(record.FileName)
	if record.Status == "" {
		record.Status = StatusPending
	}
	if !record.Status.Valid() {
		return nil, services.Wrap(services.ErrValidation, "jobs", "create", fmt.Sprintf("unknown status %q", record.Status), nil)
	}
	record.Copies = max(record.Copies, 1)
	record.TotalPages = max(record.TotalPages, 1)
	record.Progress = clampProgress(record.Progress)
	record.Price = max(record.Price, 0)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	if record.Status == StatusCompleted {
		record.Progress = 100
		if record.CompletedAt == nil {
			completed := record.UpdatedAt
			record.CompletedAt = &completed
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO print_jobs (`+jobColumns+`) VALUES (`+makePlaceholders(19)+`)`,
			record.ID,
			record.FileName,
			record.FileKey,
			nullableString(record.FileURL),
			nullableString(record.PrinterName),
			record.Copies,
			boolToInt(record.IsColor),
			record.TotalPages,
			nullableString(record.PaperSize),
			record.Status,
			record.Progress,
			nullableString(record.StatusMessage),
			record.Price,
			nullableString(record.Source),
			nullableString(record.IdempotencyKey),
			nullableString(record.SpoolID),
			formatTime(record.CreatedAt),
			formatTime(record.UpdatedAt),
			nullableTime(record.CompletedAt),
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "jobs", "create", "job already exists", err)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	s.hub.Publish(EventCreated, record)
	return record.Clone(), nil
}

// Get fetches a job by id. It returns nil without error when the job does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindByIdempotencyKey returns the job created with key, or nil.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM print_jobs WHERE idempotency_key = ?`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	return job, nil
}

// Update merges patch into the job with the given id and returns the result.
// Status changes must move forward; progress of an active job never
// decreases; completion forces progress to 100; terminal jobs ignore progress.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*Job, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var updated *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "jobs", "update", fmt.Sprintf("job %s not found", id), nil)
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		next, err := applyPatch(current, patch, s.now().UTC())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE print_jobs
             SET file_url = ?, printer_name = ?, copies = ?, is_color = ?, total_pages = ?,
                 status = ?, progress = ?, status_message = ?, price = ?, spool_id = ?,
                 updated_at = ?, completed_at = ?
             WHERE id = ?`,
			nullableString(next.FileURL),
			nullableString(next.PrinterName),
			next.Copies,
			boolToInt(next.IsColor),
			next.TotalPages,
			next.Status,
			next.Progress,
			nullableString(next.StatusMessage),
			next.Price,
			nullableString(next.SpoolID),
			formatTime(next.UpdatedAt),
			nullableTime(next.CompletedAt),
			id,
		)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(EventUpdated, updated)
	return updated.Clone(), nil
}

func applyPatch(current *Job, patch Patch, now time.Time) (*Job, error) {
	next := current.Clone()
	if patch.Status != nil && *patch.Status != current.Status {
		if !CanTransition(current.Status, *patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *patch.Status)
		}
		next.Status = *patch.Status
	}
	if patch.Progress != nil && !current.Status.Terminal() {
		if value := clampProgress(*patch.Progress); value > next.Progress {
			next.Progress = value
		}
	}
	if next.Status == StatusCompleted {
		next.Progress = 100
		if next.CompletedAt == nil {
			completed := now
			next.CompletedAt = &completed
		}
	}
	if patch.StatusMessage != nil {
		next.StatusMessage = *patch.StatusMessage
	}
	if patch.FileURL != nil {
		next.FileURL = *patch.FileURL
	}
	if patch.PrinterName != nil {
		next.PrinterName = *patch.PrinterName
	}
	if patch.Copies != nil {
		next.Copies = max(*patch.Copies, 1)
	}
	if patch.IsColor != nil {
		next.IsColor = *patch.IsColor
	}
	if patch.TotalPages != nil {
		next.TotalPages = max(*patch.TotalPages, 1)
	}
	if patch.Price != nil {
		next.Price = max(*patch.Price, 0)
	}
	if patch.SpoolID != nil {
		next.SpoolID = *patch.SpoolID
	}
	next.UpdatedAt = now
	return next, nil
}

// List returns jobs matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.FileKey != "" {
		clauses = append(clauses, "file_key = ?")
		args = append(args, filter.FileKey)
	}
	if !filter.CreatedAfter.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(filter.CreatedAfter))
	}
	if !filter.IncludeMalformed {
		clauses = append(clauses, trimmedFileName+" <> ''")
	}
	query := `SELECT ` + jobColumns + ` FROM print_jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if filter.Predicate != nil && !filter.Predicate(job) {
			continue
		}
		out = append(out, job)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

// ListByFileName returns every job whose file name shares the dedup key of name.
func (s *Store) ListByFileName(ctx context.Context, name string) ([]*Job, error) {
	key := FileKey(name)
	if key == "" {
		return nil, nil
	}
	return s.List(ctx, Filter{FileKey: key})
}

// Delete removes a job. It reports whether a record was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var removed *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		removed = nil
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM print_jobs WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		removed = current
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed == nil {
		return false, nil
	}
	s.hub.Publish(EventDeleted, removed)
	return true, nil
}

// Clear deletes every job in the given statuses, or every job when none are
// given. It returns the number of removed records.
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int, error) {
	jobs, err := s.List(ctx, Filter{Statuses: statuses, IncludeMalformed: true})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, job := range jobs {
		ok, err := s.Delete(ctx, job.ID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM print_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CheckHealth returns diagnostic information about the job database.
func (s *Store) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{DBPath: s.path, SchemaVersion: schemaVersion}
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat job database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("job database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if health.ByStatus, err = s.Stats(ctx); err != nil {
		return health, err
	}
	for _, count := range health.ByStatus {
		health.Total += count
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM print_jobs WHERE `+trimmedFileName+` = ''`).Scan(&health.Malformed); err != nil {
		return health, fmt.Errorf("count malformed jobs: %w", err)
	}
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = result == "ok"
	return health, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
