package jobs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a print job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPrinting   Status = "printing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Intake sources recorded on jobs.
const (
	SourceUpload = "upload"
	SourceUSB    = "usb"
	SourceScan   = "scan"
	SourceCLI    = "cli"
)

// Job is one print request tracked from submission to completion.
type Job struct {
	ID             string     `json:"id"`
	FileName       string     `json:"fileName"`
	FileKey        string     `json:"-"`
	FileURL        string     `json:"fileUrl"`
	PrinterName    string     `json:"printerName,omitempty"`
	Copies         int        `json:"copies"`
	IsColor        bool       `json:"isColor"`
	TotalPages     int        `json:"totalPages"`
	PaperSize      string     `json:"paperSize,omitempty"`
	Status         Status     `json:"status"`
	Progress       int        `json:"progress"`
	StatusMessage  string     `json:"statusMessage,omitempty"`
	Price          float64    `json:"price"`
	Source         string     `json:"source,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	SpoolID        string     `json:"spoolId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Malformed reports whether the record lacks a file name. Malformed records
// are never shown or acted upon and are purged by the reaper.
func (j *Job) Malformed() bool {
	return j == nil || strings.TrimSpace(j.FileName) == ""
}

// Active reports whether the job is in a non-terminal status.
func (j *Job) Active() bool {
	return j != nil && j.Status.Active()
}

// Age returns how long ago the job was created.
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status        *Status
	Progress      *int
	StatusMessage *string
	FileURL       *string
	PrinterName   *string
	Copies        *int
	IsColor       *bool
	TotalPages    *int
	Price         *float64
	SpoolID       *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T {
	return &v
}

// Filter narrows List results. Zero values match everything except
// malformed records, which are excluded unless IncludeMalformed is set.
type Filter struct {
	Statuses         []Status
	FileKey          string
	CreatedAfter     time.Time
	IncludeMalformed bool
	Predicate        func(*Job) bool
	Limit            int
}

// Health summarises the job database for diagnostics.
type Health struct {
	DBPath         string         `json:"dbPath"`
	DatabaseExists bool           `json:"databaseExists"`
	SchemaVersion  int            `json:"schemaVersion"`
	Total          int            `json:"total"`
	Malformed      int            `json:"malformed"`
	ByStatus       map[Status]int `json:"byStatus"`
	IntegrityCheck bool           `json:"integrityCheck"`
}
