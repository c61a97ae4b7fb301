package api

import "printkiosk/internal/devicefeed"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// JobView describes a print job in a transport-friendly format.
type JobView struct {
	ID            string  `json:"id"`
	FileName      string  `json:"fileName"`
	FileURL       string  `json:"fileUrl"`
	PrinterName   string  `json:"printerName,omitempty"`
	Copies        int     `json:"copies"`
	IsColor       bool    `json:"isColor"`
	TotalPages    int     `json:"totalPages"`
	PaperSize     string  `json:"paperSize,omitempty"`
	Status        string  `json:"status"`
	Progress      int     `json:"progress"`
	StatusMessage string  `json:"statusMessage,omitempty"`
	Price         float64 `json:"price"`
	Source        string  `json:"source,omitempty"`
	CreatedAt     string  `json:"createdAt,omitempty"`
	UpdatedAt     string  `json:"updatedAt,omitempty"`
	CompletedAt   string  `json:"completedAt,omitempty"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	ErrorKind    string `json:"errorKind,omitempty"`
	RequestID    string `json:"requestId,omitempty"`
}

// ConvertRequest is the JSON form of POST /convert.
type ConvertRequest struct {
	FilePath string `json:"filePath"`
	FileName string `json:"fileName,omitempty"`
}

// ConvertResponse reports a produced artifact.
type ConvertResponse struct {
	Status       string `json:"status"`
	PDFURL       string `json:"pdfUrl"`
	PageCount    int    `json:"pageCount"`
	UsedFallback bool   `json:"usedFallback"`
	Engine       string `json:"engine"`
	DurationMs   int64  `json:"durationMs"`
}

// PrintRequest is the body of POST /print.
type PrintRequest struct {
	FileURL        string `json:"fileUrl"`
	FileName       string `json:"fileName"`
	PrinterName    string `json:"printerName,omitempty"`
	Copies         int    `json:"copies"`
	IsColor        bool   `json:"isColor"`
	TotalPages     int    `json:"totalPages"`
	PaperSize      string `json:"paperSize,omitempty"`
	Source         string `json:"source,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// PrintResponse reports the job tracking a print request.
type PrintResponse struct {
	Status      string  `json:"status"`
	JobID       string  `json:"jobId"`
	IsDuplicate bool    `json:"isDuplicate"`
	Reason      string  `json:"reason"`
	Job         JobView `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Status string    `json:"status"`
	Jobs   []JobView `json:"jobs"`
}

// JobItemResponse wraps a single job.
type JobItemResponse struct {
	Status string  `json:"status"`
	Job    JobView `json:"job"`
}

// JobEvent is one job change delivered to subscribers.
type JobEvent struct {
	Sequence uint64  `json:"seq"`
	Type     string  `json:"type"`
	Job      JobView `json:"job"`
	At       string  `json:"at"`
}

// JobEventsResponse is returned by the long-poll endpoint.
type JobEventsResponse struct {
	Status string     `json:"status"`
	Events []JobEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// JobSnapshot is the websocket frame: every job still held by the store plus
// the sequence it reflects.
type JobSnapshot struct {
	Status   string    `json:"status"`
	Sequence uint64    `json:"seq"`
	Jobs     []JobView `json:"jobs"`
}

// DeviceFilesResponse lists documents found on removable media.
type DeviceFilesResponse struct {
	Status string            `json:"status"`
	Mode   string            `json:"mode,omitempty"`
	Files  []devicefeed.File `json:"files"`
}

// HealthResponse reports liveness and job store health.
type HealthResponse struct {
	Status  string         `json:"status"`
	Jobs    map[string]int `json:"jobs,omitempty"`
	Spooler string         `json:"spooler,omitempty"`
}
