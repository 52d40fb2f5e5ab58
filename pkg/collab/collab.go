// Package collab defines the collaborator interfaces the pipeline core
// depends on — content network fetch, upload, report sink, progress sink —
// together with one production and one in-memory implementation of each.
// The orchestrator depends only on these interfaces.
package collab

import (
	"context"
	"time"
)

// Fetcher retrieves content bytes by identifier from a content network.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// UploadItem is one blob handed to the upload collaborator.
type UploadItem struct {
	Data          []byte
	CanonicalForm []byte
	Metadata      map[string]string
}

// UploadResult is the per-item outcome of an upload.
type UploadResult struct {
	Success bool
	ID      string
	Err     error
}

// Uploader materializes content on the storage provider. UploadBatch
// returns one result per item, in order.
type Uploader interface {
	UploadBatch(ctx context.Context, items []UploadItem) []UploadResult
	UploadDirectory(ctx context.Context, path string, metadata map[string]string) UploadResult
}

// Record is one file-level report entry (error, warning or skip).
type Record struct {
	Path       string
	PropertyID string
	SchemaID   string
	Code       string
	Message    string
	Pointer    string
	Timestamp  time.Time
}

// Summary aggregates a finished run's report.
type Summary struct {
	Errors   int
	Warnings int
}

// ReportSink receives per-file failures and warnings. Finalize flushes the
// sink and must be called exactly once, even when the run aborts.
type ReportSink interface {
	LogError(rec Record)
	LogWarning(rec Record)
	Finalize() Summary
}

// Progress outcome kinds.
const (
	KindProcessed = "processed"
	KindErrored   = "errored"
	KindSkipped   = "skipped"
)

// Metrics is a point-in-time snapshot of progress counters.
type Metrics struct {
	Phase     string
	Total     int
	Processed int
	Errored   int
	Skipped   int
}

// Progress observes phase transitions and per-file outcomes. Purely
// observational; implementations must not affect control flow.
type Progress interface {
	SetPhase(name string, total int)
	Increment(kind string)
	Metrics() Metrics
}
