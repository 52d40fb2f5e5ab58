package collab

import (
	"context"
	"fmt"
	"sync"

	"github.com/parcelworks/canopy/pkg/cidlink"
)

// MemoryFetcher serves content from an in-memory map, keyed by identifier.
type MemoryFetcher struct {
	mu      sync.RWMutex
	content map[string][]byte
}

func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{content: make(map[string][]byte)}
}

// Put registers content under an identifier.
func (f *MemoryFetcher) Put(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[id] = data
}

func (f *MemoryFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.content[id]
	if !ok {
		return nil, fmt.Errorf("content not found: %s", id)
	}
	return data, nil
}

// MemoryUploader computes legacy v0 identifiers for uploaded bytes and
// retains the blobs for inspection.
type MemoryUploader struct {
	mu    sync.Mutex
	blobs map[string][]byte
	// FailAll forces every upload to fail, for error-path tests.
	FailAll bool
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{blobs: make(map[string][]byte)}
}

func (u *MemoryUploader) UploadBatch(ctx context.Context, items []UploadItem) []UploadResult {
	results := make([]UploadResult, len(items))
	for i, item := range items {
		if u.FailAll {
			results[i] = UploadResult{Err: fmt.Errorf("upload rejected")}
			continue
		}
		id, err := cidlink.FromBytes(item.Data, cidlink.Options{Version: 0})
		if err != nil {
			results[i] = UploadResult{Err: err}
			continue
		}
		u.mu.Lock()
		u.blobs[id.String()] = item.Data
		u.mu.Unlock()
		results[i] = UploadResult{Success: true, ID: id.String()}
	}
	return results
}

func (u *MemoryUploader) UploadDirectory(ctx context.Context, path string, metadata map[string]string) UploadResult {
	if u.FailAll {
		return UploadResult{Err: fmt.Errorf("upload rejected")}
	}
	id, err := cidlink.FromBytes([]byte(path), cidlink.Options{Version: 0})
	if err != nil {
		return UploadResult{Err: err}
	}
	return UploadResult{Success: true, ID: id.String()}
}

// Blob returns an uploaded blob by identifier.
func (u *MemoryUploader) Blob(id string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.blobs[id]
	return b, ok
}

// Count returns how many distinct blobs were uploaded.
func (u *MemoryUploader) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.blobs)
}

// MemorySink collects report records in memory.
type MemorySink struct {
	mu       sync.Mutex
	errors   []Record
	warnings []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) LogError(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, rec)
}

func (s *MemorySink) LogWarning(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, rec)
}

func (s *MemorySink) Finalize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{Errors: len(s.errors), Warnings: len(s.warnings)}
}

// Errors returns a copy of the collected error records.
func (s *MemorySink) Errors() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.errors...)
}

// Warnings returns a copy of the collected warning records.
func (s *MemorySink) Warnings() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.warnings...)
}

// MemoryProgress tracks counters under a mutex.
type MemoryProgress struct {
	mu      sync.Mutex
	metrics Metrics
}

func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{}
}

func (p *MemoryProgress) SetPhase(name string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.Phase = name
	p.metrics.Total = total
}

func (p *MemoryProgress) Increment(kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch kind {
	case KindProcessed:
		p.metrics.Processed++
	case KindErrored:
		p.metrics.Errored++
	case KindSkipped:
		p.metrics.Skipped++
	}
}

func (p *MemoryProgress) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// NoopProgress discards all observations.
type NoopProgress struct{}

func (NoopProgress) SetPhase(string, int) {}
func (NoopProgress) Increment(string)     {}
func (NoopProgress) Metrics() Metrics     { return Metrics{} }
