package collab

import (
	"log/slog"
	"sync"
)

// LogSink reports file-level failures through structured logging.
type LogSink struct {
	mu       sync.Mutex
	logger   *slog.Logger
	errors   int
	warnings int
}

func NewLogSink() *LogSink {
	return &LogSink{logger: slog.Default().With("component", "report")}
}

func (s *LogSink) LogError(rec Record) {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
	s.logger.Error("file failed",
		"code", rec.Code,
		"path", rec.Path,
		"property_id", rec.PropertyID,
		"schema_id", rec.SchemaID,
		"pointer", rec.Pointer,
		"message", rec.Message,
	)
}

func (s *LogSink) LogWarning(rec Record) {
	s.mu.Lock()
	s.warnings++
	s.mu.Unlock()
	s.logger.Warn("file warning",
		"code", rec.Code,
		"path", rec.Path,
		"message", rec.Message,
	)
}

func (s *LogSink) Finalize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("report finalized", "errors", s.errors, "warnings", s.warnings)
	return Summary{Errors: s.errors, Warnings: s.warnings}
}
