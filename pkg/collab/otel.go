package collab

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelProgress mirrors progress observations to OpenTelemetry counters
// while keeping a readable in-memory snapshot. It consumes the globally
// registered meter; exporter wiring belongs to the embedding application.
type OTelProgress struct {
	inner   *MemoryProgress
	files   metric.Int64Counter
	phases  metric.Int64Counter
	enabled bool
}

func NewOTelProgress() *OTelProgress {
	p := &OTelProgress{inner: NewMemoryProgress()}

	meter := otel.Meter("github.com/parcelworks/canopy/pkg/collab")
	var err error
	p.files, err = meter.Int64Counter("canopy.pipeline.files",
		metric.WithDescription("Per-file pipeline outcomes by kind"))
	if err != nil {
		slog.Warn("otel progress: counter init failed, metrics disabled", "error", err)
		return p
	}
	p.phases, err = meter.Int64Counter("canopy.pipeline.phases",
		metric.WithDescription("Pipeline phase transitions"))
	if err != nil {
		slog.Warn("otel progress: counter init failed, metrics disabled", "error", err)
		return p
	}
	p.enabled = true
	return p
}

func (p *OTelProgress) SetPhase(name string, total int) {
	p.inner.SetPhase(name, total)
	if p.enabled {
		p.phases.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("phase", name)))
	}
}

func (p *OTelProgress) Increment(kind string) {
	p.inner.Increment(kind)
	if p.enabled {
		p.files.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (p *OTelProgress) Metrics() Metrics {
	return p.inner.Metrics()
}
