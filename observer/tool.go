package observer

import (
	"context"
	"time"

	"github.com/loomlabs/loom"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a loom.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner loom.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner loom.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

var _ loom.Tool = (*ObservedTool)(nil)

func (o *ObservedTool) Definitions() []loom.ToolDefinition {
	return o.inner.Definitions()
}

func (o *ObservedTool) Invoke(ctx context.Context, name string, input map[string]any) ([]loom.Message, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	out, err := o.inner.Invoke(ctx, name, input)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultCount.Int(len(out)),
	)

	o.inst.ToolInvokes.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool invoked"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_count", len(out)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return out, err
}
