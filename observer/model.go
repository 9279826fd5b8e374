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

// ObservedModel wraps a loom.Model with OTEL instrumentation.
type ObservedModel struct {
	inner loom.Model
	inst  *Instruments
}

// WrapModel returns an instrumented model that emits traces, metrics,
// and logs around every Stream call. Cost is looked up by the inner
// model's Name.
func WrapModel(inner loom.Model, inst *Instruments) *ObservedModel {
	return &ObservedModel{inner: inner, inst: inst}
}

var _ loom.Model = (*ObservedModel)(nil)

func (o *ObservedModel) Name() string { return o.inner.Name() }

func (o *ObservedModel) Stream(ctx context.Context, req loom.ChatRequest, ch chan<- loom.ChatResponse) error {
	ctx, span := o.inst.Tracer.Start(ctx, "model.stream", trace.WithAttributes(
		AttrModelName.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	// Proxy the channel to count chunks and capture the final usage.
	// The goroutine forwards chunks from proxy to the caller's ch, which
	// stays open: the Model contract leaves closing to the caller.
	// Buffer proxy generously so the inner model never blocks on send,
	// and keep draining after cancellation so it can finish flushing.
	bufSize := max(cap(ch), 64)
	proxy := make(chan loom.ChatResponse, bufSize)
	var (
		chunks  int
		usage   loom.Usage
		dropped bool
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range proxy {
			chunks++
			if chunk.Usage != (loom.Usage{}) {
				usage = chunk.Usage
			}
			if dropped {
				continue
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				dropped = true
			}
		}
	}()

	err := o.inner.Stream(ctx, req, proxy)
	close(proxy)
	<-done // wait for goroutine to finish before reading chunks and usage

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(AttrStreamChunks.Int(chunks))
	o.record(ctx, span, status, durationMs, usage)
	return err
}

func (o *ObservedModel) record(ctx context.Context, span trace.Span, status string, durationMs float64, usage loom.Usage) {
	model := o.inner.Name()
	cost := o.inst.Cost.Calculate(model, usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(AttrModelName.String(model))

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrModelName.String(model),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrModelName.String(model),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.ModelRequests.Add(ctx, 1, metric.WithAttributes(
		AttrModelName.String(model),
		attribute.String("status", status),
	))
	o.inst.ModelDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("model call completed"))
	rec.AddAttributes(
		otellog.String("model.name", model),
		otellog.Int("model.tokens.input", usage.InputTokens),
		otellog.Int("model.tokens.output", usage.OutputTokens),
		otellog.Float64("model.cost_usd", cost),
		otellog.Float64("model.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
