package loom

import "context"

// Tracer starts spans around model calls, tool invocations, and memory
// compaction. Implementations adapt whatever backend the host process
// uses; the zero default is a no-op.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span is one traced operation.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	Event(name string, attrs ...SpanAttr)
	Error(err error)
	End()
}

// SpanAttr is a key/value attribute attached to a span.
type SpanAttr struct {
	Key   string
	Value any
}

func StringAttr(key, value string) SpanAttr { return SpanAttr{Key: key, Value: value} }

func IntAttr(key string, value int) SpanAttr { return SpanAttr{Key: key, Value: value} }

func BoolAttr(key string, value bool) SpanAttr { return SpanAttr{Key: key, Value: value} }

func Float64Attr(key string, value float64) SpanAttr { return SpanAttr{Key: key, Value: value} }

type nopTracer struct{}

func (nopTracer) Start(ctx context.Context, _ string, _ ...SpanAttr) (context.Context, Span) {
	return ctx, nopSpan{}
}

type nopSpan struct{}

func (nopSpan) SetAttr(...SpanAttr)       {}
func (nopSpan) Event(string, ...SpanAttr) {}
func (nopSpan) Error(error)               {}
func (nopSpan) End()                      {}
