package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/kalam"

// Attribute keys shared by spans and log records.
const (
	AttrSessionID = attribute.Key("kalam.session_id")
	AttrScenario  = attribute.Key("kalam.scenario")
	AttrLine      = attribute.Key("kalam.line")
)

type sessionKey struct{}

// sessionInfo is the practice session a context belongs to.
type sessionInfo struct {
	id       string
	scenario string
}

// Tracer returns the Kalam tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// WithSession tags ctx with a practice session id. Spans started by
// [StartSpan] and loggers from [Logger] carry the id from then on.
func WithSession(ctx context.Context, id string) context.Context {
	info := sessionFrom(ctx)
	info.id = id
	return context.WithValue(ctx, sessionKey{}, info)
}

// WithScenario records the scenario slug a session is practicing.
func WithScenario(ctx context.Context, slug string) context.Context {
	info := sessionFrom(ctx)
	info.scenario = slug
	return context.WithValue(ctx, sessionKey{}, info)
}

// SessionID returns the id set by [WithSession], or "".
func SessionID(ctx context.Context) string {
	return sessionFrom(ctx).id
}

func sessionFrom(ctx context.Context) sessionInfo {
	info, _ := ctx.Value(sessionKey{}).(sessionInfo)
	return info
}

func (s sessionInfo) attributes() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if s.id != "" {
		kv = append(kv, AttrSessionID.String(s.id))
	}
	if s.scenario != "" {
		kv = append(kv, AttrScenario.String(s.scenario))
	}
	return kv
}

// StartSpan starts a span named name. Session attributes found on ctx are
// added to it. The caller ends the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if kv := sessionFrom(ctx).attributes(); len(kv) > 0 {
		opts = append(opts, trace.WithAttributes(kv...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// It is echoed to clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with trace and session fields from ctx.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	info := sessionFrom(ctx)
	if info.id != "" {
		args = append(args, slog.String("session_id", info.id))
	}
	if info.scenario != "" {
		args = append(args, slog.String("scenario", info.scenario))
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
