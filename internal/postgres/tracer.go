package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var queryObserver atomic.Pointer[queryObserverHolder]

// context keys for query metadata.
type ctxKey string

const (
	ctxKeySQL        ctxKey = "pgx.sql"
	ctxKeyStart      ctxKey = "pgx.start"
	ctxKeyCaller     ctxKey = "db.caller"
	ctxKeyHTTPMethod ctxKey = "http.method"
)

type queryObserverHolder struct{ QueryObserver }

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

// WithHTTPMethod stores the HTTP method in the context for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyHTTPMethod, method)
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyHTTPMethod).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// loggingTracer wraps another pgx.QueryTracer (e.g. otelpgx)
// and adds a structured log line for every query.
type loggingTracer struct {
	inner pgx.QueryTracer
}

// wrapQueryTracer wraps an inner tracer with structured logging.
func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	if inner == nil {
		return loggingTracer{}
	}
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	sql := data.SQL
	start := time.Now()

	// Resolve the store method issuing the query before pgx frames
	// bury it.
	caller := findStoreCaller()

	// Let inner tracer (otelpgx) create its span first.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	ctx = context.WithValue(ctx, ctxKeySQL, sql)
	ctx = context.WithValue(ctx, ctxKeyStart, start)
	if caller != "" {
		ctx = context.WithValue(ctx, ctxKeyCaller, caller)
	}

	if span := trace.SpanFromContext(ctx); span != nil && span.IsRecording() && caller != "" {
		span.SetAttributes(attribute.String("db.caller", caller))
	}

	return ctx
}

func (t loggingTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	// Always call inner tracer first so spans are finished correctly.
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	sql, _ := ctx.Value(ctxKeySQL).(string)
	start, _ := ctx.Value(ctxKeyStart).(time.Time)
	caller, _ := ctx.Value(ctxKeyCaller).(string)

	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}

	// Metrics hook runs for every query, logged or not.
	if obs := getQueryObserver(); obs != nil && dur > 0 {
		method := httpMethodFromContext(ctx)
		if method == "" {
			method = "UNKNOWN"
		}

		route := routePatternFromContext(ctx)
		if route == "" {
			route = "unknown"
		}

		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, method, route, outcome, dur)
	}

	L := log.FromContext(ctx)

	fields := []any{
		"db.statement", sql,
		"db.duration", dur.Seconds(),
	}

	tag := strings.TrimSpace(data.CommandTag.String())
	if tag != "" {
		parts := strings.Fields(tag)
		if len(parts) > 0 {
			fields = append(fields, "db.operation.name", strings.ToUpper(parts[0]))
		}
		if rows := data.CommandTag.RowsAffected(); rows >= 0 {
			fields = append(fields, "db.rows", rows)
		}
	}

	if caller != "" {
		fields = append(fields, "db.caller", caller)
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}

	L.Info(ctx, "db query", fields...)
}

// findStoreCaller walks the stack past pgx and tracer frames to the
// store function that issued the query.
func findStoreCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		if !more {
			break
		}

		fn := fr.Function
		if strings.HasPrefix(fn, "runtime.") ||
			strings.Contains(fn, "github.com/jackc/pgx/v5") ||
			strings.Contains(fn, "github.com/exaring/otelpgx") ||
			strings.Contains(fn, "loggingTracer.TraceQuery") {
			continue
		}
		return shortenFuncName(fn)
	}
	return ""
}

func shortenFuncName(fn string) string {
	// Trim package path.
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	// Trim module path, keep receiver + method.
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
