// Greenlight runs advertising orders through validation, AI-assisted
// risk assessment, and routed human approval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/greenlight/internal/approvalapi"
	"github.com/linnemanlabs/greenlight/internal/audit"
	auditmem "github.com/linnemanlabs/greenlight/internal/audit/memlog"
	auditpg "github.com/linnemanlabs/greenlight/internal/audit/pglog"
	gc "github.com/linnemanlabs/greenlight/internal/cfg"
	"github.com/linnemanlabs/greenlight/internal/directory"
	dirmem "github.com/linnemanlabs/greenlight/internal/directory/memstore"
	dirpg "github.com/linnemanlabs/greenlight/internal/directory/pgstore"
	"github.com/linnemanlabs/greenlight/internal/llm/claude"
	"github.com/linnemanlabs/greenlight/internal/notify"
	"github.com/linnemanlabs/greenlight/internal/notify/slack"
	"github.com/linnemanlabs/greenlight/internal/order"
	ordermem "github.com/linnemanlabs/greenlight/internal/order/memstore"
	orderpg "github.com/linnemanlabs/greenlight/internal/order/pgstore"
	"github.com/linnemanlabs/greenlight/internal/postgres"
	"github.com/linnemanlabs/greenlight/internal/risk"
	"github.com/linnemanlabs/greenlight/internal/routing"
	"github.com/linnemanlabs/greenlight/internal/validate"
	"github.com/linnemanlabs/greenlight/internal/workflow"
)

const appName = "greenlight"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    gc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix GREENLIGHT_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "GREENLIGHT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Initialize the stores. One pool is shared across all of them.
	var (
		orderStore order.Store
		dirStore   directory.Store
		auditLog   audit.Log
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()

		pgOrders, err := orderpg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("order store init: %w", err)
		}
		pgDir, err := dirpg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("directory store init: %w", err)
		}
		pgAudit, err := auditpg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("audit log init: %w", err)
		}
		orderStore, dirStore, auditLog = pgOrders, pgDir, pgAudit
		L.Info(ctx, "using postgres stores")
	} else {
		orderStore, dirStore, auditLog = ordermem.New(), dirmem.New(), auditmem.New()
		L.Info(ctx, "using in-memory stores (no database-url configured)")
	}

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greenlight_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Channel directory with periodic refresh. A failed refresh keeps
	// the previous snapshot.
	channels, err := directory.NewRegistry(ctx, dirStore, L)
	if err != nil {
		return fmt.Errorf("channel directory init: %w", err)
	}
	go channels.Run(ctx, time.Duration(appCfg.DirectoryRefreshSeconds)*time.Second)

	// Fail fast when an operator-declared channel is missing from the
	// directory instead of discovering it on the first matching order.
	if required := parseRequiredChannels(appCfg.RequiredChannels); len(required) > 0 {
		if err := channels.Check(required); err != nil {
			return fmt.Errorf("channel directory check: %w", err)
		}
		L.Info(ctx, "channel directory check passed", "required", len(required))
	}

	// Claude summarizer is optional: without it the assessor runs
	// deterministic local checks only and marks assessments degraded.
	var summarizer risk.Summarizer
	if appCfg.ClaudeAPIKey != "" {
		summarizer = claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
		L.Info(ctx, "initialized LLM summarizer", "provider", "claude", "model", appCfg.ClaudeModel)
	} else {
		L.Warn(ctx, "no claude-api-key configured, risk assessment is local-only")
	}

	assessor := risk.New(summarizer, orderStore,
		time.Duration(appCfg.SummarizerTimeoutSeconds)*time.Second, L)

	// Initialize workflow metrics on the shared Prometheus registry.
	wfMetrics := workflow.NewMetrics(m.Registry())

	// Slack dispatcher for approval requests; falls back to a log-only
	// dispatcher in dev setups without a webhook.
	var (
		dispatcher workflow.Dispatcher
		escalator  workflow.Escalator
	)
	if appCfg.SlackWebhookURL != "" {
		sd := slack.New(appCfg.SlackWebhookURL, L)
		dispatcher = sd
		if appCfg.OpsDestination != "" {
			escalator = sd.EscalateTo(appCfg.OpsDestination)
		}
		L.Info(ctx, "dispatcher enabled", "type", "slack")
	} else {
		dispatcher = logDispatcher{logger: L}
		L.Warn(ctx, "no slack-webhook-url configured, approval requests are logged only")
	}

	recorder := audit.NewRecorder(auditLog, escalator, L)

	engine := workflow.NewEngine(workflow.Config{
		Store:     orderStore,
		Validator: validate.New(orderStore),
		Assessor:  assessor,
		Policy:    routing.DefaultPolicy(appCfg.HighValueThreshold),
		RouteCtx: &routing.Context{
			Channels:              channels,
			Approvers:             directory.NewResolver(dirStore),
			DefaultDestination:    appCfg.DefaultDestination,
			EscalationDestination: appCfg.EscalationDestination,
		},
		Dispatcher:   dispatcher,
		Recorder:     recorder,
		Escalator:    escalator,
		Logger:       L,
		Hooks:        wfMetrics.Hooks(),
		RetryElapsed: time.Duration(appCfg.RetrySeconds) * time.Second,
		DispatchMax:  uint(appCfg.DispatchMaxAttempts),
	})

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // 64KB is plenty for decision events

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes
	approvalHTTP := approvalapi.New(L, engine, orderStore, auditLog)
	approvalHTTP.RegisterRoutes(r)

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start approval API HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start approval api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop approval api http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"approval api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// parseRequiredChannels parses "channel_type:vertical" pairs. Entries
// without a vertical are ignored.
func parseRequiredChannels(s string) []directory.Pair {
	var pairs []directory.Pair
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ct, vertical, ok := strings.Cut(part, ":")
		if !ok || ct == "" || vertical == "" {
			continue
		}
		pairs = append(pairs, directory.Pair{ChannelType: ct, Vertical: vertical})
	}
	return pairs
}

// logDispatcher stands in for Slack when no webhook is configured.
type logDispatcher struct {
	logger log.Logger
}

func (d logDispatcher) Dispatch(ctx context.Context, destination string, msg *notify.Message) error {
	d.logger.Info(ctx, "approval request (log-only dispatch)",
		"destination", destination,
		"order_id", msg.OrderID,
		"risk_level", msg.RiskLevel,
		"recommendation", msg.Recommendation,
	)
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
