package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/agentsh/linkguard/internal/metrics"
	"github.com/agentsh/linkguard/internal/observability"
	"github.com/agentsh/linkguard/internal/scan"
	"github.com/agentsh/linkguard/internal/threatfeed"
	"github.com/agentsh/linkguard/pkg/ratelimit"
)

// maxRequestSize bounds JSON request bodies.
const maxRequestSize = 4 << 20

// Updater runs one synchronization round. *threatfeed.Synchronizer implements it.
type Updater interface {
	Update(ctx context.Context) error
}

// Lister reports the current threat lists. *threatfeed.Store implements it.
type Lister interface {
	Snapshot() []threatfeed.ListState
}

type App struct {
	checker scan.URLChecker
	scanner *scan.Scanner
	updater Updater
	lists   Lister
	metrics *metrics.Collector
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

type Options struct {
	Checker scan.URLChecker
	Scanner *scan.Scanner
	Updater Updater
	Lists   Lister
	Metrics *metrics.Collector
	// Limiter bounds /api/v1 requests; nil disables limiting.
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
}

func NewApp(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		checker: opts.Checker,
		scanner: opts.Scanner,
		updater: opts.Updater,
		lists:   opts.Lists,
		metrics: opts.Metrics,
		limiter: opts.Limiter,
		logger:  logger,
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(a.instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ratelimit.Middleware(a.limiter))
		r.Post("/check", a.checkURLs)
		r.Post("/scan", a.scanText)
		r.Post("/update", a.update)
		r.Get("/lists", a.listLists)
	})

	return r
}

type requestIDKey struct{}

// RequestIDHeader carries the request ID in requests and responses.
const RequestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFrom returns the request ID stored on ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := observability.HTTPSpan(r.Context(), r.Method, r.URL.Path)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.RecordStatus(span, status)
		a.metrics.IncHTTPRequest(route, status)
		a.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"request_id", RequestIDFrom(r.Context()),
			"trace_id", observability.ExtractTraceID(ctx),
		)
	})
}

type matchJSON struct {
	URL        string `json:"url"`
	ThreatType string `json:"threat_type"`
	FullHash   string `json:"full_hash"`
}

func toMatchJSON(matches []threatfeed.URLMatch) []matchJSON {
	out := make([]matchJSON, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchJSON{
			URL:        m.URL,
			ThreatType: string(m.Match.ThreatType),
			FullHash:   m.Match.FullHash.String(),
		})
	}
	return out
}

func (a *App) checkURLs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs []string `json:"urls"`
	}
	if !decodeJSON(w, r, &req, "") {
		return
	}
	if len(req.URLs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "urls is required"})
		return
	}
	matches, err := a.checker.CheckURLs(r.Context(), req.URLs)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": toMatchJSON(matches)})
}

func (a *App) scanText(w http.ResponseWriter, r *http.Request) {
	if a.scanner == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "scanning not enabled"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req, "") {
		return
	}
	res, err := a.scanner.Scan(r.Context(), req.Text)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	urls := res.URLs
	if urls == nil {
		urls = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls, "matches": toMatchJSON(res.Matches)})
}

type listJSON struct {
	ThreatType     string     `json:"threat_type"`
	Prefixes       int        `json:"prefixes"`
	ClientStateSet bool       `json:"client_state_set"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

func (a *App) listJSON() []listJSON {
	states := a.lists.Snapshot()
	out := make([]listJSON, 0, len(states))
	for _, s := range states {
		l := listJSON{
			ThreatType:     string(s.ThreatType),
			Prefixes:       len(s.Prefixes),
			ClientStateSet: s.ClientState != "",
		}
		if !s.UpdatedAt.IsZero() {
			at := s.UpdatedAt
			l.UpdatedAt = &at
		}
		out = append(out, l)
	}
	return out
}

func (a *App) listLists(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lists": a.listJSON()})
}

func (a *App) update(w http.ResponseWriter, r *http.Request) {
	err := a.updater.Update(r.Context())
	var partial *threatfeed.PartialListFailure
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"lists": a.listJSON()})
	case errors.As(err, &partial):
		failures := make(map[string]string, len(partial.Failures))
		for t, ferr := range partial.Failures {
			failures[string(t)] = ferr.Error()
		}
		a.logger.Warn("threat list update partially failed", "error", err, "request_id", RequestIDFrom(r.Context()))
		writeJSON(w, http.StatusMultiStatus, map[string]any{"lists": a.listJSON(), "failures": failures})
	default:
		a.writeServiceError(w, r, err)
	}
}

func (a *App) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var netErr *threatfeed.NetworkError
	var decErr *threatfeed.DecodeError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &netErr), errors.As(err, &decErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	a.logger.Error("threat service request failed", "error", err, "status", status, "request_id", RequestIDFrom(r.Context()))
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
