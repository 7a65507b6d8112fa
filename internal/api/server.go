// Package api exposes the aggregation service over HTTP.
package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/soctower/soctower/internal/aggregate"
	"github.com/soctower/soctower/internal/eventcache"
	"github.com/soctower/soctower/internal/observability"
	"github.com/soctower/soctower/internal/vendors"
)

// Server routes dashboard requests to the aggregation service.
type Server struct {
	service *aggregate.Service
	tel     *observability.Telemetry
	logger  *zap.Logger
	limiter *RateLimiter
}

// NewServer builds the HTTP layer. The rate limiter is optional.
func NewServer(service *aggregate.Service, tel *observability.Telemetry, limiter *RateLimiter) *Server {
	return &Server{
		service: service,
		tel:     tel,
		logger:  tel.Logger().Named("api"),
		limiter: limiter,
	}
}

// Router assembles the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.tel.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sla", s.handleSLA)
		r.Get("/sla/export", s.handleSLAExport)
		r.Route("/incidents/{id}", func(r chi.Router) {
			r.Get("/", s.handleIncident)
			r.Get("/events", s.handleEvents)
			r.Post("/events/refresh", s.handleEventsRefresh)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSLA(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.service.Aggregate(r.Context(), q)
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "aggregation failed")
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleSLAExport streams the full filtered result set as CSV, ignoring
// pagination.
func (s *Server) handleSLAExport(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.Page = 1
	q.PageSize = -1 // exports always cover the full filtered set

	result, err := s.service.Aggregate(r.Context(), q)
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "aggregation failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sla-report.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"id", "kind", "source_vendor", "integration", "name", "status",
		"severity", "timestamp_ms", "metric_minutes", "threshold_minutes", "outcome",
	})
	for _, row := range result.Rows {
		ts, metric := "", ""
		if row.TimestampMs != nil {
			ts = strconv.FormatInt(*row.TimestampMs, 10)
		}
		if row.MetricMinutes != nil {
			metric = strconv.FormatFloat(*row.MetricMinutes, 'f', -1, 64)
		}
		_ = cw.Write([]string{
			row.ID, string(row.Kind), string(row.SourceVendor), row.IntegrationName,
			row.Name, row.Status, string(row.SeverityTier),
			ts, metric, strconv.Itoa(row.ThresholdMinutes), string(row.Outcome),
		})
	}
	cw.Flush()
}

func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.service.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, aggregate.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "incident not found")
			return
		}
		s.respondError(w, http.StatusServiceUnavailable, "lookup failed")
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.serveEvents(w, r, false)
}

func (s *Server) handleEventsRefresh(w http.ResponseWriter, r *http.Request) {
	s.serveEvents(w, r, true)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request, force bool) {
	id := chi.URLParam(r, "id")
	integrationID := r.URL.Query().Get("integration_id")
	if integrationID == "" {
		s.respondError(w, http.StatusBadRequest, "integration_id is required")
		return
	}

	events, err := s.service.RelatedEvents(r.Context(), integrationID, id, force)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
	case errors.Is(err, aggregate.ErrUnknownIntegration):
		s.respondError(w, http.StatusNotFound, "unknown integration")
	case errors.Is(err, aggregate.ErrNotFound) || errors.Is(err, eventcache.ErrUnknownParent):
		s.respondError(w, http.StatusNotFound, "incident not found")
	case errors.Is(err, vendors.ErrMissingCredentials):
		s.respondError(w, http.StatusBadRequest, "integration credentials not configured")
	default:
		s.logger.Warn("event fetch failed", zap.String("incident", id), zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "event fetch failed")
	}
}

// parseQuery maps URL parameters onto the aggregation query. Either a
// relative range token or explicit from/to bounds select the window.
func parseQuery(r *http.Request) (aggregate.Query, error) {
	values := r.URL.Query()
	var q aggregate.Query

	if fromStr, toStr := values.Get("from_ms"), values.Get("to_ms"); fromStr != "" || toStr != "" {
		from, err := strconv.ParseInt(fromStr, 10, 64)
		if err != nil {
			return q, fmt.Errorf("invalid from_ms %q", fromStr)
		}
		to, err := strconv.ParseInt(toStr, 10, 64)
		if err != nil {
			return q, fmt.Errorf("invalid to_ms %q", toStr)
		}
		q.FromMs, q.ToMs = from, to
	} else {
		from, to, err := aggregate.WindowFromRange(values.Get("range"), time.Now())
		if err != nil {
			return q, err
		}
		q.FromMs, q.ToMs = from, to
	}

	q.IntegrationIDs = splitParam(values.Get("integration_ids"))
	q.StatusFilter = values.Get("status")
	q.SeverityFilter = values.Get("severity")
	q.ExcludeNameSubstrings = splitParam(values.Get("exclude"))
	q.SortKey = values.Get("sort")
	q.SortDir = values.Get("dir")

	if pageStr := values.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			return q, fmt.Errorf("invalid page %q", pageStr)
		}
		q.Page = page
	}
	if sizeStr := values.Get("page_size"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil || size < 1 {
			return q, fmt.Errorf("invalid page_size %q", sizeStr)
		}
		q.PageSize = size
	}
	return q, nil
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// requestLogger emits one structured log line per request and feeds the HTTP
// metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(start)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))

		if m := s.tel.Metrics(); m != nil {
			m.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
			m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
