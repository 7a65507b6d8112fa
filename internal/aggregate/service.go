// Package aggregate orchestrates the per-vendor fetch, normalization, SLA
// evaluation, and merge into one unified incident result set.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/soctower/soctower/internal/config"
	"github.com/soctower/soctower/internal/eventcache"
	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/observability"
	"github.com/soctower/soctower/internal/sla"
	"github.com/soctower/soctower/internal/sources"
	"github.com/soctower/soctower/internal/vendors"
)

// ErrNotFound marks a lookup id that matches no known record shape.
var ErrNotFound = errors.New("incident not found")

// ErrUnknownIntegration marks a request naming an integration id that is not
// configured.
var ErrUnknownIntegration = errors.New("unknown integration")

// Integration pairs one configured integration with its vendor client.
type Integration struct {
	Config config.IntegrationConfig
	Client vendors.Client
}

// Service is the aggregation endpoint logic. It is request-scoped and
// stateless between invocations; the event cache is the only shared mutable
// resource it touches.
type Service struct {
	integrations []Integration
	aggCfg       config.AggregationConfig
	listCache    *ListCache
	events       *eventcache.Cache
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// New builds the aggregation service.
func New(integrations []Integration, aggCfg config.AggregationConfig, listCache *ListCache, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if aggCfg.VendorTimeout <= 0 {
		aggCfg.VendorTimeout = 20 * time.Second
	}
	if aggCfg.DefaultPageSize <= 0 {
		aggCfg.DefaultPageSize = 25
	}
	if aggCfg.MaxPageSize <= 0 {
		aggCfg.MaxPageSize = 200
	}
	return &Service{
		integrations: integrations,
		aggCfg:       aggCfg,
		listCache:    listCache,
		logger:       logger,
		metrics:      metrics,
	}
}

// AttachEventCache wires the drill-down event cache. The cache resolves
// parents through this service, so it is attached after construction.
func (s *Service) AttachEventCache(cache *eventcache.Cache) {
	s.events = cache
}

// builtRow keeps the normalized incident next to its outbound row so the
// single-item lookup can serve full detail. It is the unit stored in the
// per-integration list cache.
type builtRow struct {
	Row      Row                  `json:"row"`
	Incident *incident.Normalized `json:"incident"`
}

// Aggregate fetches from every selected integration concurrently, merges the
// normalized results, and applies filters, sort, and pagination. A failed or
// timed-out vendor degrades to an empty contribution with a warning; the
// request itself only fails on cancellation.
func (s *Service) Aggregate(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	selected := s.selectIntegrations(q.IntegrationIDs)
	window := vendors.TimeRange{FromMs: q.FromMs, ToMs: q.ToMs}

	type fetchOutcome struct {
		idx  int
		rows []builtRow
		err  error
	}
	outcomes := make(chan fetchOutcome, len(selected))
	for i, integ := range selected {
		go func(idx int, integ Integration) {
			rows, err := s.fetchIntegration(ctx, integ, window)
			outcomes <- fetchOutcome{idx: idx, rows: rows, err: err}
		}(i, integ)
	}

	perIntegration := make([][]builtRow, len(selected))
	var warnings []string
	for range selected {
		outcome := <-outcomes
		integ := selected[outcome.idx]
		switch {
		case outcome.err == nil:
			perIntegration[outcome.idx] = outcome.rows
		case errors.Is(outcome.err, vendors.ErrMissingCredentials):
			s.logger.Info("skipping integration without credentials",
				zap.String("integration", integ.Config.ID))
			warnings = append(warnings, fmt.Sprintf("%s: credentials not configured", integ.Config.ID))
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("vendor fetch failed, degrading to empty result",
				zap.String("integration", integ.Config.ID),
				zap.String("vendor", string(integ.Config.Source)),
				zap.Error(outcome.err))
			warnings = append(warnings, fmt.Sprintf("%s: vendor unavailable", integ.Config.ID))
		}
	}

	// Merge in configuration order so responses are deterministic before
	// the caller's sort is applied.
	var merged []Row
	for _, rows := range perIntegration {
		for _, br := range rows {
			merged = append(merged, br.Row)
		}
	}

	var filtered []Row
	for _, row := range merged {
		if q.matches(row) {
			filtered = append(filtered, row)
		}
	}
	sortRows(filtered, q.SortKey, q.SortDir)

	outcomesByRow := make([]sla.Outcome, len(filtered))
	statusCounts := make(map[string]int)
	severityCounts := make(map[string]int)
	for i, row := range filtered {
		outcomesByRow[i] = row.Outcome
		statusCounts[row.Status]++
		severityCounts[string(row.SeverityTier)]++
	}

	// A negative page size disables pagination (used by exports).
	pageSize := q.PageSize
	if pageSize == 0 {
		pageSize = s.aggCfg.DefaultPageSize
	}
	if pageSize > s.aggCfg.MaxPageSize {
		pageSize = s.aggCfg.MaxPageSize
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	pageRows := paginate(filtered, page, pageSize)
	if pageSize < 0 {
		pageRows = filtered
		pageSize = len(filtered)
	}

	result := &Result{
		Rows:           pageRows,
		Total:          len(filtered),
		Page:           page,
		PageSize:       pageSize,
		Summary:        sla.Summarize(outcomesByRow),
		StatusCounts:   statusCounts,
		SeverityCounts: severityCounts,
		Warnings:       warnings,
	}

	if s.metrics != nil {
		status := "ok"
		if len(warnings) > 0 {
			status = "degraded"
		}
		s.metrics.AggregationRequests.WithLabelValues(status).Inc()
		s.metrics.AggregationDuration.Observe(time.Since(start).Seconds())
		s.metrics.IncidentsReturned.Observe(float64(len(filtered)))
	}
	return result, nil
}

// Detail is the single-incident lookup response.
type Detail struct {
	Row      Row                  `json:"row"`
	Incident *incident.Normalized `json:"incident"`
}

// Lookup resolves one incident id against the known record shapes in
// integration configuration order, preferring the case shape over the alert
// shape within each integration. Ordering by integration first keeps the
// primary platform's alert from being shadowed by a later vendor's case with
// the same id.
func (s *Service) Lookup(ctx context.Context, id string) (*Detail, error) {
	window := vendors.TimeRange{FromMs: 0, ToMs: time.Now().UnixMilli()}

	var all [][]builtRow
	for _, integ := range s.integrations {
		rows, err := s.fetchIntegration(ctx, integ, window)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("lookup fetch failed",
				zap.String("integration", integ.Config.ID),
				zap.Error(err))
			continue
		}
		all = append(all, rows)
	}

	for _, rows := range all {
		for _, kind := range []incident.Kind{incident.KindTicket, incident.KindAlert} {
			for _, br := range rows {
				if br.Row.Kind == kind && br.Row.ID == id {
					return &Detail{Row: br.Row, Incident: br.Incident}, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ParentExists implements eventcache.ParentResolver.
func (s *Service) ParentExists(ctx context.Context, parentID string) (bool, error) {
	_, err := s.Lookup(ctx, parentID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RelatedEvents serves the drill-down events for one incident through the
// event cache. With force set, the cache is refreshed from the vendor even
// when warm.
func (s *Service) RelatedEvents(ctx context.Context, integrationID, parentID string, force bool) ([]eventcache.VendorEvent, error) {
	integ, ok := s.integration(integrationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntegration, integrationID)
	}
	creds := vendors.Credentials{APIKey: integ.Config.APIKey()}
	if creds.APIKey == "" {
		return nil, vendors.ErrMissingCredentials
	}

	fetched := false
	fetch := func(fctx context.Context) ([]eventcache.VendorEvent, error) {
		fetched = true
		cctx, cancel := context.WithTimeout(fctx, s.timeoutFor(integ))
		defer cancel()
		return integ.Client.FetchRelatedEvents(cctx, creds, parentID)
	}

	if s.events == nil {
		return fetch(ctx)
	}
	if force {
		events, err := s.events.Refresh(ctx, parentID, fetch)
		if s.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			s.metrics.EventCacheRefreshes.WithLabelValues(status).Inc()
		}
		return events, err
	}
	events, err := s.events.Events(ctx, parentID, fetch)
	if s.metrics != nil && err == nil {
		outcome := "hit"
		if fetched {
			outcome = "miss"
		}
		s.metrics.EventCacheReads.WithLabelValues(outcome).Inc()
	}
	return events, err
}

// fetchIntegration pulls one integration's records, normalizes them in the
// vendor's native order, and evaluates each row's SLA verdict.
func (s *Service) fetchIntegration(ctx context.Context, integ Integration, window vendors.TimeRange) ([]builtRow, error) {
	if cached, ok := s.listCache.Get(ctx, integ.Config.ID, window); ok {
		return cached, nil
	}

	creds := vendors.Credentials{APIKey: integ.Config.APIKey()}
	if creds.APIKey == "" {
		return nil, vendors.ErrMissingCredentials
	}

	adapter, ok := sources.AdapterFor(integ.Config.Source)
	if !ok {
		return nil, fmt.Errorf("no adapter for vendor %q", integ.Config.Source)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeoutFor(integ))
	defer cancel()

	fetchStart := time.Now()
	records, err := integ.Client.FetchIncidents(cctx, creds, window)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.VendorFetches.WithLabelValues(string(integ.Config.Source), status).Inc()
		s.metrics.VendorFetchSeconds.WithLabelValues(string(integ.Config.Source)).
			Observe(time.Since(fetchStart).Seconds())
	}
	if err != nil {
		return nil, err
	}

	rows := make([]builtRow, 0, len(records))
	for _, rec := range records {
		n, err := adapter.Normalize(rec)
		if err != nil {
			s.logger.Warn("skipping unnormalizable record",
				zap.String("integration", integ.Config.ID),
				zap.Error(err))
			continue
		}

		var metric *float64
		if n.Kind == incident.KindTicket {
			metric = adapter.ResolutionMinutes(rec)
		} else {
			metric = adapter.DetectionMinutes(rec)
		}
		verdict := sla.Evaluate(metric, n.SeverityTier)

		rows = append(rows, builtRow{
			Row: Row{
				ID:               n.ID,
				Kind:             n.Kind,
				SourceVendor:     n.SourceVendor,
				Name:             n.Name,
				Status:           n.Status,
				TimestampMs:      n.CreatedAtMs,
				IntegrationID:    integ.Config.ID,
				IntegrationName:  integ.Config.Name,
				SeverityTier:     n.SeverityTier,
				MetricMinutes:    verdict.MetricMinutes,
				ThresholdMinutes: verdict.ThresholdMinutes,
				Outcome:          verdict.Outcome,
			},
			Incident: n,
		})
	}

	s.listCache.Set(ctx, integ.Config.ID, window, rows)
	return rows, nil
}

func (s *Service) selectIntegrations(ids []string) []Integration {
	if len(ids) == 0 {
		return s.integrations
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var selected []Integration
	for _, integ := range s.integrations {
		if wanted[integ.Config.ID] {
			selected = append(selected, integ)
		}
	}
	return selected
}

func (s *Service) integration(id string) (Integration, bool) {
	for _, integ := range s.integrations {
		if integ.Config.ID == id {
			return integ, true
		}
	}
	return Integration{}, false
}

func (s *Service) timeoutFor(integ Integration) time.Duration {
	if integ.Config.Timeout > 0 {
		return integ.Config.Timeout
	}
	return s.aggCfg.VendorTimeout
}
