package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/severity"
	"github.com/soctower/soctower/internal/sla"
)

// Query is the inbound aggregation request.
type Query struct {
	// IntegrationIDs narrows the request to specific integrations; empty
	// means all enabled ones.
	IntegrationIDs []string `json:"integration_ids,omitempty"`

	FromMs int64 `json:"from_ms"`
	ToMs   int64 `json:"to_ms"`

	StatusFilter          string   `json:"status_filter,omitempty"`
	SeverityFilter        string   `json:"severity_filter,omitempty"`
	ExcludeNameSubstrings []string `json:"exclude_name_substrings,omitempty"`

	SortKey string `json:"sort_key,omitempty"` // timestamp, name, severity, metric
	SortDir string `json:"sort_dir,omitempty"` // asc, desc

	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Row is one incident in the unified result set.
type Row struct {
	ID               string                `json:"id"`
	Kind             incident.Kind         `json:"kind"`
	SourceVendor     incident.SourceVendor `json:"source_vendor"`
	Name             string                `json:"name"`
	Status           string                `json:"status"`
	TimestampMs      *int64                `json:"timestamp_ms"`
	IntegrationID    string                `json:"integration_id"`
	IntegrationName  string                `json:"integration_name"`
	SeverityTier     severity.Tier         `json:"severity_tier"`
	MetricMinutes    *float64              `json:"metric_minutes"`
	ThresholdMinutes int                   `json:"threshold_minutes"`
	Outcome          sla.Outcome           `json:"outcome"`
}

// Result is the aggregated, filtered, paginated response.
type Result struct {
	Rows     []Row       `json:"rows"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Summary  sla.Summary `json:"summary"`

	// StatusCounts and SeverityCounts describe the filtered set before
	// pagination.
	StatusCounts   map[string]int `json:"status_counts"`
	SeverityCounts map[string]int `json:"severity_counts"`

	// Warnings names integrations that degraded to an empty contribution.
	Warnings []string `json:"warnings,omitempty"`
}

// WindowFromRange maps a relative range token onto an absolute window ending
// now. "all" means an unbounded start.
func WindowFromRange(rangeToken string, now time.Time) (fromMs, toMs int64, err error) {
	toMs = now.UnixMilli()
	switch strings.ToLower(strings.TrimSpace(rangeToken)) {
	case "1h":
		fromMs = now.Add(-time.Hour).UnixMilli()
	case "24h", "":
		fromMs = now.Add(-24 * time.Hour).UnixMilli()
	case "7d":
		fromMs = now.AddDate(0, 0, -7).UnixMilli()
	case "30d":
		fromMs = now.AddDate(0, 0, -30).UnixMilli()
	case "90d":
		fromMs = now.AddDate(0, 0, -90).UnixMilli()
	case "all":
		fromMs = 0
	default:
		return 0, 0, fmt.Errorf("unknown time range %q", rangeToken)
	}
	return fromMs, toMs, nil
}

// matches applies the caller's filters to one row.
func (q Query) matches(row Row) bool {
	if q.StatusFilter != "" && !strings.EqualFold(row.Status, q.StatusFilter) {
		return false
	}
	if q.SeverityFilter != "" && !strings.EqualFold(string(row.SeverityTier), q.SeverityFilter) {
		return false
	}
	name := strings.ToLower(row.Name)
	for _, sub := range q.ExcludeNameSubstrings {
		if sub != "" && strings.Contains(name, strings.ToLower(sub)) {
			return false
		}
	}
	return true
}

// tierRank orders severities from most to least urgent.
var tierRank = map[severity.Tier]int{
	severity.TierCritical: 0,
	severity.TierHigh:     1,
	severity.TierMedium:   2,
	severity.TierLow:      3,
}

// sortRows orders the merged set. Rows without a sortable value sink to the
// end regardless of direction.
func sortRows(rows []Row, key, dir string) {
	desc := strings.EqualFold(dir, "desc")

	less := func(a, b Row) int {
		switch strings.ToLower(key) {
		case "name":
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case "severity":
			return tierRank[a.SeverityTier] - tierRank[b.SeverityTier]
		case "metric":
			switch {
			case a.MetricMinutes == nil && b.MetricMinutes == nil:
				return 0
			case a.MetricMinutes == nil:
				return 1
			case b.MetricMinutes == nil:
				return -1
			case *a.MetricMinutes < *b.MetricMinutes:
				return -1
			case *a.MetricMinutes > *b.MetricMinutes:
				return 1
			}
			return 0
		default: // timestamp
			switch {
			case a.TimestampMs == nil && b.TimestampMs == nil:
				return 0
			case a.TimestampMs == nil:
				return 1
			case b.TimestampMs == nil:
				return -1
			case *a.TimestampMs < *b.TimestampMs:
				return -1
			case *a.TimestampMs > *b.TimestampMs:
				return 1
			}
			return 0
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		c := less(rows[i], rows[j])
		if desc {
			// Missing values stay last even in descending order.
			missing := func(r Row) bool {
				switch strings.ToLower(key) {
				case "metric":
					return r.MetricMinutes == nil
				case "name", "severity":
					return false
				default:
					return r.TimestampMs == nil
				}
			}
			if missing(rows[i]) != missing(rows[j]) {
				return !missing(rows[i])
			}
			return c > 0
		}
		return c < 0
	})
}

// paginate slices one page out of the filtered set. Page numbers are
// one-based; out-of-range pages return an empty slice.
func paginate(rows []Row, page, pageSize int) []Row {
	if pageSize <= 0 || page <= 0 {
		return rows
	}
	start := (page - 1) * pageSize
	if start >= len(rows) {
		return []Row{}
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
