package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/soctower/soctower/internal/config"
	"github.com/soctower/soctower/internal/eventcache"
	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/observability"
	"github.com/soctower/soctower/internal/sla"
	"github.com/soctower/soctower/internal/sources"
	"github.com/soctower/soctower/internal/vendors"
)

const baseMs = int64(1_700_000_000_000)

type fakeClient struct {
	vendor  incident.SourceVendor
	records []sources.RawRecord
	events  []eventcache.VendorEvent
	err     error
}

func (f *fakeClient) Vendor() incident.SourceVendor { return f.vendor }

func (f *fakeClient) FetchIncidents(ctx context.Context, creds vendors.Credentials, window vendors.TimeRange) ([]sources.RawRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeClient) FetchRelatedEvents(ctx context.Context, creds vendors.Credentials, parentID string) ([]eventcache.VendorEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func testIntegration(t *testing.T, id string, vendor incident.SourceVendor, client vendors.Client) Integration {
	t.Helper()
	env := "AGG_TEST_KEY_" + id
	t.Setenv(env, "test-key")
	return Integration{
		Config: config.IntegrationConfig{
			ID:        id,
			Name:      id + " name",
			Source:    vendor,
			Enabled:   true,
			APIKeyEnv: env,
			Timeout:   5 * time.Second,
		},
		Client: client,
	}
}

func newTestService(t *testing.T, integrations ...Integration) *Service {
	t.Helper()
	return New(integrations, config.AggregationConfig{
		VendorTimeout:   5 * time.Second,
		DefaultPageSize: 25,
		MaxPageSize:     200,
	}, nil, zap.NewNop(), nil)
}

func TestAggregate_MergesAllVendors(t *testing.T) {
	xdr := &fakeClient{vendor: incident.VendorCloudXDR, records: []sources.RawRecord{
		sources.CloudXDRAlert{
			ID: "x-1", Name: "beacon", Status: "Closed", Score: 85,
			AlertTime: baseMs, UpdatedAt: baseMs + 600_000,
		},
	}}
	siem := &fakeClient{vendor: incident.VendorOffenseSIEM, records: []sources.RawRecord{
		sources.OffenseRecord{
			ID: 7, Description: "port scan", Status: "Open", Magnitude: 4,
			StartTime: baseMs, LastUpdated: baseMs + 1_200_000,
		},
	}}
	host := &fakeClient{vendor: incident.VendorHostAgent, records: []sources.RawRecord{
		sources.HostAgentCase{
			ID: "c-1", Name: "cluster", Status: "Open", Severity: "critical",
			CreatedAt: baseMs + 900_000,
			Alerts:    []sources.HostAgentCaseAlert{{ID: "a", Timestamp: baseMs}},
		},
	}}

	svc := newTestService(t,
		testIntegration(t, "xdr", incident.VendorCloudXDR, xdr),
		testIntegration(t, "siem", incident.VendorOffenseSIEM, siem),
		testIntegration(t, "host", incident.VendorHostAgent, host),
	)

	res, err := svc.Aggregate(context.Background(), Query{FromMs: baseMs - 1, ToMs: baseMs + 2_000_000})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("total = %d, want 3", res.Total)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}

	byID := map[string]Row{}
	for _, row := range res.Rows {
		byID[row.ID] = row
	}
	// Cloud XDR alert: 10 minutes vs critical threshold 15 -> pass.
	if row := byID["x-1"]; row.Outcome != sla.OutcomePass || *row.MetricMinutes != 10 {
		t.Errorf("x-1 = %+v", row)
	}
	// Offense: 20 minutes vs medium threshold 60 -> pass.
	if row := byID["7"]; row.Outcome != sla.OutcomePass || *row.MetricMinutes != 20 {
		t.Errorf("7 = %+v", row)
	}
	// Host agent case: 15 minutes MTTR vs critical threshold 15 -> pass.
	if row := byID["c-1"]; row.Kind != incident.KindTicket || *row.MetricMinutes != 15 {
		t.Errorf("c-1 = %+v", row)
	}

	if res.Summary.Pass != 3 || res.Summary.Achievement != 100 {
		t.Errorf("summary = %+v", res.Summary)
	}
	if res.SeverityCounts["critical"] != 2 || res.SeverityCounts["medium"] != 1 {
		t.Errorf("severity counts = %v", res.SeverityCounts)
	}
}

// A failed vendor degrades to an empty contribution with a warning; the
// other integrations still return rows.
func TestAggregate_PartialVendorFailure(t *testing.T) {
	healthy := &fakeClient{vendor: incident.VendorCloudXDR, records: []sources.RawRecord{
		sources.CloudXDRAlert{ID: "x-1", Status: "Open", Score: 50, AlertTime: baseMs},
	}}
	broken := &fakeClient{vendor: incident.VendorOffenseSIEM, err: context.DeadlineExceeded}
	alsoHealthy := &fakeClient{vendor: incident.VendorHostAgent, records: []sources.RawRecord{
		sources.HostAgentAlert{ID: "w-1", Status: "Open", Severity: "low", Timestamp: baseMs},
	}}

	svc := newTestService(t,
		testIntegration(t, "xdr", incident.VendorCloudXDR, healthy),
		testIntegration(t, "siem", incident.VendorOffenseSIEM, broken),
		testIntegration(t, "host", incident.VendorHostAgent, alsoHealthy),
	)

	res, err := svc.Aggregate(context.Background(), Query{ToMs: baseMs})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("total = %d, want rows from the two healthy vendors", res.Total)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "siem: vendor unavailable" {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestAggregate_MissingCredentialsSkipsIntegration(t *testing.T) {
	healthy := testIntegration(t, "xdr", incident.VendorCloudXDR, &fakeClient{
		vendor: incident.VendorCloudXDR,
		records: []sources.RawRecord{
			sources.CloudXDRAlert{ID: "x-1", Status: "Open", Score: 10, AlertTime: baseMs},
		},
	})
	noCreds := Integration{
		Config: config.IntegrationConfig{
			ID: "siem", Source: incident.VendorOffenseSIEM, APIKeyEnv: "AGG_TEST_UNSET_KEY",
		},
		Client: &fakeClient{vendor: incident.VendorOffenseSIEM},
	}

	svc := newTestService(t, healthy, noCreds)
	res, err := svc.Aggregate(context.Background(), Query{ToMs: baseMs})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("total = %d, want 1", res.Total)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "siem: credentials not configured" {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestAggregate_FilterSortPaginate(t *testing.T) {
	var records []sources.RawRecord
	records = append(records,
		sources.CloudXDRAlert{ID: "a", Name: "Test beacon", Status: "Open", Score: 90, AlertTime: baseMs + 3000},
		sources.CloudXDRAlert{ID: "b", Name: "real beacon", Status: "Open", Score: 90, AlertTime: baseMs + 1000},
		sources.CloudXDRAlert{ID: "c", Name: "another", Status: "Closed", Score: 90, AlertTime: baseMs + 2000},
		sources.CloudXDRAlert{ID: "d", Name: "later", Status: "Open", Score: 90, AlertTime: baseMs + 4000},
	)
	svc := newTestService(t, testIntegration(t, "xdr", incident.VendorCloudXDR,
		&fakeClient{vendor: incident.VendorCloudXDR, records: records}))

	res, err := svc.Aggregate(context.Background(), Query{
		ToMs:                  baseMs + 10_000,
		StatusFilter:          "open",
		ExcludeNameSubstrings: []string{"test"},
		SortKey:               "timestamp",
		SortDir:               "desc",
		Page:                  1,
		PageSize:              1,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	// "a" excluded by name, "c" by status; "d" and "b" remain, newest first.
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}
	if len(res.Rows) != 1 || res.Rows[0].ID != "d" {
		t.Errorf("page 1 = %v", res.Rows)
	}

	res, err = svc.Aggregate(context.Background(), Query{
		ToMs:                  baseMs + 10_000,
		StatusFilter:          "open",
		ExcludeNameSubstrings: []string{"test"},
		SortKey:               "timestamp",
		SortDir:               "desc",
		Page:                  2,
		PageSize:              1,
	})
	if err != nil {
		t.Fatalf("Aggregate page 2: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].ID != "b" {
		t.Errorf("page 2 = %v", res.Rows)
	}
}

func TestLookup_ShapePriority(t *testing.T) {
	// Within one platform the case shape outranks the alert shape; across
	// platforms the earlier configured integration wins, so a later
	// vendor's case never shadows the primary platform's alert.
	xdr := &fakeClient{vendor: incident.VendorCloudXDR, records: []sources.RawRecord{
		sources.CloudXDRAlert{ID: "shared-1", Status: "Open", Score: 50, AlertTime: baseMs},
		sources.CloudXDRCase{ID: "shared-1", Name: "case shape", Status: "Open", Severity: "high", CreatedAt: baseMs},
		sources.CloudXDRAlert{ID: "shared-2", Name: "primary alert", Status: "Open", Score: 50, AlertTime: baseMs},
	}}
	host := &fakeClient{vendor: incident.VendorHostAgent, records: []sources.RawRecord{
		sources.HostAgentCase{ID: "shared-2", Name: "secondary case", Status: "Open", Severity: "high", CreatedAt: baseMs},
	}}

	svc := newTestService(t,
		testIntegration(t, "xdr", incident.VendorCloudXDR, xdr),
		testIntegration(t, "host", incident.VendorHostAgent, host),
	)

	detail, err := svc.Lookup(context.Background(), "shared-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if detail.Row.Kind != incident.KindTicket {
		t.Errorf("kind = %s, want ticket shape to win within a platform", detail.Row.Kind)
	}

	detail, err = svc.Lookup(context.Background(), "shared-2")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if detail.Row.Kind != incident.KindAlert || detail.Row.SourceVendor != incident.VendorCloudXDR {
		t.Errorf("shape = %s/%s, want the primary platform's alert",
			detail.Row.Kind, detail.Row.SourceVendor)
	}

	if _, err := svc.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

type storeStub struct {
	byParent map[string][]eventcache.VendorEvent
}

func (s *storeStub) Replace(ctx context.Context, parentID string, events []eventcache.VendorEvent) error {
	s.byParent[parentID] = events
	return nil
}

func (s *storeStub) List(ctx context.Context, parentID string) ([]eventcache.VendorEvent, error) {
	return s.byParent[parentID], nil
}

func TestRelatedEvents_ThroughCache(t *testing.T) {
	client := &fakeClient{
		vendor: incident.VendorOffenseSIEM,
		records: []sources.RawRecord{
			sources.OffenseRecord{ID: 7, Status: "Open", StartTime: baseMs},
		},
		events: []eventcache.VendorEvent{{ExternalID: "ev-1", Name: "Firewall Deny"}},
	}
	svc := newTestService(t, testIntegration(t, "siem", incident.VendorOffenseSIEM, client))

	store := &storeStub{byParent: make(map[string][]eventcache.VendorEvent)}
	svc.AttachEventCache(eventcache.New(store, svc, zap.NewNop()))

	events, err := svc.RelatedEvents(context.Background(), "siem", "7", false)
	if err != nil {
		t.Fatalf("RelatedEvents: %v", err)
	}
	if len(events) != 1 || events[0].ExternalID != "ev-1" {
		t.Fatalf("events = %v", events)
	}
	if len(store.byParent["7"]) != 1 {
		t.Error("events not persisted to cache store")
	}

	// Unknown parent aborts without touching the cache.
	if _, err := svc.RelatedEvents(context.Background(), "siem", "999", true); !errors.Is(err, eventcache.ErrUnknownParent) {
		t.Errorf("err = %v, want ErrUnknownParent", err)
	}

	if _, err := svc.RelatedEvents(context.Background(), "nope", "7", false); !errors.Is(err, ErrUnknownIntegration) {
		t.Errorf("err = %v, want ErrUnknownIntegration", err)
	}
}

// Prometheus collectors register globally, so the test binary shares one
// telemetry instance.
var testTel = func() *observability.Telemetry {
	tel, err := observability.New(observability.Config{
		ServiceName: "soctower-test",
		LogLevel:    "error",
	})
	if err != nil {
		panic(err)
	}
	return tel
}()

func TestRelatedEvents_ReadMetrics(t *testing.T) {
	client := &fakeClient{
		vendor: incident.VendorOffenseSIEM,
		records: []sources.RawRecord{
			sources.OffenseRecord{ID: 7, Status: "Open", StartTime: baseMs},
		},
		events: []eventcache.VendorEvent{{ExternalID: "ev-1"}},
	}
	svc := New([]Integration{testIntegration(t, "siem", incident.VendorOffenseSIEM, client)},
		config.AggregationConfig{VendorTimeout: 5 * time.Second}, nil, zap.NewNop(), testTel.Metrics())
	store := &storeStub{byParent: make(map[string][]eventcache.VendorEvent)}
	svc.AttachEventCache(eventcache.New(store, svc, zap.NewNop()))

	m := testTel.Metrics()
	missBefore := testutil.ToFloat64(m.EventCacheReads.WithLabelValues("miss"))
	hitBefore := testutil.ToFloat64(m.EventCacheReads.WithLabelValues("hit"))

	// Cold store: the read falls through to the vendor.
	if _, err := svc.RelatedEvents(context.Background(), "siem", "7", false); err != nil {
		t.Fatalf("RelatedEvents: %v", err)
	}
	if got := testutil.ToFloat64(m.EventCacheReads.WithLabelValues("miss")); got != missBefore+1 {
		t.Errorf("miss count = %v, want %v", got, missBefore+1)
	}

	// Warm store: served without a vendor round-trip.
	if _, err := svc.RelatedEvents(context.Background(), "siem", "7", false); err != nil {
		t.Fatalf("RelatedEvents: %v", err)
	}
	if got := testutil.ToFloat64(m.EventCacheReads.WithLabelValues("hit")); got != hitBefore+1 {
		t.Errorf("hit count = %v, want %v", got, hitBefore+1)
	}
}
