package sources

import (
	"errors"
	"testing"

	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/severity"
)

func TestOffenseDetection(t *testing.T) {
	ad := OffenseAdapter{}

	tests := []struct {
		name string
		rec  OffenseRecord
		want *float64
	}{
		{
			"ten minutes between raise and update",
			OffenseRecord{Status: "Open", StartTime: "2024-01-01T00:00:00Z", LastUpdated: "2024-01-01T00:10:00Z"},
			fp(10),
		},
		{
			"new status short-circuits",
			OffenseRecord{Status: "New", StartTime: baseMs, LastUpdated: baseMs + 600_000},
			nil,
		},
		{
			"no update yet",
			OffenseRecord{Status: "Open", StartTime: baseMs},
			nil,
		},
		{
			"no raise time",
			OffenseRecord{Status: "Open", LastUpdated: baseMs},
			nil,
		},
		{
			"update before raise is discarded",
			OffenseRecord{Status: "Open", StartTime: baseMs, LastUpdated: baseMs - 1},
			nil,
		},
		{
			"epoch seconds are normalized",
			OffenseRecord{Status: "Open", StartTime: baseMs / 1000, LastUpdated: baseMs/1000 + 600},
			fp(10),
		},
	}

	for _, tt := range tests {
		checkMetric(t, tt.name, ad.DetectionMinutes(tt.rec), tt.want)
	}
}

func TestOffenseResolution(t *testing.T) {
	ad := OffenseAdapter{}

	tests := []struct {
		name string
		rec  OffenseRecord
		want *float64
	}{
		{
			"follow-up marks resolution",
			OffenseRecord{Status: "Open", StartTime: baseMs, FollowUpTime: baseMs + 2_700_000},
			fp(45),
		},
		{
			"stored mttr wins verbatim",
			OffenseRecord{StartTime: baseMs, FollowUpTime: baseMs + 2_700_000, MttrMinutes: fp(0)},
			fp(0),
		},
		{
			"not yet marked",
			OffenseRecord{Status: "Open", StartTime: baseMs},
			nil,
		},
		{
			"follow-up before raise is discarded",
			OffenseRecord{Status: "Open", StartTime: baseMs, FollowUpTime: baseMs - 600_000},
			nil,
		},
	}

	for _, tt := range tests {
		checkMetric(t, tt.name, ad.ResolutionMinutes(tt.rec), tt.want)
	}
}

func TestOffenseNormalize(t *testing.T) {
	ad := OffenseAdapter{}

	n, err := ad.Normalize(OffenseRecord{
		ID:          42,
		Description: "Excessive firewall denies from single host",
		Status:      "Open",
		Magnitude:   9,
		StartTime:   baseMs,
		LastUpdated: baseMs + 600_000,
		Payload:     map[string]any{"domain": "corp"},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if n.ID != "42" {
		t.Errorf("id = %q, want 42", n.ID)
	}
	if n.Kind != incident.KindAlert || n.SourceVendor != incident.VendorOffenseSIEM {
		t.Errorf("kind/vendor = %s/%s", n.Kind, n.SourceVendor)
	}
	// Magnitude 9 on the 1-10 scale maps to 90 on the shared scale.
	if n.SeverityTier != severity.TierCritical {
		t.Errorf("tier = %s, want critical", n.SeverityTier)
	}
	if n.DetectionActionMs == nil || *n.DetectionActionMs != baseMs+600_000 {
		t.Errorf("detectionAction = %v", n.DetectionActionMs)
	}

	if _, err := ad.Normalize(HostAgentAlert{}); !errors.Is(err, ErrForeignRecord) {
		t.Errorf("foreign record: err = %v", err)
	}
}

func TestOffenseNormalize_MagnitudeTiers(t *testing.T) {
	ad := OffenseAdapter{}
	tests := []struct {
		magnitude float64
		want      severity.Tier
	}{
		{10, severity.TierCritical},
		{8, severity.TierCritical},
		{7, severity.TierHigh},
		{6, severity.TierHigh},
		{5, severity.TierMedium},
		{4, severity.TierMedium},
		{3, severity.TierLow},
		{1, severity.TierLow},
	}
	for _, tt := range tests {
		n, err := ad.Normalize(OffenseRecord{ID: 1, Magnitude: tt.magnitude, Status: "Open"})
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if n.SeverityTier != tt.want {
			t.Errorf("magnitude %v: tier = %s, want %s", tt.magnitude, n.SeverityTier, tt.want)
		}
	}
}
