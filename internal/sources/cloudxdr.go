package sources

import (
	"strings"

	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/severity"
	"github.com/soctower/soctower/internal/sla"
	"github.com/soctower/soctower/internal/timeutil"
)

// CloudXDRAlert is one alert as returned by the cloud XDR platform's query
// API. Timestamp fields arrive as ISO strings or epoch numbers depending on
// the API version, so they stay untyped until normalization.
type CloudXDRAlert struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	Score      float64            `json:"score"`
	AlertTime  any                `json:"alert_time"`
	UpdatedAt  any                `json:"last_modified"`
	ClosedTime any                `json:"closed_time"`
	UserAction *CloudXDRUserTrack `json:"user_action,omitempty"`

	// Payload is the undecoded vendor object, retained for drill-down.
	Payload map[string]any `json:"-"`
}

// CloudXDRUserTrack is the platform's analyst-activity summary attached to an
// alert.
type CloudXDRUserTrack struct {
	// AlertToFirstMs is the platform's own precomputed latency from alert
	// raise to first analyst touch, in milliseconds.
	AlertToFirstMs *float64         `json:"alert_to_first,omitempty"`
	History        []CloudXDRAction `json:"history,omitempty"`
}

// CloudXDRAction is one analyst action in an alert's activity history.
type CloudXDRAction struct {
	Action     string `json:"action"`
	ActionTime any    `json:"action_time"`
}

// CloudXDRCase is one investigation case from the cloud XDR platform.
type CloudXDRCase struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Severity any    `json:"severity"`

	CreatedAt  any `json:"created_at"`
	ModifiedAt any `json:"modified_at"`

	// LatestAlertTime is the newest contributing alert timestamp recorded
	// against the case during ingestion.
	LatestAlertTime any `json:"latest_alert_time"`

	// MttrMinutes is a platform-stored resolution figure. When present it
	// wins over any recomputation, including an exact zero.
	MttrMinutes *float64 `json:"mttr_minutes,omitempty"`

	Payload map[string]any `json:"-"`
}

func (CloudXDRAlert) recordVendor() incident.SourceVendor { return incident.VendorCloudXDR }
func (CloudXDRAlert) recordKind() incident.Kind           { return incident.KindAlert }
func (CloudXDRCase) recordVendor() incident.SourceVendor  { return incident.VendorCloudXDR }
func (CloudXDRCase) recordKind() incident.Kind            { return incident.KindTicket }

// CloudXDRAdapter normalizes cloud XDR alerts and cases.
type CloudXDRAdapter struct{}

func (CloudXDRAdapter) Vendor() incident.SourceVendor { return incident.VendorCloudXDR }

func (ad CloudXDRAdapter) Normalize(rec RawRecord) (*incident.Normalized, error) {
	switch r := rec.(type) {
	case CloudXDRAlert:
		return ad.normalizeAlert(r), nil
	case CloudXDRCase:
		return ad.normalizeCase(r), nil
	default:
		return nil, ErrForeignRecord
	}
}

func (ad CloudXDRAdapter) DetectionMinutes(rec RawRecord) *float64 {
	if a, ok := rec.(CloudXDRAlert); ok {
		return ad.detectionMinutes(a)
	}
	return nil
}

func (ad CloudXDRAdapter) ResolutionMinutes(rec RawRecord) *float64 {
	if c, ok := rec.(CloudXDRCase); ok {
		return ad.resolutionMinutes(c)
	}
	return nil
}

func (CloudXDRAdapter) normalizeAlert(a CloudXDRAlert) *incident.Normalized {
	n := &incident.Normalized{
		ID:                   a.ID,
		Kind:                 incident.KindAlert,
		SourceVendor:         incident.VendorCloudXDR,
		Name:                 a.Name,
		Status:               a.Status,
		SeverityRaw:          a.Score,
		SeverityTier:         severity.FromScore(a.Score),
		CreatedAtMs:          timeutil.MillisPtr(a.AlertTime),
		DetectionReferenceMs: timeutil.MillisPtr(a.AlertTime),
		Metadata:             a.Payload,
	}
	if isClosedStatus(a.Status) {
		n.ResolvedAtMs = timeutil.MillisPtr(a.UpdatedAt)
	}
	if ms, ok := a.assigneeChangeTime(); ok && !n.IsNew() {
		if ref := n.DetectionReferenceMs; ref != nil && ms >= *ref {
			n.DetectionActionMs = &ms
		}
	}
	return n
}

func (CloudXDRAdapter) normalizeCase(c CloudXDRCase) *incident.Normalized {
	n := &incident.Normalized{
		ID:           c.ID,
		Kind:         incident.KindTicket,
		SourceVendor: incident.VendorCloudXDR,
		Name:         c.Name,
		Status:       c.Status,
		SeverityRaw:  c.Severity,
		SeverityTier: severity.Classify(c.Severity),
		CreatedAtMs:  timeutil.MillisPtr(c.CreatedAt),
		Metadata:     c.Payload,
	}
	if isClosedStatus(c.Status) {
		n.ResolvedAtMs = timeutil.MillisPtr(c.ModifiedAt)
	}
	return n
}

// detectionMinutes walks the cloud XDR priority chain: the platform's own
// alert-to-first-touch figure, then the assignee-change history entry, then
// the last-modified time of a closed alert, then the earliest timestamped
// history entry, then the close time.
func (CloudXDRAdapter) detectionMinutes(a CloudXDRAlert) *float64 {
	if isNewStatus(a.Status) {
		return nil
	}
	raisedMs, haveRaised := timeutil.Millis(a.AlertTime)

	return firstMetric(
		func() *float64 {
			if a.UserAction == nil || a.UserAction.AlertToFirstMs == nil {
				return nil
			}
			if v := *a.UserAction.AlertToFirstMs; v > 0 {
				return sla.MetricMinutes(int64(v))
			}
			return nil
		},
		func() *float64 {
			if !haveRaised {
				return nil
			}
			ms, ok := a.assigneeChangeTime()
			if !ok {
				return nil
			}
			return sla.MetricBetween(raisedMs, ms)
		},
		func() *float64 {
			if !haveRaised || !isClosedStatus(a.Status) {
				return nil
			}
			ms, ok := timeutil.Millis(a.UpdatedAt)
			if !ok {
				return nil
			}
			return sla.MetricBetween(raisedMs, ms)
		},
		func() *float64 {
			if !haveRaised {
				return nil
			}
			ms, ok := a.earliestActionTime()
			if !ok {
				return nil
			}
			return sla.MetricBetween(raisedMs, ms)
		},
		func() *float64 {
			if !haveRaised {
				return nil
			}
			ms, ok := timeutil.Millis(a.ClosedTime)
			if !ok {
				return nil
			}
			return sla.MetricBetween(raisedMs, ms)
		},
	)
}

// resolutionMinutes measures from the latest contributing alert to case
// creation. This vendor's workflow measures from the most recent alert, not
// the earliest one.
func (CloudXDRAdapter) resolutionMinutes(c CloudXDRCase) *float64 {
	if c.MttrMinutes != nil {
		return c.MttrMinutes
	}
	createdMs, ok := timeutil.Millis(c.CreatedAt)
	if !ok {
		return nil
	}
	latestMs, ok := timeutil.Millis(c.LatestAlertTime)
	if !ok {
		return nil
	}
	return sla.MetricBetween(latestMs, createdMs)
}

// assigneeChangeTime finds the first history entry recording an assignee
// change.
func (a CloudXDRAlert) assigneeChangeTime() (int64, bool) {
	if a.UserAction == nil {
		return 0, false
	}
	for _, h := range a.UserAction.History {
		if !strings.Contains(strings.ToLower(h.Action), "assignee changed") {
			continue
		}
		if ms, ok := timeutil.Millis(h.ActionTime); ok {
			return ms, true
		}
	}
	return 0, false
}

// earliestActionTime returns the smallest usable timestamp across the whole
// history.
func (a CloudXDRAlert) earliestActionTime() (int64, bool) {
	if a.UserAction == nil {
		return 0, false
	}
	var earliest int64
	found := false
	for _, h := range a.UserAction.History {
		ms, ok := timeutil.Millis(h.ActionTime)
		if !ok {
			continue
		}
		if !found || ms < earliest {
			earliest = ms
			found = true
		}
	}
	return earliest, found
}
