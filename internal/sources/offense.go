package sources

import (
	"strconv"

	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/severity"
	"github.com/soctower/soctower/internal/sla"
	"github.com/soctower/soctower/internal/timeutil"
)

// OffenseRecord is one offense from the offense-based SIEM. The platform
// reports epoch-millisecond numbers for every timestamp, but older deployments
// return epoch seconds, so the fields stay untyped until normalization.
type OffenseRecord struct {
	ID          int64   `json:"id"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	Magnitude   float64 `json:"magnitude"`

	StartTime   any `json:"start_time"`
	LastUpdated any `json:"last_updated_time"`

	// FollowUpTime is when an analyst marked the offense for follow-up,
	// which this platform's workflow treats as the resolution event.
	FollowUpTime any `json:"follow_up_time"`

	// MttrMinutes is a stored resolution figure that wins over
	// recomputation when present.
	MttrMinutes *float64 `json:"mttr_minutes,omitempty"`

	Payload map[string]any `json:"-"`
}

func (OffenseRecord) recordVendor() incident.SourceVendor { return incident.VendorOffenseSIEM }
func (OffenseRecord) recordKind() incident.Kind           { return incident.KindAlert }

// OffenseAdapter normalizes SIEM offenses. The platform has no separate case
// object; an offense serves as both the alert and the ticket.
type OffenseAdapter struct{}

func (OffenseAdapter) Vendor() incident.SourceVendor { return incident.VendorOffenseSIEM }

func (ad OffenseAdapter) Normalize(rec RawRecord) (*incident.Normalized, error) {
	r, ok := rec.(OffenseRecord)
	if !ok {
		return nil, ErrForeignRecord
	}
	n := &incident.Normalized{
		ID:                   strconv.FormatInt(r.ID, 10),
		Kind:                 incident.KindAlert,
		SourceVendor:         incident.VendorOffenseSIEM,
		Name:                 r.Description,
		Status:               r.Status,
		SeverityRaw:          r.Magnitude,
		SeverityTier:         severity.FromScore(magnitudeScore(r.Magnitude)),
		CreatedAtMs:          timeutil.MillisPtr(r.StartTime),
		DetectionReferenceMs: timeutil.MillisPtr(r.StartTime),
		Metadata:             r.Payload,
	}
	if isClosedStatus(r.Status) {
		n.ResolvedAtMs = timeutil.MillisPtr(r.LastUpdated)
	}
	if ms, ok := timeutil.Millis(r.LastUpdated); ok && !n.IsNew() {
		if ref := n.DetectionReferenceMs; ref != nil && ms >= *ref {
			n.DetectionActionMs = &ms
		}
	}
	return n, nil
}

func (ad OffenseAdapter) DetectionMinutes(rec RawRecord) *float64 {
	if r, ok := rec.(OffenseRecord); ok {
		return ad.detectionMinutes(r)
	}
	return nil
}

func (ad OffenseAdapter) ResolutionMinutes(rec RawRecord) *float64 {
	if r, ok := rec.(OffenseRecord); ok {
		return ad.resolutionMinutes(r)
	}
	return nil
}

// detectionMinutes is the simplest of the three chains: last update minus
// raise time, and only once the offense has left the "New" state.
func (OffenseAdapter) detectionMinutes(r OffenseRecord) *float64 {
	if isNewStatus(r.Status) {
		return nil
	}
	raisedMs, ok := timeutil.Millis(r.StartTime)
	if !ok {
		return nil
	}
	updatedMs, ok := timeutil.Millis(r.LastUpdated)
	if !ok {
		return nil
	}
	return sla.MetricBetween(raisedMs, updatedMs)
}

// resolutionMinutes measures from the offense raise to the analyst marking it
// for follow-up.
func (OffenseAdapter) resolutionMinutes(r OffenseRecord) *float64 {
	if r.MttrMinutes != nil {
		return r.MttrMinutes
	}
	raisedMs, ok := timeutil.Millis(r.StartTime)
	if !ok {
		return nil
	}
	followUpMs, ok := timeutil.Millis(r.FollowUpTime)
	if !ok {
		return nil
	}
	return sla.MetricBetween(raisedMs, followUpMs)
}

// magnitudeScore maps the platform's 1-10 magnitude onto the shared 0-100
// scale before classification; the classifier itself does not special-case
// this vendor.
func magnitudeScore(magnitude float64) float64 {
	return magnitude * 10
}
