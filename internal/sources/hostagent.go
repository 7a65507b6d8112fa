package sources

import (
	"github.com/soctower/soctower/internal/incident"
	"github.com/soctower/soctower/internal/severity"
	"github.com/soctower/soctower/internal/sla"
	"github.com/soctower/soctower/internal/timeutil"
)

// HostAgentAlert is one alert from the host-agent detection platform.
type HostAgentAlert struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Severity string `json:"severity"`

	Timestamp any `json:"timestamp"`
	UpdatedAt any `json:"updated_at"`

	Comments []HostAgentComment `json:"comments,omitempty"`

	Payload map[string]any `json:"-"`
}

// HostAgentComment is one analyst comment on an alert.
type HostAgentComment struct {
	Author      string `json:"author"`
	CommentTime any    `json:"comment_time"`
}

// HostAgentCase is one case from the host-agent platform, carrying the
// alerts that were attached when it was opened.
type HostAgentCase struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Severity string `json:"severity"`

	CreatedAt any `json:"created_at"`

	Alerts []HostAgentCaseAlert `json:"alerts,omitempty"`

	// MttrMinutes is a stored resolution figure that wins over
	// recomputation when present.
	MttrMinutes *float64 `json:"mttr_minutes,omitempty"`

	Payload map[string]any `json:"-"`
}

// HostAgentCaseAlert is an alert reference embedded in a case.
type HostAgentCaseAlert struct {
	ID        string `json:"id"`
	Timestamp any    `json:"timestamp"`
}

func (HostAgentAlert) recordVendor() incident.SourceVendor { return incident.VendorHostAgent }
func (HostAgentAlert) recordKind() incident.Kind           { return incident.KindAlert }
func (HostAgentCase) recordVendor() incident.SourceVendor  { return incident.VendorHostAgent }
func (HostAgentCase) recordKind() incident.Kind            { return incident.KindTicket }

// HostAgentAdapter normalizes host-agent alerts and cases.
type HostAgentAdapter struct{}

func (HostAgentAdapter) Vendor() incident.SourceVendor { return incident.VendorHostAgent }

func (ad HostAgentAdapter) Normalize(rec RawRecord) (*incident.Normalized, error) {
	switch r := rec.(type) {
	case HostAgentAlert:
		return ad.normalizeAlert(r), nil
	case HostAgentCase:
		return ad.normalizeCase(r), nil
	default:
		return nil, ErrForeignRecord
	}
}

func (ad HostAgentAdapter) DetectionMinutes(rec RawRecord) *float64 {
	if a, ok := rec.(HostAgentAlert); ok {
		return ad.detectionMinutes(a)
	}
	return nil
}

func (ad HostAgentAdapter) ResolutionMinutes(rec RawRecord) *float64 {
	if c, ok := rec.(HostAgentCase); ok {
		return ad.resolutionMinutes(c)
	}
	return nil
}

func (HostAgentAdapter) normalizeAlert(a HostAgentAlert) *incident.Normalized {
	n := &incident.Normalized{
		ID:                   a.ID,
		Kind:                 incident.KindAlert,
		SourceVendor:         incident.VendorHostAgent,
		Name:                 a.Title,
		Status:               a.Status,
		SeverityRaw:          a.Severity,
		SeverityTier:         severity.FromLabel(a.Severity),
		CreatedAtMs:          timeutil.MillisPtr(a.Timestamp),
		DetectionReferenceMs: timeutil.MillisPtr(a.Timestamp),
		Metadata:             a.Payload,
	}
	if isClosedStatus(a.Status) {
		n.ResolvedAtMs = timeutil.MillisPtr(a.UpdatedAt)
	}
	if ms, ok := a.firstActionTime(); ok && !n.IsNew() {
		if ref := n.DetectionReferenceMs; ref != nil && ms >= *ref {
			n.DetectionActionMs = &ms
		}
	}
	return n
}

func (HostAgentAdapter) normalizeCase(c HostAgentCase) *incident.Normalized {
	n := &incident.Normalized{
		ID:           c.ID,
		Kind:         incident.KindTicket,
		SourceVendor: incident.VendorHostAgent,
		Name:         c.Name,
		Status:       c.Status,
		SeverityRaw:  c.Severity,
		SeverityTier: severity.FromLabel(c.Severity),
		CreatedAtMs:  timeutil.MillisPtr(c.CreatedAt),
		Metadata:     c.Payload,
	}
	if isClosedStatus(c.Status) {
		n.ResolvedAtMs = timeutil.MillisPtr(c.CreatedAt)
	}
	return n
}

// detectionMinutes measures from the alert's own timestamp to the first
// analyst touch, which is the earlier of the first comment and the alert's
// last update.
func (HostAgentAdapter) detectionMinutes(a HostAgentAlert) *float64 {
	if isNewStatus(a.Status) {
		return nil
	}
	raisedMs, ok := timeutil.Millis(a.Timestamp)
	if !ok {
		return nil
	}
	actionMs, ok := a.firstActionTime()
	if !ok {
		return nil
	}
	return sla.MetricBetween(raisedMs, actionMs)
}

// resolutionMinutes measures from the earliest attached alert to case
// creation.
func (HostAgentAdapter) resolutionMinutes(c HostAgentCase) *float64 {
	if c.MttrMinutes != nil {
		return c.MttrMinutes
	}
	createdMs, ok := timeutil.Millis(c.CreatedAt)
	if !ok {
		return nil
	}
	earliestMs, ok := c.earliestAlertTime()
	if !ok {
		return nil
	}
	return sla.MetricBetween(earliestMs, createdMs)
}

// firstActionTime returns the earlier of the first comment timestamp and the
// last-update timestamp, whichever exist.
func (a HostAgentAlert) firstActionTime() (int64, bool) {
	var earliest int64
	found := false
	for _, comment := range a.Comments {
		if ms, ok := timeutil.Millis(comment.CommentTime); ok {
			earliest = ms
			found = true
			break
		}
	}
	if ms, ok := timeutil.Millis(a.UpdatedAt); ok && (!found || ms < earliest) {
		earliest = ms
		found = true
	}
	return earliest, found
}

// earliestAlertTime returns the smallest usable timestamp across the case's
// attached alerts.
func (c HostAgentCase) earliestAlertTime() (int64, bool) {
	var earliest int64
	found := false
	for _, ref := range c.Alerts {
		ms, ok := timeutil.Millis(ref.Timestamp)
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
