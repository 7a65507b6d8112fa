// Package incident defines the canonical incident model shared by every
// source adapter. An incident is either an alert or a ticket regardless of
// which platform raised it; vendor payloads are normalized into this shape
// at the adapter boundary and the raw payload never leaks past it.
package incident

import (
	"strings"

	"github.com/soctower/soctower/internal/severity"
)

// Kind distinguishes alerts from cases/tickets.
type Kind string

const (
	KindAlert  Kind = "alert"
	KindTicket Kind = "ticket"
)

// SourceVendor identifies the originating platform.
type SourceVendor string

const (
	VendorCloudXDR    SourceVendor = "cloud_xdr"
	VendorOffenseSIEM SourceVendor = "offense_siem"
	VendorHostAgent   SourceVendor = "host_agent"
)

// Normalized is the canonical representation of a vendor record.
type Normalized struct {
	ID           string                 `json:"id"`
	Kind         Kind                   `json:"kind"`
	SourceVendor SourceVendor           `json:"source_vendor"`
	Name         string                 `json:"name"`

	// Status is vendor-native and never reinterpreted except for display
	// and the "New" detection guard.
	Status string `json:"status"`

	SeverityRaw  any           `json:"severity_raw,omitempty"`
	SeverityTier severity.Tier `json:"severity_tier"`

	CreatedAtMs  *int64 `json:"created_at_ms,omitempty"`
	ResolvedAtMs *int64 `json:"resolved_at_ms,omitempty"`

	// DetectionReferenceMs is the MTTD start point (alert/offense raised
	// time); DetectionActionMs is the first analyst action, nil until one
	// has occurred.
	DetectionReferenceMs *int64 `json:"detection_reference_ms,omitempty"`
	DetectionActionMs    *int64 `json:"detection_action_ms,omitempty"`

	// Metadata retains the opaque vendor payload for drill-down display.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsNew reports whether the incident is still in the vendor's "New" state,
// in which case no detection action has occurred by definition.
func (n *Normalized) IsNew() bool {
	return strings.EqualFold(strings.TrimSpace(n.Status), "new")
}
