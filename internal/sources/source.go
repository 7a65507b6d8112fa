// Package sources normalizes raw vendor records into the canonical incident
// shape and computes detection (MTTD) and resolution (MTTR) durations.
//
// Each vendor encodes "when was this detected/resolved" differently, stores
// fields in multiple redundant locations, and mixes timestamp units. Every
// adapter therefore resolves field precedence through an explicit ordered
// candidate chain instead of ad-hoc lookups; the untyped vendor payload never
// leaks past this package.
package sources

import (
	"errors"
	"strings"

	"github.com/soctower/soctower/internal/incident"
)

// ErrForeignRecord is returned when a record is handed to an adapter for a
// different vendor.
var ErrForeignRecord = errors.New("record does not belong to this adapter's vendor")

// RawRecord is one vendor-shaped record: an alert, an offense, or a case.
// The concrete types live in this package so the tagged union stays closed.
type RawRecord interface {
	recordVendor() incident.SourceVendor
	recordKind() incident.Kind
}

// Adapter converts a vendor's raw records into canonical incidents and
// computes their SLA metric.
type Adapter interface {
	Vendor() incident.SourceVendor

	// Normalize maps one raw record into the canonical shape. It returns
	// ErrForeignRecord for records of another vendor.
	Normalize(rec RawRecord) (*incident.Normalized, error)

	// DetectionMinutes computes MTTD via the vendor's priority chain.
	// Nil means undeterminable (pending).
	DetectionMinutes(rec RawRecord) *float64

	// ResolutionMinutes computes MTTR. Nil means undeterminable.
	ResolutionMinutes(rec RawRecord) *float64
}

// AdapterFor returns the adapter for a vendor.
func AdapterFor(vendor incident.SourceVendor) (Adapter, bool) {
	switch vendor {
	case incident.VendorCloudXDR:
		return CloudXDRAdapter{}, true
	case incident.VendorOffenseSIEM:
		return OffenseAdapter{}, true
	case incident.VendorHostAgent:
		return HostAgentAdapter{}, true
	default:
		return nil, false
	}
}

// A metricCandidate is one strategy for deriving a duration from a vendor
// payload. Returning nil means the strategy does not apply or produced an
// invalid (e.g. negative) span.
type metricCandidate func() *float64

// firstMetric tries candidates in priority order and returns the first
// non-nil result.
func firstMetric(candidates ...metricCandidate) *float64 {
	for _, candidate := range candidates {
		if m := candidate(); m != nil {
			return m
		}
	}
	return nil
}

// isNewStatus reports whether a vendor status string is the untouched "New"
// state, in any casing. Incidents in this state never have a detection
// metric.
func isNewStatus(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "new")
}

// isClosedStatus reports whether a vendor status string marks the record as
// worked to completion.
func isClosedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "closed", "resolved":
		return true
	}
	return false
}
