// Package severity maps vendor-native severity values onto the four
// canonical tiers used for SLA threshold lookup.
package severity

import "strings"

// Tier is a canonical severity bucket.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// FromScore maps a 0-100 score to a tier. The cloud XDR platform reports
// severity on this scale.
func FromScore(score float64) Tier {
	switch {
	case score >= 80:
		return TierCritical
	case score >= 60:
		return TierHigh
	case score >= 40:
		return TierMedium
	default:
		return TierLow
	}
}

// FromLabel maps a vendor severity label to a tier using case-insensitive
// prefix matching. Unrecognized labels default to low.
func FromLabel(label string) Tier {
	normalized := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.HasPrefix(normalized, "crit"):
		return TierCritical
	case strings.HasPrefix(normalized, "hi"):
		return TierHigh
	case strings.HasPrefix(normalized, "med"):
		return TierMedium
	default:
		return TierLow
	}
}

// Classify dispatches on the dynamic type of a vendor severity value.
// Callers with non 0-100 numeric scales (the offense SIEM reports 1-10)
// must rescale before calling; Classify does not special-case any vendor.
func Classify(raw any) Tier {
	switch v := raw.(type) {
	case float64:
		return FromScore(v)
	case int:
		return FromScore(float64(v))
	case int64:
		return FromScore(float64(v))
	case string:
		return FromLabel(v)
	default:
		return TierLow
	}
}
