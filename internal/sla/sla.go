// Package sla evaluates detection and resolution durations against
// severity-based thresholds.
package sla

import (
	"math"

	"github.com/soctower/soctower/internal/severity"
)

// Outcome classifies a metric against its threshold.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomePending Outcome = "pending"
)

// thresholdMinutes is the fixed severity->threshold table. It is a design
// constant, not runtime configuration.
var thresholdMinutes = map[severity.Tier]int{
	severity.TierCritical: 15,
	severity.TierHigh:     30,
	severity.TierMedium:   60,
	severity.TierLow:      120,
}

// ThresholdMinutes returns the SLA threshold for a tier.
func ThresholdMinutes(tier severity.Tier) int {
	if m, ok := thresholdMinutes[tier]; ok {
		return m
	}
	return thresholdMinutes[severity.TierLow]
}

// Verdict is the result of evaluating one incident's metric.
type Verdict struct {
	MetricMinutes    *float64 `json:"metric_minutes"`
	ThresholdMinutes int      `json:"threshold_minutes"`
	Outcome          Outcome  `json:"outcome"`
}

// Evaluate applies the threshold table to a computed duration. A nil metric
// is pending regardless of tier.
func Evaluate(metricMinutes *float64, tier severity.Tier) Verdict {
	v := Verdict{
		MetricMinutes:    metricMinutes,
		ThresholdMinutes: ThresholdMinutes(tier),
	}
	switch {
	case metricMinutes == nil:
		v.Outcome = OutcomePending
	case *metricMinutes <= float64(v.ThresholdMinutes):
		v.Outcome = OutcomePass
	default:
		v.Outcome = OutcomeFail
	}
	return v
}

// MetricMinutes converts a raw millisecond delta to the reporting unit:
// minutes rounded to one decimal place. Deltas that round below 0.1 minute
// report exactly 0; a sub-six-second response is still a real detection
// event. Negative deltas are invalid and return nil.
func MetricMinutes(deltaMs int64) *float64 {
	if deltaMs < 0 {
		return nil
	}
	minutes := float64(deltaMs) / (60 * 1000)
	rounded := math.Round(minutes*10) / 10
	if rounded < 0.1 {
		rounded = 0
	}
	return &rounded
}

// MetricBetween computes the metric for a start/end pair in epoch millis.
// A missing endpoint or a non-positive span yields nil.
func MetricBetween(startMs, endMs int64) *float64 {
	if startMs <= 0 || endMs <= 0 || startMs >= endMs {
		return nil
	}
	return MetricMinutes(endMs - startMs)
}

// Summary aggregates verdicts across a result set.
type Summary struct {
	Total       int     `json:"total"`
	Pass        int     `json:"pass"`
	Fail        int     `json:"fail"`
	Pending     int     `json:"pending"`
	Achievement float64 `json:"achievement"`
}

// Summarize counts outcomes and computes the achievement percentage,
// pass/(pass+fail) rounded to two decimals. With no determinable rows the
// achievement is 0, never NaN.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o {
		case OutcomePass:
			s.Pass++
		case OutcomeFail:
			s.Fail++
		default:
			s.Pending++
		}
	}
	if determinable := s.Pass + s.Fail; determinable > 0 {
		s.Achievement = math.Round(float64(s.Pass)/float64(determinable)*10000) / 100
	}
	return s
}
