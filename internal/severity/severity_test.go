package severity

import "testing"

func TestFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{100, TierCritical},
		{80, TierCritical},
		{79.9, TierHigh},
		{60, TierHigh},
		{59, TierMedium},
		{40, TierMedium},
		{39, TierLow},
		{20, TierLow},
		{5, TierLow},
		{0, TierLow},
	}

	for _, tt := range tests {
		if got := FromScore(tt.score); got != tt.want {
			t.Errorf("FromScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestFromLabel(t *testing.T) {
	tests := []struct {
		label string
		want  Tier
	}{
		{"Critical", TierCritical},
		{"CRIT", TierCritical},
		{"critical - confirmed", TierCritical},
		{"High", TierHigh},
		{"hi", TierHigh},
		{"Medium", TierMedium},
		{"med", TierMedium},
		{"Low", TierLow},
		{"informational", TierLow},
		{"", TierLow},
		{"  High  ", TierHigh},
		{"unknown-value", TierLow},
	}

	for _, tt := range tests {
		if got := FromLabel(tt.label); got != tt.want {
			t.Errorf("FromLabel(%q) = %s, want %s", tt.label, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Tier
	}{
		{"numeric score", float64(85), TierCritical},
		{"int score", 45, TierMedium},
		{"label", "High", TierHigh},
		{"nil defaults low", nil, TierLow},
		{"bool defaults low", true, TierLow},
	}

	for _, tt := range tests {
		if got := Classify(tt.raw); got != tt.want {
			t.Errorf("%s: Classify(%v) = %s, want %s", tt.name, tt.raw, got, tt.want)
		}
	}
}
