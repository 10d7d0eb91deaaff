package domain

import (
	"strings"
)

const (
	MinScore = 1
	MaxScore = 5
)

// Tier is the coarse impact bucket derived from the five dimensions.
type Tier string

const (
	TierLow      Tier = "Low"
	TierMedium   Tier = "Medium"
	TierHigh     Tier = "High"
	TierCritical Tier = "Critical"
)

// Tiers lists every valid tier from lowest to highest.
var Tiers = []Tier{TierLow, TierMedium, TierHigh, TierCritical}

// Rank orders tiers Critical(4) > High(3) > Medium(2) > Low(1) > unset(0).
func (t Tier) Rank() int {
	switch t {
	case TierCritical:
		return 4
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// Escalated reports whether the tier warrants escalation.
func (t Tier) Escalated() bool {
	return t == TierHigh || t == TierCritical
}

// ParseTier matches a tier name case-insensitively.
func ParseTier(value string) (Tier, bool) {
	for _, tier := range Tiers {
		if strings.EqualFold(strings.TrimSpace(value), string(tier)) {
			return tier, true
		}
	}
	return "", false
}

// Impact holds the five scored dimensions plus the overall tier.
type Impact struct {
	Severity          int  `json:"severity"`
	TimeSensitivity   int  `json:"time_sensitivity"`
	OperationalEffort int  `json:"operational_effort"`
	CustomerImpact    int  `json:"customer_impact"`
	EnforcementRisk   int  `json:"enforcement_risk"`
	Overall           Tier `json:"overall"`
}

// DefaultImpact is used when scoring fails.
func DefaultImpact() Impact {
	return Impact{
		Severity:          3,
		TimeSensitivity:   3,
		OperationalEffort: 3,
		CustomerImpact:    2,
		EnforcementRisk:   3,
		Overall:           TierMedium,
	}
}

// ClampScore forces a model-supplied score into [MinScore, MaxScore].
func ClampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// Clamped returns a copy with every dimension clamped and a valid tier.
func (i Impact) Clamped() Impact {
	out := Impact{
		Severity:          ClampScore(i.Severity),
		TimeSensitivity:   ClampScore(i.TimeSensitivity),
		OperationalEffort: ClampScore(i.OperationalEffort),
		CustomerImpact:    ClampScore(i.CustomerImpact),
		EnforcementRisk:   ClampScore(i.EnforcementRisk),
		Overall:           i.Overall,
	}
	if !out.Overall.Valid() {
		out.Overall = DeriveTier(out)
	}
	return out
}

// Valid reports whether every dimension is in range and the tier is known.
func (i Impact) Valid() bool {
	for _, v := range i.dimensions() {
		if v < MinScore || v > MaxScore {
			return false
		}
	}
	return i.Overall.Valid()
}

// DeriveTier buckets the mean of the five dimensions.
func DeriveTier(i Impact) Tier {
	dims := i.dimensions()
	sum := 0
	for _, v := range dims {
		sum += ClampScore(v)
	}
	mean := float64(sum) / float64(len(dims))

	switch {
	case mean >= 4.5:
		return TierCritical
	case mean >= 3.5:
		return TierHigh
	case mean >= 2.5:
		return TierMedium
	default:
		return TierLow
	}
}

func (i Impact) dimensions() []int {
	return []int{i.Severity, i.TimeSensitivity, i.OperationalEffort, i.CustomerImpact, i.EnforcementRisk}
}
