package classify

import (
	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/model"
)

// TierTable grades a scalar confidence into one of an ordered set of tiers.
// Tiers are data, not code: the table comes from configuration and a single
// scan routine consumes it.
type TierTable struct {
	tiers []model.ConfidenceLevel
}

// NewTierTable validates and wraps a tier table. The table must be ordered
// by strictly decreasing threshold and end with a 0.0 catch-all tier.
func NewTierTable(tiers []model.ConfidenceLevel) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, apperr.New(apperr.KindDomain, "tier table is empty")
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Threshold >= tiers[i-1].Threshold {
			return nil, apperr.Newf(apperr.KindDomain,
				"tier thresholds must strictly decrease: tier %d (%.2f) >= tier %d (%.2f)",
				tiers[i].Level, tiers[i].Threshold, tiers[i-1].Level, tiers[i-1].Threshold)
		}
	}
	if last := tiers[len(tiers)-1]; last.Threshold != 0 {
		return nil, apperr.Newf(apperr.KindDomain,
			"lowest tier threshold must be 0.0 (got %.2f)", last.Threshold)
	}
	out := make([]model.ConfidenceLevel, len(tiers))
	copy(out, tiers)
	return &TierTable{tiers: out}, nil
}

// Grade returns the first tier, scanning from the highest threshold down,
// whose threshold is <= confidence. Total on [0, 1]; the 0.0 tier is the
// catch-all.
func (t *TierTable) Grade(confidence float64) (model.ConfidenceLevel, error) {
	if confidence < 0 || confidence > 1 {
		return model.ConfidenceLevel{}, apperr.Newf(apperr.KindDomain,
			"confidence %.4f outside [0, 1]", confidence)
	}
	for _, tier := range t.tiers {
		if tier.Threshold <= confidence {
			return tier, nil
		}
	}
	// Unreachable with a validated table.
	return t.tiers[len(t.tiers)-1], nil
}

// Tiers returns a copy of the table, highest threshold first.
func (t *TierTable) Tiers() []model.ConfidenceLevel {
	out := make([]model.ConfidenceLevel, len(t.tiers))
	copy(out, t.tiers)
	return out
}
