// Package stake implements Kelly-criterion stake sizing, allocation math, and
// combination-usage bookkeeping for multi-leg mix bets.
package stake

import (
	"math"

	"github.com/rewired-gh/stakesync/internal/models"
)

// StakeAllowed returns the maximum recommended stake for a bet:
//
//	(evPercentage/100 / (oddsOffered - 1)) * bankroll * kellyFraction
//
// Returns nil when any input is missing or non-finite, when oddsOffered <= 1,
// or when the formula yields a negative stake. A negative result is reported
// as unavailable rather than clamped to zero.
func StakeAllowed(rec models.BetRecord, bankroll, kellyFraction float64) *float64 {
	if rec.EVPercentage == nil {
		return nil
	}
	ev := *rec.EVPercentage
	if !isFinite(ev) || !isFinite(rec.OddsOffered) || !isFinite(bankroll) || !isFinite(kellyFraction) {
		return nil
	}
	if rec.OddsOffered <= 1 {
		return nil
	}
	allowed := (ev / 100 / (rec.OddsOffered - 1)) * bankroll * kellyFraction
	if !isFinite(allowed) || allowed < 0 {
		return nil
	}
	return &allowed
}

// AllocationPercentage returns stakeUsed/stakeAllowed. Callers must guard
// against a zero or unavailable stakeAllowed.
func AllocationPercentage(stakeUsed, stakeAllowed float64) float64 {
	return stakeUsed / stakeAllowed
}

// MonitorAmount returns the expected profit of the applied stake:
// (evPercentage/100) * stakeUsed.
func MonitorAmount(evPercentage, stakeUsed float64) float64 {
	return (evPercentage / 100) * stakeUsed
}

// CombinedEV sums individual EV percentages across all legs. Returns nil when
// any leg lacks the field.
func CombinedEV(records []models.BetRecord) *float64 {
	if len(records) == 0 {
		return nil
	}
	var total float64
	for _, rec := range records {
		if rec.EVPercentage == nil || !isFinite(*rec.EVPercentage) {
			return nil
		}
		total += *rec.EVPercentage
	}
	return &total
}

// CombinedStakeAllowed computes a joint stake bound for a mix bet: the
// single-leg formula applied to the combined EV and the product of all legs'
// odds, capped at the minimum per-leg headroom (stakeAllowed(leg) minus the
// leg's existing allocation, clamped to >= 0). You cannot allocate more to a
// combination than any single leg has headroom for.
func CombinedStakeAllowed(records []models.BetRecord, bankroll, kellyFraction float64, existingAllocationsByID map[string]float64) *float64 {
	combinedEV := CombinedEV(records)
	if combinedEV == nil {
		return nil
	}

	combinedOdds := 1.0
	for _, rec := range records {
		if !isFinite(rec.OddsOffered) || rec.OddsOffered <= 1 {
			return nil
		}
		combinedOdds *= rec.OddsOffered
	}

	joint := models.BetRecord{
		OddsOffered:  combinedOdds,
		EVPercentage: combinedEV,
	}
	allowed := StakeAllowed(joint, bankroll, kellyFraction)
	if allowed == nil {
		return nil
	}

	bound := *allowed
	for _, rec := range records {
		legAllowed := StakeAllowed(rec, bankroll, kellyFraction)
		if legAllowed == nil {
			return nil
		}
		headroom := *legAllowed - existingAllocationsByID[rec.ID]
		if headroom < 0 {
			headroom = 0
		}
		if headroom < bound {
			bound = headroom
		}
	}
	return &bound
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
