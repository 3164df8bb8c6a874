package stake

import (
	"fmt"

	"github.com/rewired-gh/stakesync/internal/cache"
	"github.com/rewired-gh/stakesync/internal/models"
	"github.com/rewired-gh/stakesync/internal/store"
)

// Engine is the sole writer of stake-usage and mix-combination state. All
// mutations go through the state store so persistence, sync, and dependent
// recalculation are triggered uniformly.
type Engine struct {
	store  *store.Store
	cache  *cache.Cache
	ledger *Ledger
}

// NewEngine creates an engine bound to the shared store and cache.
func NewEngine(s *store.Store, c *cache.Cache) *Engine {
	e := &Engine{store: s, cache: c, ledger: NewLedger()}
	// Keep the ledger in step with the store, whether the combinations were
	// loaded from disk, edited locally, or pushed from another session.
	s.AddEffect([]string{store.PathMixBetCombinations}, func(st *store.Store, _ string) {
		e.ledger.Load(CombinationKeys(st.Get(store.PathMixBetCombinations)))
	})
	return e
}

// Ledger exposes the combination ledger for read-side checks.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Bankroll returns the configured bankroll, with ok=false when unset.
func (e *Engine) Bankroll() (float64, bool) {
	return asFloat(e.store.Get(store.PathBankroll))
}

// KellyFraction returns the configured Kelly fraction, with ok=false when
// unset.
func (e *Engine) KellyFraction() (float64, bool) {
	return asFloat(e.store.Get(store.PathKellyFraction))
}

// Usage returns the current stake-usage map (bet id -> applied amount).
func (e *Engine) Usage() map[string]float64 {
	return UsageMap(e.store.Get(store.PathStakeUsage))
}

// SetStake records a manual allocation for one bet. Negative amounts are
// rejected; a zero amount removes the entry.
func (e *Engine) SetStake(betID string, amount float64) error {
	if betID == "" {
		return fmt.Errorf("bet id must not be empty")
	}
	if amount < 0 {
		return fmt.Errorf("stake amount must not be negative")
	}
	usage := e.Usage()
	if amount == 0 {
		delete(usage, betID)
	} else {
		usage[betID] = amount
	}
	e.store.Set(store.PathStakeUsage, usageToValue(usage))
	return nil
}

// StakeAllowedFor computes the allowed stake for a cached record under the
// current bankroll and Kelly fraction. Returns nil when any input is missing.
func (e *Engine) StakeAllowedFor(rec models.BetRecord) *float64 {
	bankroll, ok := e.Bankroll()
	if !ok {
		return nil
	}
	kelly, ok := e.KellyFraction()
	if !ok {
		return nil
	}
	return StakeAllowed(rec, bankroll, kelly)
}

// ApplyCombination applies a combined stake across the given legs: the
// combination must not have been used before (nor any of its sub-combinations
// of size >= 2), the amount must fit within the combined stake bound, and on
// success every leg's usage is increased and the combination is recorded.
// Rejections are returned as plain errors, not exceptions: the caller relays
// them inline to the user.
func (e *Engine) ApplyCombination(ids []string, amount float64) error {
	if len(ids) < 2 {
		return fmt.Errorf("a mix bet needs at least 2 legs")
	}
	if amount <= 0 {
		return fmt.Errorf("stake amount must be positive")
	}

	if res := e.ledger.IsCombinationUsed(ids); res.IsUsed {
		return fmt.Errorf("combination already used (blocked bets: %v)", res.BlockedIDs)
	}

	records := make([]models.BetRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := e.cache.ByID(id)
		if !ok {
			return fmt.Errorf("unknown bet id %q", id)
		}
		records = append(records, rec)
	}

	bankroll, ok := e.Bankroll()
	if !ok {
		return fmt.Errorf("bankroll is not configured")
	}
	kelly, ok := e.KellyFraction()
	if !ok {
		return fmt.Errorf("kelly fraction is not configured")
	}

	usage := e.Usage()
	bound := CombinedStakeAllowed(records, bankroll, kelly, usage)
	if bound == nil {
		return fmt.Errorf("combined stake is unavailable for this selection")
	}
	if amount > *bound {
		return fmt.Errorf("stake %.2f exceeds combined bound %.2f", amount, *bound)
	}

	for _, id := range ids {
		usage[id] += amount
	}
	combinations := append(CombinationKeys(e.store.Get(store.PathMixBetCombinations)), CombinationKey(ids))

	e.store.SetMultiple(map[string]interface{}{
		store.PathStakeUsage:         usageToValue(usage),
		store.PathMixBetCombinations: stringsToValue(combinations),
	})
	return nil
}

// UsageMap coerces a store value (JSON round-tripped) into a stake-usage map.
func UsageMap(v interface{}) map[string]float64 {
	out := make(map[string]float64)
	m, ok := v.(map[string]interface{})
	if !ok {
		return out
	}
	for id, raw := range m {
		if f, ok := asFloat(raw); ok {
			out[id] = f
		}
	}
	return out
}

// CombinationKeys coerces a store value into a slice of combination keys.
func CombinationKeys(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func usageToValue(usage map[string]float64) interface{} {
	if len(usage) == 0 {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(usage))
	for id, amount := range usage {
		out[id] = amount
	}
	return out
}

func stringsToValue(values []string) interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
