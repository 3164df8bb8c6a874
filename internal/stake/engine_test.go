package stake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/stakesync/internal/cache"
	"github.com/rewired-gh/stakesync/internal/models"
	"github.com/rewired-gh/stakesync/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s := store.New(nil, store.DefaultPolicy())
	c := cache.New()
	c.MergeRecords([]models.BetRecord{
		{ID: "a", Game: "A vs B", Player: "P1", Prop: "Points 10.5", OddsOffered: 2.0, EVPercentage: models.Float(10)},
		{ID: "b", Game: "A vs B", Player: "P2", Prop: "Assists 3.5", OddsOffered: 1.5, EVPercentage: models.Float(5)},
	})
	e := NewEngine(s, c)
	s.Set(store.PathBankroll, 1000.0)
	s.Set(store.PathKellyFraction, 0.25)
	return e, s
}

func TestSetStake(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.SetStake("a", 12.5))
	assert.Equal(t, map[string]float64{"a": 12.5}, e.Usage())

	// Zero removes the entry; negative is rejected outright.
	require.NoError(t, e.SetStake("a", 0))
	assert.Empty(t, e.Usage())
	assert.Error(t, e.SetStake("a", -1))
	assert.Error(t, e.SetStake("", 5))
}

func TestStakeAllowedFor(t *testing.T) {
	e, s := newTestEngine(t)

	rec, _ := e.cache.ByID("a")
	got := e.StakeAllowedFor(rec)
	require.NotNil(t, got)
	assert.InDelta(t, 25.0, *got, 1e-9)

	// Unset bankroll makes the value unavailable.
	s.Set(store.PathBankroll, nil)
	assert.Nil(t, e.StakeAllowedFor(rec))
}

func TestApplyCombination(t *testing.T) {
	e, s := newTestEngine(t)

	require.NoError(t, e.ApplyCombination([]string{"a", "b"}, 10))

	// Both legs' usage grew and the combination landed in the store, which
	// in turn reloaded the ledger.
	assert.Equal(t, map[string]float64{"a": 10, "b": 10}, e.Usage())
	assert.Equal(t, []string{"a,b"}, CombinationKeys(s.Get(store.PathMixBetCombinations)))
	assert.True(t, e.Ledger().IsCombinationUsed([]string{"a", "b"}).IsUsed)

	// Reuse is refused, including as part of a superset.
	assert.Error(t, e.ApplyCombination([]string{"a", "b"}, 1))
}

func TestApplyCombinationRejections(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Error(t, e.ApplyCombination([]string{"a"}, 10), "single leg")
	assert.Error(t, e.ApplyCombination([]string{"a", "b"}, 0), "non-positive amount")
	assert.Error(t, e.ApplyCombination([]string{"a", "nope"}, 10), "unknown id")

	// Combined bound for a+b is 18.75 under bankroll 1000, kelly 0.25.
	assert.Error(t, e.ApplyCombination([]string{"a", "b"}, 20), "over the combined bound")
	assert.NoError(t, e.ApplyCombination([]string{"a", "b"}, 18.7))
}

func TestApplyCombinationRequiresConfig(t *testing.T) {
	e, s := newTestEngine(t)
	s.Set(store.PathBankroll, nil)
	assert.Error(t, e.ApplyCombination([]string{"a", "b"}, 5))
}

func TestLedgerFollowsRemoteCombinationUpdates(t *testing.T) {
	e, s := newTestEngine(t)

	s.Set(store.PathMixBetCombinations, []interface{}{"x,y"}, store.SetOptions{FromRemote: true})
	assert.True(t, e.Ledger().IsCombinationUsed([]string{"x", "y"}).IsUsed)

	s.Set(store.PathMixBetCombinations, []interface{}{}, store.SetOptions{FromRemote: true})
	assert.False(t, e.Ledger().IsCombinationUsed([]string{"x", "y"}).IsUsed)
}
