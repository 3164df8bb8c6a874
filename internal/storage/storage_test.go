package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	_, ok, err := s.Get("config.bankroll")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("config.bankroll", json.RawMessage(`1000`)))

	raw, ok, err := s.Get("config.bankroll")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `1000`, string(raw))

	// Replacement, not accumulation.
	require.NoError(t, s.Set("config.bankroll", json.RawMessage(`2500`)))
	raw, ok, err = s.Get("config.bankroll")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `2500`, string(raw))
}

func TestRemove(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Set("betting.stakeUsage", json.RawMessage(`{"b1":25}`)))
	require.NoError(t, s.Remove("betting.stakeUsage"))

	_, ok, err := s.Get("betting.stakeUsage")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an absent path is not an error.
	assert.NoError(t, s.Remove("betting.stakeUsage"))
}

func TestGetAll(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Set("config.bankroll", json.RawMessage(`1000`)))
	require.NoError(t, s.Set("config.kellyFraction", json.RawMessage(`0.25`)))

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.JSONEq(t, `1000`, string(all["config.bankroll"]))
	assert.JSONEq(t, `0.25`, string(all["config.kellyFraction"]))
}
