package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/stakesync/internal/models"
)

func TestMergeAccumulatesAndOverwrites(t *testing.T) {
	c := New()

	merged := c.Merge([]map[string]interface{}{
		{"betId": "b1", "game": "A vs B", "player": "P1", "prop": "Points 10.5", "odds": 1.9},
		{"betId": "b2", "game": "A vs B", "player": "P2", "prop": "Assists 3.5", "odds": 2.1},
	})
	assert.Equal(t, 2, merged)
	assert.Equal(t, 2, c.Size())

	// An overlapping batch overwrites b1 and adds b3; b2 survives untouched.
	merged = c.Merge([]map[string]interface{}{
		{"betId": "b1", "game": "A vs B", "player": "P1", "prop": "Points 10.5", "odds": 2.0},
		{"betId": "b3", "game": "C vs D", "player": "P3", "prop": "Rebounds 7.5", "odds": 1.8},
	})
	assert.Equal(t, 2, merged)
	assert.Equal(t, 3, c.Size())

	b1, ok := c.ByID("b1")
	require.True(t, ok)
	assert.Equal(t, 2.0, b1.OddsOffered)
	_, ok = c.ByID("b2")
	assert.True(t, ok)
}

func TestMergeSkipsMalformed(t *testing.T) {
	c := New()
	merged := c.Merge([]map[string]interface{}{
		{"odds": 1.9}, // no game/player/prop
		{"betId": "b1", "game": "A vs B", "player": "P1", "prop": "Points 10.5"},
	})
	assert.Equal(t, 1, merged)
	assert.Equal(t, 1, c.Size())
}

func TestAllPreservesFirstSeenOrder(t *testing.T) {
	c := New()
	c.MergeRecords([]models.BetRecord{
		{ID: "b2", Game: "g", Player: "p", Prop: "x"},
		{ID: "b1", Game: "g", Player: "p", Prop: "y"},
	})
	c.MergeRecords([]models.BetRecord{
		{ID: "b2", Game: "g2", Player: "p", Prop: "x"}, // update, keeps position
		{ID: "b3", Game: "g", Player: "p", Prop: "z"},
	})

	all := c.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b2", "b1", "b3"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "g2", all[0].Game)
}

func TestClear(t *testing.T) {
	c := New()
	c.MergeRecords([]models.BetRecord{{ID: "b1", Game: "g", Player: "p", Prop: "x"}})
	c.Clear()

	assert.Equal(t, 0, c.Size())
	assert.Empty(t, c.All())
	_, ok := c.ByID("b1")
	assert.False(t, ok)
}
