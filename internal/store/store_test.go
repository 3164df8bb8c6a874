package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/stakesync/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.Storage) {
	t.Helper()
	persister, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { persister.Close() })
	return New(persister, DefaultPolicy()), persister
}

func TestReadAfterWrite(t *testing.T) {
	s, _ := newTestStore(t)

	assert.Nil(t, s.Get(PathBankroll))
	s.Set(PathBankroll, 1000.0)
	assert.Equal(t, 1000.0, s.Get(PathBankroll))

	s.Set(PathBankroll, nil)
	assert.Nil(t, s.Get(PathBankroll))
}

func TestSubscriberFiresOnlyOnChange(t *testing.T) {
	s, _ := newTestStore(t)

	var changes []Change
	unsubscribe := s.Subscribe(func(_ *Store, ch Change) {
		changes = append(changes, ch)
	})

	s.Set(PathBankroll, 1000.0)
	s.Set(PathBankroll, 1000.0) // no-op, same value
	s.Set(PathBankroll, 2000.0)

	require.Len(t, changes, 2)
	assert.Equal(t, PathBankroll, changes[0].Path)
	assert.Nil(t, changes[0].OldValue)
	assert.Equal(t, 1000.0, changes[0].NewValue)
	assert.Equal(t, 1000.0, changes[1].OldValue)
	assert.Equal(t, 2000.0, changes[1].NewValue)

	unsubscribe()
	s.Set(PathBankroll, 3000.0)
	assert.Len(t, changes, 2)
}

func TestSubscriberSeesFromRemoteFlag(t *testing.T) {
	s, _ := newTestStore(t)

	var got []bool
	s.Subscribe(func(_ *Store, ch Change) {
		got = append(got, ch.FromRemote)
	})

	s.Set(PathBankroll, 1000.0)
	s.Set(PathBankroll, 2000.0, SetOptions{FromRemote: true})

	assert.Equal(t, []bool{false, true}, got)
}

func TestSetMultipleRunsEffectOncePerBatch(t *testing.T) {
	s, _ := newTestStore(t)

	runs := 0
	var seenBankroll, seenKelly interface{}
	s.AddEffect([]string{PathBankroll, PathKellyFraction}, func(st *Store, _ string) {
		runs++
		seenBankroll = st.Get(PathBankroll)
		seenKelly = st.Get(PathKellyFraction)
	})

	s.SetMultiple(map[string]interface{}{
		PathBankroll:      1000.0,
		PathKellyFraction: 0.25,
	})
	assert.Equal(t, 1, runs)
	// All batch values are already applied when the effect runs.
	assert.Equal(t, 1000.0, seenBankroll)
	assert.Equal(t, 0.25, seenKelly)

	// Two separate Sets run it twice.
	s.Set(PathBankroll, 2000.0)
	s.Set(PathKellyFraction, 0.5)
	assert.Equal(t, 3, runs)
}

func TestEffectRemoval(t *testing.T) {
	s, _ := newTestStore(t)

	runs := 0
	remove := s.AddEffect([]string{PathBankroll}, func(*Store, string) { runs++ })

	s.Set(PathBankroll, 1.0)
	remove()
	s.Set(PathBankroll, 2.0)
	assert.Equal(t, 1, runs)
}

func TestPersistenceRoundTrip(t *testing.T) {
	first, persister := newTestStore(t)

	first.Set(PathBankroll, 1000.0)
	first.SetMultiple(map[string]interface{}{
		PathKellyFraction: 0.25,
		PathStakeUsage:    map[string]interface{}{"b1": 25.0},
	})
	// Non-persisted paths never reach storage.
	first.Set(PathColumnProcessing, true)

	second := New(persister, DefaultPolicy())
	fired := map[string]bool{}
	second.AddEffect([]string{PathBankroll}, func(_ *Store, path string) { fired[path] = true })
	require.NoError(t, second.Init())

	assert.Equal(t, 1000.0, second.Get(PathBankroll))
	assert.Equal(t, 0.25, second.Get(PathKellyFraction))
	assert.Equal(t, map[string]interface{}{"b1": 25.0}, second.Get(PathStakeUsage))
	assert.Nil(t, second.Get(PathColumnProcessing))
	assert.True(t, fired[PathBankroll])
}

func TestFromRemoteChangesAreNotPersisted(t *testing.T) {
	first, persister := newTestStore(t)

	first.Set(PathBankroll, 1000.0, SetOptions{FromRemote: true})
	first.SetMultiple(map[string]interface{}{
		PathKellyFraction: 0.25,
		PathStakeUsage:    map[string]interface{}{"b1": 25.0},
	}, SetOptions{FromRemote: true})

	// In memory, yes; on disk, no.
	assert.Equal(t, 1000.0, first.Get(PathBankroll))
	stored, err := persister.GetAll()
	require.NoError(t, err)
	assert.Empty(t, stored)

	second := New(persister, DefaultPolicy())
	require.NoError(t, second.Init())
	assert.Nil(t, second.Get(PathBankroll))
	assert.Nil(t, second.Get(PathKellyFraction))

	// A local overwrite of the same path persists as usual.
	first.Set(PathBankroll, 2000.0)
	stored, err = persister.GetAll()
	require.NoError(t, err)
	assert.Contains(t, stored, PathBankroll)
}

func TestRemoveClearsPersistedValue(t *testing.T) {
	first, persister := newTestStore(t)
	first.Set(PathBankroll, 1000.0)
	first.Set(PathBankroll, nil)

	second := New(persister, DefaultPolicy())
	require.NoError(t, second.Init())
	assert.Nil(t, second.Get(PathBankroll))
}

func TestSyncWhitelist(t *testing.T) {
	s, _ := newTestStore(t)

	assert.True(t, s.ShouldSync(PathBankroll))
	assert.True(t, s.ShouldSync(PathStakeUsage))
	assert.False(t, s.ShouldSync(PathColumnProcessing))
	assert.False(t, s.ShouldSync(PathActiveBanner))

	assert.Equal(t, []string{
		PathMixBetCombinations,
		PathStakeUsage,
		PathBankroll,
		PathKellyFraction,
	}, s.SyncPaths())
}
