// Package store implements the reactive key-path state store: in-memory
// values addressed by dotted paths, change notification, per-path persistence,
// and the sync whitelist consulted by the sync reconciler.
package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rewired-gh/stakesync/internal/logger"
)

// Well-known state paths.
const (
	PathBankroll           = "config.bankroll"
	PathKellyFraction      = "config.kellyFraction"
	PathStakeUsage         = "betting.stakeUsage"
	PathMixBetCombinations = "betting.mixBetCombinations"
	PathColumnProcessing   = "ui.columns.columnProcessing"
	PathActiveBanner       = "ui.banner"
)

// Persister is the durable storage collaborator. Failures are logged and never
// roll back in-memory state.
type Persister interface {
	Get(path string) (json.RawMessage, bool, error)
	Set(path string, value json.RawMessage) error
	Remove(path string) error
	GetAll() (map[string]json.RawMessage, error)
}

// Change describes one applied state mutation, as delivered to subscribers.
type Change struct {
	Path       string
	NewValue   interface{}
	OldValue   interface{}
	FromRemote bool
}

// Subscriber receives every applied change.
type Subscriber func(s *Store, ch Change)

// Effect runs when one of its registered paths changes; it receives the store
// snapshot and the path that triggered it. Within one batch an effect runs at
// most once even if several of its paths changed.
type Effect func(s *Store, path string)

// Policy declares which paths persist locally and which mirror to the remote
// datastore. Sync paths are implicitly persisted.
type Policy struct {
	Persist []string
	Sync    []string
}

// DefaultPolicy matches the shipped path set: bankroll, Kelly fraction, stake
// usage, and mix-bet combinations survive reloads and sync across devices.
func DefaultPolicy() Policy {
	return Policy{
		Sync: []string{
			PathBankroll,
			PathKellyFraction,
			PathStakeUsage,
			PathMixBetCombinations,
		},
	}
}

type effectReg struct {
	paths map[string]bool
	fn    Effect
}

// Store is the process-wide arbiter of state mutation. All components write
// through Set/SetMultiple and read through Get; retrieved values must not be
// mutated in place.
type Store struct {
	mu          sync.Mutex
	values      map[string]interface{}
	persistSet  map[string]bool
	syncSet     map[string]bool
	subscribers map[int]Subscriber
	effects     map[int]*effectReg
	nextID      int
	persister   Persister
}

// New creates a store backed by p under the given policy.
func New(p Persister, policy Policy) *Store {
	s := &Store{
		values:      make(map[string]interface{}),
		persistSet:  make(map[string]bool),
		syncSet:     make(map[string]bool),
		subscribers: make(map[int]Subscriber),
		effects:     make(map[int]*effectReg),
		persister:   p,
	}
	for _, path := range policy.Persist {
		s.persistSet[path] = true
	}
	for _, path := range policy.Sync {
		s.syncSet[path] = true
		s.persistSet[path] = true
	}
	return s
}

// Get returns the current value at path, or nil when unset.
func (s *Store) Get(path string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[path]
}

// SetOptions modify Set behavior.
type SetOptions struct {
	// FromRemote marks the change as remote-origin: the persistence policy
	// is suppressed (the remote datastore already owns the value) and
	// subscribers use the flag to break sync feedback loops.
	FromRemote bool
}

// Set updates the value at path. The in-memory value is applied before any
// persistence call, so a Get immediately after Set always observes the new
// value. Subscribers and effects fire only when the value actually changed.
func (s *Store) Set(path string, value interface{}, opts ...SetOptions) {
	var o SetOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	s.apply(map[string]interface{}{path: value}, o)
}

// SetMultiple applies several updates as one batch: all values land before
// any notification, changed paths are notified together, and each effect runs
// at most once for the batch.
func (s *Store) SetMultiple(updates map[string]interface{}, opts ...SetOptions) {
	var o SetOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	s.apply(updates, o)
}

func (s *Store) apply(updates map[string]interface{}, o SetOptions) {
	// Deterministic application order (map iteration is not).
	paths := make([]string, 0, len(updates))
	for path := range updates {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	s.mu.Lock()
	var changes []Change
	for _, path := range paths {
		newValue := updates[path]
		oldValue := s.values[path]
		if !valueChanged(oldValue, newValue) {
			continue
		}
		if newValue == nil {
			delete(s.values, path)
		} else {
			s.values[path] = newValue
		}
		changes = append(changes, Change{
			Path:       path,
			NewValue:   newValue,
			OldValue:   oldValue,
			FromRemote: o.FromRemote,
		})
	}
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	effects := make([]*effectReg, 0, len(s.effects))
	for _, reg := range s.effects {
		effects = append(effects, reg)
	}
	s.mu.Unlock()

	if len(changes) == 0 {
		return
	}

	// Memory is settled; durability may lag behind. Remote-origin values
	// are never checkpointed locally, they are re-pulled on the next login.
	if !o.FromRemote {
		for _, ch := range changes {
			s.persist(ch.Path, ch.NewValue)
		}
	}

	for _, ch := range changes {
		for _, fn := range subs {
			fn(s, ch)
		}
	}
	for _, reg := range effects {
		for _, ch := range changes {
			if reg.paths[ch.Path] {
				reg.fn(s, ch.Path)
				break
			}
		}
	}
}

func (s *Store) persist(path string, value interface{}) {
	if s.persister == nil || !s.persistSet[path] {
		return
	}
	if value == nil {
		if err := s.persister.Remove(path); err != nil {
			logger.Error("Failed to remove persisted value for %s: %v", path, err)
		}
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		logger.Error("Failed to marshal value for %s: %v", path, err)
		return
	}
	if err := s.persister.Set(path, raw); err != nil {
		logger.Error("Failed to persist %s: %v", path, err)
	}
}

// Subscribe registers fn for every applied change and returns an unsubscribe
// function.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// AddEffect registers fn against one or more paths and returns a removal
// function.
func (s *Store) AddEffect(paths []string, fn Effect) func() {
	reg := &effectReg{paths: make(map[string]bool, len(paths)), fn: fn}
	for _, path := range paths {
		reg.paths[path] = true
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.effects[id] = reg
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.effects, id)
		s.mu.Unlock()
	}
}

// ShouldSync reports whether path is in the sync whitelist. This is the single
// source of truth the sync reconciler consults before pushing a change.
func (s *Store) ShouldSync(path string) bool {
	return s.syncSet[path]
}

// SyncPaths returns the sync whitelist in sorted order.
func (s *Store) SyncPaths() []string {
	paths := make([]string, 0, len(s.syncSet))
	for path := range s.syncSet {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Init loads persisted values into memory and fires effects once for every
// loaded path so dependent consumers initialize consistently. Subscribers are
// not notified: nothing has changed from the persisted point of view.
func (s *Store) Init() error {
	if s.persister == nil {
		return nil
	}
	stored, err := s.persister.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}

	s.mu.Lock()
	var loaded []string
	for path, raw := range stored {
		if !s.persistSet[path] {
			continue
		}
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			logger.Warn("Skipping unreadable persisted value for %s: %v", path, err)
			continue
		}
		s.values[path] = value
		loaded = append(loaded, path)
	}
	effects := make([]*effectReg, 0, len(s.effects))
	for _, reg := range s.effects {
		effects = append(effects, reg)
	}
	s.mu.Unlock()

	sort.Strings(loaded)
	for _, reg := range effects {
		for _, path := range loaded {
			if reg.paths[path] {
				reg.fn(s, path)
				break
			}
		}
	}
	logger.Info("State store initialized with %d persisted paths", len(loaded))
	return nil
}

// valueChanged mirrors shallow inequality: comparable values compare directly,
// composites fall back to deep equality.
func valueChanged(oldValue, newValue interface{}) bool {
	return !reflect.DeepEqual(oldValue, newValue)
}
