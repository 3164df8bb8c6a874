package stake

import (
	"sort"
	"strings"
	"sync"
)

// Ledger records which mix-bet combinations have had stake applied.
// Combinations are canonicalized as sorted, comma-joined id strings and are
// never mutated once recorded.
type Ledger struct {
	mu   sync.RWMutex
	used map[string]bool
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{used: make(map[string]bool)}
}

// CombinationKey canonicalizes a set of bet ids.
func CombinationKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Record marks the combination as used.
func (l *Ledger) Record(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used[CombinationKey(ids)] = true
}

// Load replaces the ledger contents with the given combination keys, as
// persisted or received from the remote datastore.
func (l *Ledger) Load(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used = make(map[string]bool, len(keys))
	for _, key := range keys {
		if key != "" {
			l.used[key] = true
		}
	}
}

// Keys returns every recorded combination key in sorted order.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.used))
	for key := range l.used {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// UsageResult reports whether a candidate combination is blocked and which of
// its ids belong to already-used combinations.
type UsageResult struct {
	IsUsed     bool
	BlockedIDs []string
}

// IsCombinationUsed checks the candidate id set against recorded
// combinations: an exact match blocks it outright, and any recorded
// combination matching a subset of size >= 2 blocks it too, so once a
// combination is used every superset stays blocked. BlockedIDs is the union
// of all hit subsets' members.
//
// Subset enumeration is exponential in len(ids); acceptable because legs are
// user-selected checkboxes, practically <= ~6.
func (l *Ledger) IsCombinationUsed(ids []string) UsageResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	if l.used[strings.Join(sorted, ",")] {
		return UsageResult{IsUsed: true, BlockedIDs: sorted}
	}

	n := len(sorted)
	blocked := make(map[string]bool)
	for mask := 1; mask < (1 << n); mask++ {
		size := 0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				size++
			}
		}
		if size < 2 || size >= n {
			continue
		}
		subset := make([]string, 0, size)
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				subset = append(subset, sorted[i])
			}
		}
		if l.used[strings.Join(subset, ",")] {
			for _, id := range subset {
				blocked[id] = true
			}
		}
	}

	if len(blocked) == 0 {
		return UsageResult{}
	}
	out := make([]string, 0, len(blocked))
	for id := range blocked {
		out = append(out, id)
	}
	sort.Strings(out)
	return UsageResult{IsUsed: true, BlockedIDs: out}
}
