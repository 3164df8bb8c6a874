package syncer

import "sync"

// PendingChange accumulates the net effect of local edits to one path between
// flushes: the oldest old value and the newest new value.
type PendingChange struct {
	NewValue interface{}
	OldValue interface{}
}

// Batcher buffers outbound changes independently of timer mechanics so the
// debounce window is testable without real time.
type Batcher struct {
	mu      sync.Mutex
	pending map[string]PendingChange
}

// NewBatcher creates an empty batcher.
func NewBatcher() *Batcher {
	return &Batcher{pending: make(map[string]PendingChange)}
}

// Add records a change for path, coalescing with any pending change.
func (b *Batcher) Add(path string, newValue, oldValue interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.pending[path]; ok {
		oldValue = prev.OldValue
	}
	b.pending[path] = PendingChange{NewValue: newValue, OldValue: oldValue}
}

// Flush returns every pending change and clears the buffer.
func (b *Batcher) Flush() map[string]PendingChange {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = make(map[string]PendingChange)
	return out
}

// Cancel drops every pending change.
func (b *Batcher) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[string]PendingChange)
}

// Len returns the number of pending paths.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
