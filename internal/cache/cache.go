// Package cache accumulates bet records across repeated, overlapping backend
// responses, keyed by record id.
package cache

import (
	"sync"

	"github.com/rewired-gh/stakesync/internal/logger"
	"github.com/rewired-gh/stakesync/internal/models"
)

// Cache holds every record seen this session. Later responses overwrite
// same-key entries; unseen keys accumulate. There is no eviction: the cache is
// cleared only on logout or explicit reset.
type Cache struct {
	mu      sync.RWMutex
	records map[string]models.BetRecord
	order   []string // insertion order, so All() is deterministic
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{records: make(map[string]models.BetRecord)}
}

// Merge folds a batch of raw backend records into the cache. Records that
// fail normalization are skipped and counted, never fatal.
func (c *Cache) Merge(raws []map[string]interface{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := 0
	skipped := 0
	for _, raw := range raws {
		rec, err := models.Normalize(raw)
		if err != nil {
			skipped++
			continue
		}
		if _, seen := c.records[rec.ID]; !seen {
			c.order = append(c.order, rec.ID)
		}
		c.records[rec.ID] = rec
		merged++
	}
	if skipped > 0 {
		logger.Warn("Skipped %d malformed records during merge", skipped)
	}
	return merged
}

// MergeRecords folds already-normalized records into the cache.
func (c *Cache) MergeRecords(recs []models.BetRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range recs {
		if rec.ID == "" {
			continue
		}
		if _, seen := c.records[rec.ID]; !seen {
			c.order = append(c.order, rec.ID)
		}
		c.records[rec.ID] = rec
	}
}

// All returns every cached record in first-seen order.
func (c *Cache) All() []models.BetRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.BetRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id])
	}
	return out
}

// ByID returns the record for id, with ok=false when absent.
func (c *Cache) ByID(id string) (models.BetRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

// Size returns the number of cached records.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Clear drops every cached record. Called on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]models.BetRecord)
	c.order = nil
}
