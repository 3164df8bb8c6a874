package table

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rewired-gh/stakesync/internal/cache"
	"github.com/rewired-gh/stakesync/internal/logger"
	"github.com/rewired-gh/stakesync/internal/matcher"
	"github.com/rewired-gh/stakesync/internal/stake"
	"github.com/rewired-gh/stakesync/internal/store"
)

// fingerprintRows bounds the structural fingerprint to the first few rows;
// enough to catch column-count changes without walking a large table.
const fingerprintRows = 5

// Reconciler runs one matching pass per observed table mutation. A processing
// flag in the state store short-circuits re-entrant invocations triggered by
// the reconciler's own edits; late-arriving triggers are expected to cause a
// follow-up pass once the flag clears.
type Reconciler struct {
	store  *store.Store
	cache  *cache.Cache
	engine *stake.Engine
	layout matcher.CellLayout

	mu              sync.Mutex
	lastFingerprint string
	lastResult      *Result
}

// NewReconciler creates a reconciler over the shared store, cache, and stake
// engine. State changes that alter derived cell values invalidate the
// fingerprint so the next pass recomputes instead of short-circuiting.
func NewReconciler(s *store.Store, c *cache.Cache, e *stake.Engine, layout matcher.CellLayout) *Reconciler {
	r := &Reconciler{store: s, cache: c, engine: e, layout: layout}
	s.AddEffect([]string{
		store.PathBankroll,
		store.PathKellyFraction,
		store.PathStakeUsage,
	}, func(*store.Store, string) {
		r.Invalidate()
	})
	return r
}

// Invalidate forces the next pass to run in full.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	r.lastFingerprint = ""
	r.mu.Unlock()
}

// Reconcile runs one pass over the snapshot. Matching failures are per-row
// and never block other rows; the returned banner is observational only.
func (r *Reconciler) Reconcile(snap Snapshot) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if processing, _ := r.store.Get(store.PathColumnProcessing).(bool); processing {
		logger.Debug("Reconcile pass skipped: already processing")
		return r.skippedResult()
	}
	r.store.Set(store.PathColumnProcessing, true)
	defer r.store.Set(store.PathColumnProcessing, false)

	fp := fingerprint(snap)
	if fp == r.lastFingerprint && r.lastResult != nil && allAssigned(snap) {
		return r.skippedResult()
	}

	candidates := r.cache.All()
	claimed := make(map[string]int) // bet id -> row index that claimed it this pass
	rows := make([]ReconciledRow, 0, len(snap.Rows))
	duplicates := 0
	orphans := 0

	for i, row := range snap.Rows {
		out := ReconciledRow{Cells: row.Cells}

		betID := row.BetID
		synthetic := false
		if betID == "" {
			if rec := matcher.Match(row.Cells, candidates, r.layout); rec != nil {
				betID = rec.ID
				synthetic = rec.SyntheticID
			}
		}

		switch {
		case betID == "":
			orphans++
		case hasClaim(claimed, betID):
			// Never silently reuse an identifier: the later row stays
			// unassigned and the condition is surfaced. A row that carried
			// the id itself is a duplicate; a row that merely resolved to
			// an already-claimed record never acquired an id, so it counts
			// as an orphan.
			if row.BetID != "" {
				duplicates++
			} else {
				orphans++
			}
			betID = ""
		default:
			claimed[betID] = i
		}

		out.BetID = betID
		out.Synthetic = synthetic
		if betID != "" {
			out.Injected = r.injectedCells(betID)
		} else {
			out.Injected = InjectedCells{}
		}
		rows = append(rows, out)
	}

	result := Result{
		Rows:     rows,
		InsertAt: r.layout.Prop + 1,
		Banner:   buildBanner(duplicates, orphans),
	}
	if len(snap.Header) > 0 {
		header := make([]string, 0, len(snap.Header)+len(InjectedHeaders))
		header = append(header, snap.Header[:min(result.InsertAt, len(snap.Header))]...)
		header = append(header, InjectedHeaders...)
		if result.InsertAt < len(snap.Header) {
			header = append(header, snap.Header[result.InsertAt:]...)
		}
		result.Header = header
	}

	r.publishBanner(result.Banner)
	r.lastFingerprint = fp
	r.lastResult = &result
	return result
}

// injectedCells recomputes the four derived values for one assigned row.
func (r *Reconciler) injectedCells(betID string) InjectedCells {
	cells := InjectedCells{BetID: betID}
	rec, ok := r.cache.ByID(betID)
	if !ok {
		return cells
	}

	allowed := r.engine.StakeAllowedFor(rec)
	cells.StakeAllowed = allowed

	used := r.engine.Usage()[betID]
	if allowed != nil && *allowed > 0 {
		alloc := stake.AllocationPercentage(used, *allowed)
		cells.Allocation = &alloc
	}
	if rec.EVPercentage != nil {
		monitor := stake.MonitorAmount(*rec.EVPercentage, used)
		cells.Monitor = &monitor
	}
	return cells
}

func (r *Reconciler) publishBanner(b *Banner) {
	if b == nil {
		r.store.Set(store.PathActiveBanner, nil)
		return
	}
	r.store.Set(store.PathActiveBanner, map[string]interface{}{
		"duplicates": float64(b.Duplicates),
		"orphans":    float64(b.Orphans),
		"message":    b.Message,
	})
}

func (r *Reconciler) skippedResult() Result {
	if r.lastResult != nil {
		out := *r.lastResult
		out.Skipped = true
		return out
	}
	return Result{Skipped: true, InsertAt: r.layout.Prop + 1}
}

func buildBanner(duplicates, orphans int) *Banner {
	if duplicates == 0 && orphans == 0 {
		return nil
	}
	var parts []string
	if duplicates > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicate row(s)", duplicates))
	}
	if orphans > 0 {
		parts = append(parts, fmt.Sprintf("%d unmatched row(s)", orphans))
	}
	return &Banner{
		Duplicates: duplicates,
		Orphans:    orphans,
		Message:    strings.Join(parts, ", "),
	}
}

// fingerprint is a cheap structural digest: total row count plus the
// cell count of the first few rows.
func fingerprint(snap Snapshot) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(snap.Rows)))
	b.WriteByte(':')
	for i, row := range snap.Rows {
		if i >= fingerprintRows {
			break
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(len(row.Cells)))
	}
	return b.String()
}

func allAssigned(snap Snapshot) bool {
	for _, row := range snap.Rows {
		if row.BetID == "" {
			return false
		}
	}
	return true
}

func hasClaim(claimed map[string]int, id string) bool {
	_, ok := claimed[id]
	return ok
}
