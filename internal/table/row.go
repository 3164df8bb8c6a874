// Package table drives row matching against live table snapshots: it assigns
// stable bet identifiers to rows, detects collisions and orphans, and computes
// the injected cell values for each row.
package table

// Row is one data row of the host table: ordered cell texts plus the bet
// identifier attribute previously attached by the reconciler. The host page
// may strip BetID at any re-render; the reconciler re-derives it.
type Row struct {
	Cells []string `json:"cells"`
	BetID string   `json:"bet_id,omitempty"`
}

// Snapshot is one observed state of the host table, delivered on every
// mutation batch.
type Snapshot struct {
	Header []string `json:"header,omitempty"`
	Rows   []Row    `json:"rows"`
}

// InjectedCells carries the four derived cell values maintained per row.
// Nil means unavailable; the display layer renders a placeholder.
type InjectedCells struct {
	StakeAllowed *float64 `json:"stake_allowed"`
	Allocation   *float64 `json:"allocation"`
	Monitor      *float64 `json:"monitor"`
	BetID        string   `json:"bet_id"`
}

// InjectedHeaders are the header labels matching InjectedCells, in insertion
// order.
var InjectedHeaders = []string{"Stake Allowed", "Allocation", "Monitor", "Bet ID"}

// ReconciledRow is a row after a reconciliation pass.
type ReconciledRow struct {
	Cells     []string      `json:"cells"`
	BetID     string        `json:"bet_id,omitempty"`
	Synthetic bool          `json:"synthetic_id,omitempty"`
	Injected  InjectedCells `json:"injected"`
}

// Banner aggregates the per-pass duplicate and orphan conditions. A new
// banner replaces any prior one; a pass with neither condition clears it.
type Banner struct {
	Duplicates int    `json:"duplicates"`
	Orphans    int    `json:"orphans"`
	Message    string `json:"message"`
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	Rows     []ReconciledRow `json:"rows"`
	Header   []string        `json:"header,omitempty"`
	InsertAt int             `json:"insert_at"`
	Banner   *Banner         `json:"banner,omitempty"`
	Skipped  bool            `json:"skipped"`
}
