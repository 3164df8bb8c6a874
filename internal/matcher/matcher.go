// Package matcher associates rendered table rows with cached bet records
// using normalized multi-field equality with optional-field tolerance.
package matcher

import (
	"math"
	"strconv"
	"strings"

	"github.com/rewired-gh/stakesync/internal/models"
)

// confidenceTolerance absorbs display rounding when comparing confidence
// values numerically.
const confidenceTolerance = 0.01

// CellLayout maps row cell positions to record fields. Optional fields set to
// -1 are not read from the row.
type CellLayout struct {
	Game       int
	GameTime   int
	Player     int
	BetType    int
	Prop       int
	Confidence int
}

// DefaultLayout matches the host table's column order.
func DefaultLayout() CellLayout {
	return CellLayout{
		Game:       0,
		GameTime:   1,
		Player:     2,
		BetType:    3,
		Prop:       4,
		Confidence: 5,
	}
}

// Match associates a row's cell texts with the first candidate whose required
// fields (game, player, prop) are exactly equal after normalization and whose
// optional fields (game time, bet type, confidence) agree wherever both sides
// carry them. Candidates are scanned in slice order: first match wins, callers
// supply candidates in an order where duplicates are not expected.
//
// Returns nil when any required field is empty or no candidate matches.
func Match(cells []string, candidates []models.BetRecord, layout CellLayout) *models.BetRecord {
	game := normalizeText(cellAt(cells, layout.Game))
	player := normalizeText(cellAt(cells, layout.Player))
	prop := normalizeText(cellAt(cells, layout.Prop))
	if game == "" || player == "" || prop == "" {
		return nil
	}

	gameTime := normalizeText(cellAt(cells, layout.GameTime))
	betType := normalizeText(cellAt(cells, layout.BetType))
	confidence, hasConfidence := parseConfidence(cellAt(cells, layout.Confidence))

	for i := range candidates {
		c := &candidates[i]
		if normalizeText(c.Game) != game ||
			normalizeText(c.Player) != player ||
			normalizeText(c.Prop) != prop {
			continue
		}
		// Optional fields mismatch only when present on both sides.
		if gameTime != "" && c.GameTime != "" &&
			!GameTimeEqual(gameTime, c.GameTime) {
			continue
		}
		if betType != "" && c.BetType != "" &&
			normalizeText(c.BetType) != betType {
			continue
		}
		if hasConfidence && c.Confidence != nil &&
			math.Abs(confidence-*c.Confidence) >= confidenceTolerance {
			continue
		}
		return c
	}
	return nil
}

// GameTimeEqual compares two timestamp-like strings, tolerating
// seconds-present vs seconds-absent time formats and swapped day/month
// ordering in the date prefix.
func GameTimeEqual(a, b string) bool {
	na, nb := normalizeGameTime(a), normalizeGameTime(b)
	if na == nb {
		return true
	}

	dateA, timeA := splitDateTime(na)
	dateB, timeB := splitDateTime(nb)
	if timeA != timeB {
		return false
	}
	return dateEqual(dateA, dateB)
}

func normalizeGameTime(s string) string {
	s = normalizeText(s)
	date, t := splitDateTime(s)
	t = stripSeconds(t)
	if date == "" {
		return t
	}
	if t == "" {
		return date
	}
	return date + " " + t
}

// splitDateTime separates a "date time" string on the first field containing a
// colon; either part may be absent.
func splitDateTime(s string) (date, t string) {
	fields := strings.Fields(s)
	var dateParts, timeParts []string
	for _, f := range fields {
		if strings.Contains(f, ":") {
			timeParts = append(timeParts, f)
		} else {
			dateParts = append(dateParts, f)
		}
	}
	return strings.Join(dateParts, " "), strings.Join(timeParts, " ")
}

// stripSeconds reduces HH:MM:SS to HH:MM.
func stripSeconds(t string) string {
	parts := strings.Split(t, ":")
	if len(parts) == 3 {
		return parts[0] + ":" + parts[1]
	}
	return t
}

// dateEqual accepts exact equality or a D/M vs M/D swap of the first two
// slash-separated components.
func dateEqual(a, b string) bool {
	if a == b {
		return true
	}
	pa := strings.Split(a, "/")
	pb := strings.Split(b, "/")
	if len(pa) < 2 || len(pa) != len(pb) {
		return false
	}
	if pa[0] != pb[1] || pa[1] != pb[0] {
		return false
	}
	for i := 2; i < len(pa); i++ {
		if pa[i] != pb[i] {
			return false
		}
	}
	return true
}

// normalizeText lowercases, trims, and collapses internal whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

func parseConfidence(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
