// Package models defines the core domain entities: bet records and their
// normalization from loosely-shaped backend payloads.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// BetRecord represents a single wagering opportunity extracted from an
// intercepted backend response. Optional numeric fields are pointers so that
// "absent" is distinguishable from zero.
type BetRecord struct {
	ID           string   `json:"id"`
	SyntheticID  bool     `json:"synthetic_id,omitempty"`
	Game         string   `json:"game"`
	GameTime     string   `json:"game_time"`
	Player       string   `json:"player"`
	BetType      string   `json:"bet_type"`
	Prop         string   `json:"prop"`
	OddsOffered  float64  `json:"odds_offered"`
	TrueOdds     *float64 `json:"true_odds,omitempty"`
	EVPercentage *float64 `json:"ev_percentage,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Field aliases observed across backend response variants. First hit wins.
var (
	idAliases       = []string{"betId", "bet_id", "id", "uid", "uuid"}
	gameAliases     = []string{"game", "match", "event"}
	gameTimeAliases = []string{"gameTime", "game_time", "startTime", "start_time", "time"}
	playerAliases   = []string{"player", "playerName", "player_name"}
	betTypeAliases  = []string{"betType", "bet_type", "market", "type"}
	propAliases     = []string{"prop", "propType", "prop_type", "line"}
	oddsAliases     = []string{"oddsOffered", "odds_offered", "odds", "price"}
	trueOddsAliases = []string{"trueOdds", "true_odds", "fairOdds", "fair_odds"}
	evAliases       = []string{"evPercentage", "ev_percentage", "evPercent", "ev"}
	confAliases     = []string{"confidence", "conf"}
)

// Normalize maps a loosely-typed backend record onto a strict BetRecord.
// Aliased field names are collapsed here, once, so consumers never deal with
// payload variants. Returns an error for records missing the fields every
// variant is expected to carry.
func Normalize(raw map[string]interface{}) (BetRecord, error) {
	rec := BetRecord{
		ID:           firstString(raw, idAliases),
		Game:         firstString(raw, gameAliases),
		GameTime:     firstString(raw, gameTimeAliases),
		Player:       firstString(raw, playerAliases),
		BetType:      firstString(raw, betTypeAliases),
		Prop:         firstString(raw, propAliases),
		TrueOdds:     firstFloat(raw, trueOddsAliases),
		EVPercentage: firstFloat(raw, evAliases),
		Confidence:   firstFloat(raw, confAliases),
	}

	odds := firstFloat(raw, oddsAliases)
	if odds != nil {
		rec.OddsOffered = *odds
	}

	if rec.Game == "" && rec.Player == "" && rec.Prop == "" {
		return BetRecord{}, errors.New("record carries none of game/player/prop")
	}

	if rec.ID == "" {
		// Best-effort composite key; not guaranteed unique. Duplicate
		// detection downstream is the safety net.
		rec.ID = CompositeKey(rec.Game, rec.Player, rec.Prop)
		rec.SyntheticID = true
	}

	return rec, nil
}

// CompositeKey builds the synthetic fallback identifier from the three
// required matching fields.
func CompositeKey(game, player, prop string) string {
	return fmt.Sprintf("%s_%s_%s",
		strings.TrimSpace(game), strings.TrimSpace(player), strings.TrimSpace(prop))
}

// Validate checks record field constraints.
func (r *BetRecord) Validate() error {
	if r.ID == "" {
		return errors.New("record ID must not be empty")
	}
	if r.Game == "" {
		return errors.New("game must not be empty")
	}
	if r.Player == "" {
		return errors.New("player must not be empty")
	}
	if r.OddsOffered != 0 && r.OddsOffered <= 1 {
		return errors.New("odds offered must be greater than 1")
	}
	if r.TrueOdds != nil && *r.TrueOdds <= 1 {
		return errors.New("true odds must be greater than 1")
	}
	if r.Confidence != nil && *r.Confidence < 0 {
		return errors.New("confidence must not be negative")
	}
	return nil
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int:
			return strconv.Itoa(s)
		}
	}
	return ""
}

func firstFloat(raw map[string]interface{}, keys []string) *float64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			f := n
			return &f
		case int:
			f := float64(n)
			return &f
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// Float returns a pointer to v; convenience for building records in tests and
// normalization code.
func Float(v float64) *float64 { return &v }
