// Package syncer keeps the state store's whitelisted paths consistent with
// the remote multi-user datastore: local changes are pushed debounced, remote
// changes are applied loop-guarded.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/stakesync/internal/config"
	"github.com/rewired-gh/stakesync/internal/logger"
	"github.com/rewired-gh/stakesync/internal/notify"
	"github.com/rewired-gh/stakesync/internal/remote"
	"github.com/rewired-gh/stakesync/internal/stake"
	"github.com/rewired-gh/stakesync/internal/store"
)

// Config-table keys for scalar synced paths.
const (
	keyBankroll      = "bankroll"
	keyKellyFraction = "kellyFraction"
)

// pushTimeout bounds each outbound flush; upserts are fire-and-forget with
// logged failures, never retried beyond the client's own retry policy.
const pushTimeout = 10 * time.Second

// Reconciler is the bidirectional bridge between the state store and the
// remote datastore.
type Reconciler struct {
	store   *store.Store
	client  *remote.Client
	feed    *remote.Feed
	surface *notify.Surface
	cfg     config.SyncConfig

	mu          sync.Mutex
	initialized bool
	unsubscribe func()
	timer       *time.Timer
	batch       *Batcher
	names       *nameCache
}

// New creates a sync reconciler. Call Initialize after login and Stop on
// logout.
func New(s *store.Store, client *remote.Client, feed *remote.Feed, surface *notify.Surface, cfg config.SyncConfig) *Reconciler {
	return &Reconciler{
		store:   s,
		client:  client,
		feed:    feed,
		surface: surface,
		cfg:     cfg,
		batch:   NewBatcher(),
		names:   newNameCache(client, cfg.ProfilesTable),
	}
}

// Initialize performs one full pull of remote state into the store (marked
// remote-origin) and then subscribes to the realtime feed, so the local store
// starts consistent. Idempotent; requires an authenticated identity.
func (r *Reconciler) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}
	userID, ok := r.client.Identity()
	if !ok {
		return fmt.Errorf("sync requires an authenticated identity")
	}

	if err := r.pullAll(ctx, userID); err != nil {
		return fmt.Errorf("initial pull failed: %w", err)
	}

	notMe := "user_id=neq." + userID
	tables := map[string]remote.ChangeHandler{
		r.cfg.ConfigTable:  r.handleConfigChange,
		r.cfg.StakesTable:  r.handleStakeChange,
		r.cfg.MixBetsTable: r.handleMixBetChange,
	}
	for table, handler := range tables {
		if err := r.feed.Subscribe(table, notMe, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", table, err)
		}
	}

	r.unsubscribe = r.store.Subscribe(r.onLocalChange)
	r.initialized = true
	logger.Info("Sync reconciler initialized for user %s", truncateID(userID))
	return nil
}

// Stop tears down the realtime subscriptions, cancels any pending debounce,
// and clears pending state. Must be called on logout so a stale identity
// never syncs another account's edits.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.batch.Cancel()
	for _, table := range []string{r.cfg.ConfigTable, r.cfg.StakesTable, r.cfg.MixBetsTable} {
		r.feed.Unsubscribe(table)
	}
	r.initialized = false
	logger.Info("Sync reconciler stopped")
}

// onLocalChange accumulates whitelisted, locally-originated changes and
// (re)starts the debounce timer. Remote-origin changes never re-trigger the
// outbound path.
func (r *Reconciler) onLocalChange(_ *store.Store, ch store.Change) {
	if ch.FromRemote || !r.store.ShouldSync(ch.Path) {
		return
	}
	r.batch.Add(ch.Path, ch.NewValue, ch.OldValue)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.cfg.Debounce, r.flush)
}

// flush pushes every pending path to its mapped remote table.
func (r *Reconciler) flush() {
	pending := r.batch.Flush()
	if len(pending) == 0 {
		return
	}
	userID, ok := r.client.Identity()
	if !ok {
		logger.Warn("Dropping %d pending sync paths: no identity", len(pending))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	for path, change := range pending {
		var err error
		switch path {
		case store.PathBankroll:
			err = r.pushConfig(ctx, userID, keyBankroll, change.NewValue)
		case store.PathKellyFraction:
			err = r.pushConfig(ctx, userID, keyKellyFraction, change.NewValue)
		case store.PathStakeUsage:
			err = r.pushStakeUsage(ctx, userID, change)
		case store.PathMixBetCombinations:
			err = r.pushMixBets(ctx, userID, change.NewValue)
		default:
			logger.Warn("No remote mapping for synced path %s", path)
		}
		if err != nil {
			logger.Error("Failed to push %s: %v", path, err)
			r.surface.Push(notify.KindSnackbar, "Sync failed for %s: %v", path, err)
		}
	}
}

func (r *Reconciler) pushConfig(ctx context.Context, userID, key string, value interface{}) error {
	return r.client.Upsert(ctx, r.cfg.ConfigTable, "user_id,key", map[string]interface{}{
		"user_id": userID,
		"key":     key,
		"value":   value,
	})
}

// pushStakeUsage upserts one row per changed key and deletes rows for keys
// removed locally.
func (r *Reconciler) pushStakeUsage(ctx context.Context, userID string, change PendingChange) error {
	newUsage := stake.UsageMap(change.NewValue)
	oldUsage := stake.UsageMap(change.OldValue)

	var firstErr error
	for betID, amount := range newUsage {
		if old, ok := oldUsage[betID]; ok && old == amount {
			continue
		}
		err := r.client.Upsert(ctx, r.cfg.StakesTable, "user_id,bet_id", map[string]interface{}{
			"user_id": userID,
			"bet_id":  betID,
			"amount":  amount,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for betID := range oldUsage {
		if _, ok := newUsage[betID]; ok {
			continue
		}
		err := r.client.Delete(ctx, r.cfg.StakesTable, remote.Filter{
			"user_id": userID,
			"bet_id":  betID,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pushMixBets fully replaces the remote combination set. The local value is
// an opaque array of combination keys, so there is no per-key diff to apply.
func (r *Reconciler) pushMixBets(ctx context.Context, userID string, value interface{}) error {
	if err := r.client.Delete(ctx, r.cfg.MixBetsTable, remote.Filter{"user_id": userID}); err != nil {
		return err
	}
	keys := stake.CombinationKeys(value)
	rows := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, map[string]interface{}{
			"user_id":     userID,
			"combination": key,
		})
	}
	return r.client.BulkInsert(ctx, r.cfg.MixBetsTable, rows)
}

// pullAll loads remote state for userID into the store, marked remote-origin.
func (r *Reconciler) pullAll(ctx context.Context, userID string) error {
	byUser := remote.Filter{"user_id": userID}

	var configRows []struct {
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	}
	if err := r.client.Select(ctx, r.cfg.ConfigTable, byUser, &configRows); err != nil {
		return err
	}
	updates := make(map[string]interface{})
	for _, row := range configRows {
		if path, ok := configKeyPath(row.Key); ok {
			updates[path] = row.Value
		}
	}

	var stakeRows []struct {
		BetID  string  `json:"bet_id"`
		Amount float64 `json:"amount"`
	}
	if err := r.client.Select(ctx, r.cfg.StakesTable, byUser, &stakeRows); err != nil {
		return err
	}
	usage := make(map[string]interface{}, len(stakeRows))
	for _, row := range stakeRows {
		usage[row.BetID] = row.Amount
	}
	updates[store.PathStakeUsage] = usage

	combos, err := r.selectCombinations(ctx, userID)
	if err != nil {
		return err
	}
	updates[store.PathMixBetCombinations] = combos

	r.store.SetMultiple(updates, store.SetOptions{FromRemote: true})
	logger.Info("Pulled remote state: %d config rows, %d stakes, %d combinations",
		len(configRows), len(stakeRows), len(stake.CombinationKeys(combos)))
	return nil
}

func (r *Reconciler) selectCombinations(ctx context.Context, userID string) (interface{}, error) {
	var rows []struct {
		Combination string `json:"combination"`
	}
	err := r.client.Select(ctx, r.cfg.MixBetsTable, remote.Filter{"user_id": userID}, &rows)
	if err != nil {
		return nil, err
	}
	combos := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		combos = append(combos, row.Combination)
	}
	return combos, nil
}

// handleConfigChange applies a remote scalar-config change.
func (r *Reconciler) handleConfigChange(ev remote.ChangeEvent) {
	row := ev.Row
	if ev.Type == "DELETE" {
		row = ev.OldRow
	}
	key, _ := row["key"].(string)
	path, ok := configKeyPath(key)
	if !ok {
		return
	}

	if ev.Type == "DELETE" {
		r.store.Set(path, nil, store.SetOptions{FromRemote: true})
		return
	}
	value := row["value"]
	r.store.Set(path, value, store.SetOptions{FromRemote: true})
	r.notifyRemoteEdit(row, "%s set to %v", key, value)
}

// handleStakeChange applies a remote stake-usage change to the usage map.
func (r *Reconciler) handleStakeChange(ev remote.ChangeEvent) {
	usage := stake.UsageMap(r.store.Get(store.PathStakeUsage))
	switch ev.Type {
	case "DELETE":
		betID, _ := ev.OldRow["bet_id"].(string)
		if betID == "" {
			return
		}
		delete(usage, betID)
	default:
		betID, _ := ev.Row["bet_id"].(string)
		if betID == "" {
			return
		}
		amount, _ := ev.Row["amount"].(float64)
		usage[betID] = amount
		r.notifyRemoteEdit(ev.Row, "stake for %s set to %.2f", betID, amount)
	}

	value := make(map[string]interface{}, len(usage))
	for id, amount := range usage {
		value[id] = amount
	}
	r.store.Set(store.PathStakeUsage, value, store.SetOptions{FromRemote: true})
}

// handleMixBetChange reloads the full combination collection after any remote
// write; single events cannot be applied incrementally to a replace-all set.
func (r *Reconciler) handleMixBetChange(ev remote.ChangeEvent) {
	userID, ok := r.client.Identity()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	combos, err := r.selectCombinations(ctx, userID)
	if err != nil {
		logger.Error("Failed to reload mix-bet combinations: %v", err)
		return
	}
	r.store.Set(store.PathMixBetCombinations, combos, store.SetOptions{FromRemote: true})
	r.notifyRemoteEdit(ev.Row, "mix-bet combinations updated")
}

func (r *Reconciler) notifyRemoteEdit(row map[string]interface{}, format string, args ...interface{}) {
	author := ""
	if userID, ok := row["user_id"].(string); ok && userID != "" {
		author = r.names.displayName(userID)
	}
	msg := fmt.Sprintf(format, args...)
	if author != "" {
		r.surface.Push(notify.KindSnackbar, "%s (by %s)", msg, author)
	} else {
		r.surface.Push(notify.KindSnackbar, "%s", msg)
	}
}

func configKeyPath(key string) (string, bool) {
	switch key {
	case keyBankroll:
		return store.PathBankroll, true
	case keyKellyFraction:
		return store.PathKellyFraction, true
	}
	return "", false
}
