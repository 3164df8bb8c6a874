package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/stakesync/internal/cache"
	"github.com/rewired-gh/stakesync/internal/config"
	"github.com/rewired-gh/stakesync/internal/matcher"
	"github.com/rewired-gh/stakesync/internal/notify"
	"github.com/rewired-gh/stakesync/internal/remote"
	"github.com/rewired-gh/stakesync/internal/stake"
	"github.com/rewired-gh/stakesync/internal/storage"
	"github.com/rewired-gh/stakesync/internal/store"
	"github.com/rewired-gh/stakesync/internal/table"
)

type testHarness struct {
	url       string
	store     *store.Store
	cache     *cache.Cache
	engine    *stake.Engine
	client    *remote.Client
	surface   *notify.Surface
	persister *storage.Storage
}

func newTestServer(t *testing.T) *testHarness {
	t.Helper()
	persister, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { persister.Close() })
	s := store.New(persister, store.DefaultPolicy())
	c := cache.New()
	e := stake.NewEngine(s, c)
	r := table.NewReconciler(s, c, e, matcher.DefaultLayout())
	client := remote.NewClient(config.RemoteConfig{
		RestURL:    "http://unused.test",
		Timeout:    time.Second,
		MaxRetries: 1,
	})
	surface := notify.NewSurface()
	srv := New(config.IngestConfig{
		ListenAddr:   "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, s, c, e, r, nil, surface, client)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return &testHarness{
		url: ts.URL, store: s, cache: c, engine: e,
		client: client, surface: surface, persister: persister,
	}
}

func (h *testHarness) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.url+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func TestRecordsEndpoint(t *testing.T) {
	h := newTestServer(t)

	resp, body := h.do(t, http.MethodPost, "/v1/records", []map[string]interface{}{
		{"betId": "b1", "game": "A vs B", "player": "P1", "prop": "Points 10.5", "odds": 2.0, "ev": 10.0},
		{"odds": 1.5}, // malformed, skipped
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1.0, body["merged"])
	assert.Equal(t, 1.0, body["cache_size"])
	assert.Equal(t, 1, h.cache.Size())
}

func TestTableEndpoint(t *testing.T) {
	h := newTestServer(t)
	h.store.Set(store.PathBankroll, 1000.0)
	h.store.Set(store.PathKellyFraction, 0.25)
	h.cache.Merge([]map[string]interface{}{
		{"betId": "b1", "game": "A vs B", "player": "P1", "prop": "Points 10.5", "odds": 2.0, "ev": 10.0},
	})

	resp, body := h.do(t, http.MethodPost, "/v1/table", map[string]interface{}{
		"rows": []map[string]interface{}{
			{"cells": []string{"A vs B", "", "P1", "", "Points 10.5", ""}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rows, ok := body["rows"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "b1", row["bet_id"])
	injected := row["injected"].(map[string]interface{})
	assert.InDelta(t, 25.0, injected["stake_allowed"].(float64), 1e-9)
}

func TestStateEndpoints(t *testing.T) {
	h := newTestServer(t)

	resp, _ := h.do(t, http.MethodPut, "/v1/state/"+store.PathBankroll,
		map[string]interface{}{"value": 1500.0})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1500.0, h.store.Get(store.PathBankroll))

	// Non-whitelisted paths are not writable from outside.
	resp, _ = h.do(t, http.MethodPut, "/v1/state/"+store.PathActiveBanner,
		map[string]interface{}{"value": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := h.do(t, http.MethodGet, "/v1/state", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1500.0, body[store.PathBankroll])
	assert.Contains(t, body, store.PathActiveBanner)
}

func TestStakeEndpoint(t *testing.T) {
	h := newTestServer(t)

	resp, _ := h.do(t, http.MethodPost, "/v1/stakes/b1", map[string]interface{}{"amount": 12.5})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]float64{"b1": 12.5}, h.engine.Usage())

	resp, body := h.do(t, http.MethodPost, "/v1/stakes/b1", map[string]interface{}{"amount": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "negative")
}

func TestMixBetEndpoints(t *testing.T) {
	h := newTestServer(t)
	h.store.Set(store.PathBankroll, 1000.0)
	h.store.Set(store.PathKellyFraction, 0.25)
	h.cache.Merge([]map[string]interface{}{
		{"betId": "a", "game": "A vs B", "player": "P1", "prop": "Points 10.5", "odds": 2.0, "ev": 10.0},
		{"betId": "b", "game": "A vs B", "player": "P2", "prop": "Assists 3.5", "odds": 1.5, "ev": 5.0},
	})

	resp, _ := h.do(t, http.MethodPost, "/v1/mixbets", map[string]interface{}{
		"ids": []string{"a", "b"}, "amount": 10.0,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The same combination is refused the second time, as a 422.
	resp, body := h.do(t, http.MethodPost, "/v1/mixbets", map[string]interface{}{
		"ids": []string{"a", "b"}, "amount": 1.0,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["error"], "already used")

	resp, body = h.do(t, http.MethodPost, "/v1/mixbets/check", map[string]interface{}{
		"ids": []string{"a", "b", "c"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_used"])
	assert.Equal(t, []interface{}{"a", "b"}, body["blocked_ids"])
}

func TestLoginAndLogout(t *testing.T) {
	h := newTestServer(t)
	h.store.Set(store.PathBankroll, 1000.0)
	h.cache.Merge([]map[string]interface{}{
		{"betId": "b1", "game": "A vs B", "player": "P1", "prop": "Points 10.5"},
	})

	resp, _ := h.do(t, http.MethodPost, "/v1/login", map[string]interface{}{"user_id": "u1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	id, ok := h.client.Identity()
	assert.True(t, ok)
	assert.Equal(t, "u1", id)

	resp, _ = h.do(t, http.MethodPost, "/v1/login", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/v1/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok = h.client.Identity()
	assert.False(t, ok)
	assert.Equal(t, 0, h.cache.Size())
	assert.Nil(t, h.store.Get(store.PathBankroll))

	// The wipe reaches local storage too: a store initialized from the same
	// persister sees nothing of the previous session.
	stored, err := h.persister.GetAll()
	require.NoError(t, err)
	assert.Empty(t, stored)
	fresh := store.New(h.persister, store.DefaultPolicy())
	require.NoError(t, fresh.Init())
	assert.Nil(t, fresh.Get(store.PathBankroll))
}

func TestNotificationsEndpoint(t *testing.T) {
	h := newTestServer(t)
	h.surface.Push(notify.KindSnackbar, "bankroll set to %v by Alice", 2000.0)

	resp, err := http.Get(h.url + "/v1/notifications")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var notifications []notify.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&notifications))
	require.Len(t, notifications, 1)
	assert.Equal(t, "bankroll set to 2000 by Alice", notifications[0].Message)

	// Draining is destructive: a second fetch returns nothing.
	resp, err = http.Get(h.url + "/v1/notifications")
	require.NoError(t, err)
	defer resp.Body.Close()
	notifications = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&notifications))
	assert.Empty(t, notifications)
}
