// Package ingest exposes the local HTTP API the browser side talks to:
// intercepted record batches, table snapshots, state reads/writes, stake
// actions, and notifications.
package ingest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rewired-gh/stakesync/internal/cache"
	"github.com/rewired-gh/stakesync/internal/config"
	"github.com/rewired-gh/stakesync/internal/logger"
	"github.com/rewired-gh/stakesync/internal/notify"
	"github.com/rewired-gh/stakesync/internal/remote"
	"github.com/rewired-gh/stakesync/internal/stake"
	"github.com/rewired-gh/stakesync/internal/store"
	"github.com/rewired-gh/stakesync/internal/syncer"
	"github.com/rewired-gh/stakesync/internal/table"
)

// Server wires the core components behind the local ingest API.
type Server struct {
	store      *store.Store
	cache      *cache.Cache
	engine     *stake.Engine
	reconciler *table.Reconciler
	sync       *syncer.Reconciler
	surface    *notify.Surface
	client     *remote.Client

	httpServer *http.Server
}

// New creates the ingest server.
func New(cfg config.IngestConfig, s *store.Store, c *cache.Cache, e *stake.Engine,
	r *table.Reconciler, sy *syncer.Reconciler, surface *notify.Surface, client *remote.Client) *Server {

	srv := &Server{
		store:      s,
		cache:      c,
		engine:     e,
		reconciler: r,
		sync:       sy,
		surface:    surface,
		client:     client,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	router.Route("/v1", func(api chi.Router) {
		api.Post("/records", srv.handleRecords)
		api.Post("/table", srv.handleTable)
		api.Get("/state", srv.handleGetState)
		api.Put("/state/{path}", srv.handleSetState)
		api.Post("/stakes/{id}", srv.handleSetStake)
		api.Post("/mixbets", srv.handleApplyMixBet)
		api.Post("/mixbets/check", srv.handleCheckMixBet)
		api.Get("/notifications", srv.handleNotifications)
		api.Post("/login", srv.handleLogin)
		api.Post("/logout", srv.handleLogout)
	})

	srv.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.Info("Ingest API listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleRecords merges a batch of intercepted backend records into the cache.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	var raws []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		writeError(w, http.StatusBadRequest, "invalid record batch: "+err.Error())
		return
	}
	merged := s.cache.Merge(raws)
	// New records can change every derived cell; force a full next pass.
	s.reconciler.Invalidate()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"merged":     merged,
		"cache_size": s.cache.Size(),
	})
}

// handleTable runs one reconciliation pass over a table snapshot and returns
// the reconciled view.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	var snap table.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid table snapshot: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.reconciler.Reconcile(snap))
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]interface{})
	for _, path := range s.store.SyncPaths() {
		out[path] = s.store.Get(path)
	}
	out[store.PathActiveBanner] = s.store.Get(store.PathActiveBanner)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	if !s.store.ShouldSync(path) {
		writeError(w, http.StatusBadRequest, "unknown or read-only state path: "+path)
		return
	}
	var body struct {
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid state value: "+err.Error())
		return
	}
	s.store.Set(path, body.Value)
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "value": body.Value})
}

func (s *Server) handleSetStake(w http.ResponseWriter, r *http.Request) {
	betID := chi.URLParam(r, "id")
	var body struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid stake body: "+err.Error())
		return
	}
	if err := s.engine.SetStake(betID, body.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bet_id": betID, "amount": body.Amount})
}

func (s *Server) handleApplyMixBet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs    []string `json:"ids"`
		Amount float64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid mix-bet body: "+err.Error())
		return
	}
	if err := s.engine.ApplyCombination(body.IDs, body.Amount); err != nil {
		// A refusal, not a failure: relayed inline to the user.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"combination": stake.CombinationKey(body.IDs),
		"amount":      body.Amount,
	})
}

func (s *Server) handleCheckMixBet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid mix-bet body: "+err.Error())
		return
	}
	res := s.engine.Ledger().IsCombinationUsed(body.IDs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_used":     res.IsUsed,
		"blocked_ids": res.BlockedIDs,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.surface.Drain())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	s.client.SetIdentity(body.UserID)
	if s.sync != nil {
		if err := s.sync.Initialize(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, "sync initialization failed: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": body.UserID})
}

// handleLogout stops the sync reconciler, clears the session cache, and wipes
// synced state so the next login starts clean.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.sync != nil {
		s.sync.Stop()
	}
	s.cache.Clear()
	s.client.SetIdentity("")

	// Local-origin nils wipe memory and the persisted copies both, so the
	// next login never resurrects the previous account's values. The sync
	// reconciler is already stopped, so nothing is pushed.
	updates := make(map[string]interface{})
	for _, path := range s.store.SyncPaths() {
		updates[path] = nil
	}
	s.store.SetMultiple(updates)
	s.reconciler.Invalidate()

	writeJSON(w, http.StatusOK, map[string]interface{}{"logged_out": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
