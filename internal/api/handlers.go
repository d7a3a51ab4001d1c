package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flowhook/reactor/internal/api/respond"
	"github.com/flowhook/reactor/internal/audit"
	"github.com/flowhook/reactor/internal/health"
	"github.com/flowhook/reactor/internal/ledger"
	"github.com/flowhook/reactor/internal/model"
	"github.com/flowhook/reactor/internal/rules"
)

// HealthHandler serves the cached service and component health flags.
type HealthHandler struct {
	svc *health.ServiceChecker
}

func NewHealthHandler(svc *health.ServiceChecker) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// CheckHealth handles GET /api/health. Always 200; the body reports state.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, _ *http.Request) {
	status := "unhealthy"
	if h.svc.IsHealthy() {
		status = "healthy"
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": h.svc.Components(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// CheckLedger handles GET /api/health/ledger with a live probe.
func (h *HealthHandler) CheckLedger(led ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := led.Ping(ctx); err != nil {
			respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// RulesHandler serves rule administration.
type RulesHandler struct {
	store *rules.Store
	log   zerolog.Logger
}

func NewRulesHandler(store *rules.Store, log zerolog.Logger) *RulesHandler {
	return &RulesHandler{store: store, log: log}
}

// Reload handles POST /api/rules/reload. A failed reload keeps the previous
// snapshot and reports the parse error.
func (h *RulesHandler) Reload(w http.ResponseWriter, _ *http.Request) {
	if err := h.store.Reload(); err != nil {
		h.log.Error().Err(err).Msg("rules reload failed")
		respond.WriteBadRequest(w, err.Error())
		return
	}
	h.log.Info().Int("rules", h.store.Len()).Msg("rules reloaded")
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"rules": h.store.Len()})
}

// List handles GET /api/rules.
func (h *RulesHandler) List(w http.ResponseWriter, _ *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"rules": h.store.Snapshot()})
}

// AuditHandler serves the processing trail.
type AuditHandler struct {
	log audit.Log
}

func NewAuditHandler(log audit.Log) *AuditHandler { return &AuditHandler{log: log} }

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Recent handles GET /api/audit?limit=N.
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	entries, err := h.log.Recent(r.Context(), limit)
	if err != nil {
		respond.WriteInternalError(w, "audit query failed")
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ActionsHandler serves ledger records for operators.
type ActionsHandler struct {
	ledger ledger.Ledger
}

func NewActionsHandler(led ledger.Ledger) *ActionsHandler { return &ActionsHandler{ledger: led} }

// Get handles GET /api/actions/{deliveryId}.
func (h *ActionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	deliveryID := mux.Vars(r)["deliveryId"]
	rec, err := h.ledger.Get(r.Context(), deliveryID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "no action record for delivery")
			return
		}
		respond.WriteInternalError(w, "ledger query failed")
		return
	}
	respond.WriteJSON(w, http.StatusOK, rec)
}
