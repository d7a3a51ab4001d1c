// Package api wires the HTTP surface: the inbound webhook and the small
// operational API (health, rules, audit, action lookup).
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/flowhook/reactor/internal/api/recovery"
	"github.com/flowhook/reactor/internal/audit"
	"github.com/flowhook/reactor/internal/engine"
	"github.com/flowhook/reactor/internal/health"
	"github.com/flowhook/reactor/internal/ledger"
	"github.com/flowhook/reactor/internal/rules"
)

// Deps carries everything the router needs.
type Deps struct {
	Engine  *engine.Engine
	Rules   *rules.Store
	Ledger  ledger.Ledger
	Audit   audit.Log
	Health  *health.ServiceChecker
	Webhook WebhookConfig
	Logger  zerolog.Logger
}

// NewRouter builds the service router with panic recovery applied to every
// route.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(recovery.Middleware)

	webhook := NewWebhookHandler(d.Engine, d.Webhook, d.Logger)
	r.HandleFunc("/wh", webhook.Receive).Methods(http.MethodPost)

	healthH := NewHealthHandler(d.Health)
	r.HandleFunc("/api/health", healthH.CheckHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/health/ledger", healthH.CheckLedger(d.Ledger)).Methods(http.MethodGet)

	rulesH := NewRulesHandler(d.Rules, d.Logger)
	r.HandleFunc("/api/rules", rulesH.List).Methods(http.MethodGet)
	r.HandleFunc("/api/rules/reload", rulesH.Reload).Methods(http.MethodPost)

	auditH := NewAuditHandler(d.Audit)
	r.HandleFunc("/api/audit", auditH.Recent).Methods(http.MethodGet)

	actionsH := NewActionsHandler(d.Ledger)
	r.HandleFunc("/api/actions/{deliveryId}", actionsH.Get).Methods(http.MethodGet)

	return r
}
