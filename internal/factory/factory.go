// Package factory selects and constructs the configured ledger backend.
package factory

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/flowhook/reactor/internal/audit"
	"github.com/flowhook/reactor/internal/config"
	"github.com/flowhook/reactor/internal/ledger"
	"github.com/flowhook/reactor/internal/ledger/postgres"
	"github.com/flowhook/reactor/internal/ledger/sqlite"
)

// Store is the combined persistence surface: both backends serve the action
// ledger and the audit log from one database.
type Store interface {
	ledger.Ledger
	audit.Log
}

// NewStore opens the backend selected by cfg.DBDriver.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "factory: open sqlite")
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite ledger ready")
		return st, nil
	case "postgres":
		st, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, errors.Wrap(err, "factory: open postgres")
		}
		log.Info().Msg("postgres ledger ready")
		return st, nil
	default:
		return nil, errors.Errorf("factory: unsupported db driver %q", cfg.DBDriver)
	}
}
