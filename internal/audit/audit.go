// Package audit defines the append-only processing trail. One entry is
// written per processing attempt; entries are never mutated or deleted.
package audit

import (
	"context"

	"github.com/flowhook/reactor/internal/model"
)

// Log records processing outcomes and serves recent history.
type Log interface {
	// Append writes one immutable entry. The implementation fills ID and
	// CreatedAt when unset.
	Append(ctx context.Context, entry *model.AuditEntry) error

	// Recent returns the newest entries, newest first, at most limit.
	Recent(ctx context.Context, limit int) ([]model.AuditEntry, error)
}
