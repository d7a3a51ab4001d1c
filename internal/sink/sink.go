// Package sink delivers executed actions to the downstream action service
// (task tracker, calendar, notes). The engine and the retry worker both talk
// to it through the Sink interface so executions can be replayed from stored
// parameters alone.
package sink

import (
	"context"

	"github.com/flowhook/reactor/internal/model"
)

// Well-known parameter keys. Every value an execution needs must live in the
// rendered parameter map so a retry re-executes from the ledger row alone.
const (
	ParamTitle      = "title"
	ParamContent    = "content"
	ParamChatJID    = "chatJid"
	ParamSenderJID  = "senderJid"
	ParamEmoji      = "emoji"
	ParamMessageID  = "messageId"
	ParamStartAt    = "startAt" // RFC 3339
	ParamEndAt      = "endAt"   // RFC 3339, ranges only
	ParamConfidence = "confidence"
)

// Sink executes one action of the given kind. It returns the downstream
// reference (task id, event id, ...) on success. Errors for which a retry
// might succeed satisfy errors.Is(err, model.ErrSinkUnavailable).
type Sink interface {
	Execute(ctx context.Context, kind model.ActionKind, params map[string]string) (ref string, err error)
}
