package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowhook/reactor/internal/api/respond"
	"github.com/flowhook/reactor/internal/engine"
	"github.com/flowhook/reactor/internal/model"
)

// WebhookConfig controls transport-level verification on POST /wh.
type WebhookConfig struct {
	Secret       string
	RequireSig   bool
	UseTimestamp bool
	TSSkew       time.Duration
	BodyLimit    int64
}

// WebhookHandler adapts inbound transport payloads to reaction events and
// feeds them to the engine.
type WebhookHandler struct {
	engine *engine.Engine
	cfg    WebhookConfig
	log    zerolog.Logger
}

// NewWebhookHandler creates the handler for POST /wh.
func NewWebhookHandler(eng *engine.Engine, cfg WebhookConfig, log zerolog.Logger) *WebhookHandler {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}
	if cfg.TSSkew <= 0 {
		cfg.TSSkew = 5 * time.Minute
	}
	return &WebhookHandler{engine: eng, cfg: cfg, log: log}
}

// envelope tolerates field-name variation between transport versions: every
// field has a snake_case and a camelCase spelling, first non-empty wins.
type envelope struct {
	EventType   string `json:"event_type"`
	EventTypeC  string `json:"eventType"`
	DeliveryID  string `json:"delivery_id"`
	DeliveryIDC string `json:"deliveryId"`
	MessageID   string `json:"message_id"`
	MessageIDC  string `json:"messageId"`
	ChatJID     string `json:"chat_jid"`
	ChatJIDC    string `json:"chatJid"`
	SenderJID   string `json:"sender_jid"`
	SenderJIDC  string `json:"senderJid"`
	Emoji       string `json:"emoji"`
	Reaction    string `json:"reaction"`
	Text        string `json:"text"`
	Content     string `json:"content"`
	InstanceID  string `json:"instance_id"`
	InstanceIDC string `json:"instanceId"`
	At          string `json:"at"`
	Timestamp   string `json:"timestamp"`
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (e envelope) toEvent() model.ReactionEvent {
	ev := model.ReactionEvent{
		MessageID:  first(e.MessageID, e.MessageIDC),
		ChatJID:    model.Identity(first(e.ChatJID, e.ChatJIDC)),
		ReactorJID: model.Identity(first(e.SenderJID, e.SenderJIDC)),
		Emoji:      first(e.Emoji, e.Reaction),
		Content:    first(e.Text, e.Content),
		InstanceID: first(e.InstanceID, e.InstanceIDC),
		DeliveryID: first(e.DeliveryID, e.DeliveryIDC),
	}
	if raw := first(e.At, e.Timestamp); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			ev.Timestamp = ts
		} else if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ev.Timestamp = time.Unix(n, 0)
		}
	}
	return ev
}

// Receive handles POST /wh. Acknowledged outcomes return 200 so the
// transport stops redelivering; only a sink failure returns 502 to request
// another delivery.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.BodyLimit+1))
	if err != nil {
		respond.WriteBadRequest(w, "cannot read body")
		return
	}
	if int64(len(body)) > h.cfg.BodyLimit {
		respond.WriteError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	if h.cfg.UseTimestamp {
		if err := verifyTimestamp(r.Header.Get(HeaderTimestamp), h.cfg.TSSkew); err != nil {
			respond.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}
	if h.cfg.RequireSig {
		if !verifySignature(h.cfg.Secret, body, r.Header.Get(HeaderSignature)) {
			respond.WriteError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		respond.WriteBadRequest(w, "invalid JSON payload")
		return
	}

	res, err := h.engine.Process(r.Context(), env.toEvent())
	if err != nil {
		// Sink failure: ask the transport to redeliver.
		respond.WriteBadGateway(w, res.Detail)
		return
	}
	if res.Outcome == model.OutcomeMalformed {
		// Dropped for good; 400 tells the transport not to redeliver.
		respond.WriteBadRequest(w, res.Detail)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{
		"outcome":    string(res.Outcome),
		"deliveryId": res.DeliveryID,
		"ruleId":     res.RuleID,
		"ref":        res.SinkRef,
	})
}
